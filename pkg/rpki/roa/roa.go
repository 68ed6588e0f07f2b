package roa

import (
	"crypto/x509"
	"encoding/asn1"
	"net/netip"
	"os"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/certinfo"
	"github.com/relyingparty/rcynic/pkg/rpki/cms"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/crl"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/objreader"
	"github.com/relyingparty/rcynic/pkg/rpki/resources"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
)

// Prefix is one authorized prefix entry: the address block itself plus
// the maximum prefix length a route announcement covered by it may use.
type Prefix struct {
	Prefix    netip.Prefix
	MaxLength int
}

// ROA is a validated Route Origin Attestation's content: the origin AS
// and the prefixes it is authorized to announce.
type ROA struct {
	ASN      uint32
	Prefixes []Prefix
}

type rawROAAddr struct {
	Address   asn1.BitString
	MaxLength int `asn1:"optional"`
}

type rawROAFamily struct {
	AddressFamily []byte
	Addresses     []rawROAAddr
}

type rawROA struct {
	Version      int `asn1:"optional,explicit,default:0,tag:0"`
	ASID         int
	IPAddrBlocks []rawROAFamily
}

// Input bundles everything Validate (check_roa, spec.md §4.9) needs for
// the CA whose manifest listed this ROA.
type Input struct {
	Installer    staging.Installer
	URI          string
	CAInfo       *certinfo.Info
	Chain        []*x509.Certificate // trust anchor .. the issuing CA certificate
	CACert       *x509.Certificate
	Policy       verify.Policy
	Stale        *fetchcache.StaleSet
	ExpectedHash *objreader.Hash
	Now          time.Time
}

// Validate implements check_roa: prefer an already installed copy, then
// try the fresh copy, then the backup copy. The first copy that parses,
// matches ExpectedHash (if given), verifies, and nests inside its EE
// certificate's resources is installed and returned.
func Validate(in Input) (*ROA, counters.Outcome) {
	if authPath, err := in.Installer.Roots.AuthPath(in.URI); err == nil {
		if r, err := decodeInstalled(authPath); err == nil {
			return r, counters.ValidationOK
		}
	}

	var lastRejected counters.Outcome
	haveRejection := false

	r, outcome, present := tryCandidate(in, in.Installer.Roots.Unauthenticated,
		counters.CurrentROAAccepted, counters.CurrentROARejected)
	if present {
		if r != nil {
			return r, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	r, outcome, present = tryCandidate(in, in.Installer.Roots.OldAuthenticated,
		counters.BackupROAAccepted, counters.BackupROARejected)
	if present {
		if r != nil {
			return r, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	if haveRejection {
		return nil, lastRejected
	}
	return nil, counters.CurrentROARejected
}

func decodeInstalled(path string) (*ROA, error) {
	sd, _, err := objreader.CMSObject(path, cms.IDCTRouteOriginAttestation)
	if err != nil {
		return nil, err
	}
	r, outcome := decodeBody(sd.Content)
	if outcome != counters.ValidationOK {
		return nil, errDecode(outcome)
	}
	return r, nil
}

func tryCandidate(in Input, root string, acceptedOutcome, rejectedOutcome counters.Outcome) (*ROA, counters.Outcome, bool) {
	filePath, err := in.Installer.Roots.Path(root, in.URI)
	if err != nil {
		return nil, counters.ValidationOK, false
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, counters.ValidationOK, false
	}

	sd, hash, err := objreader.CMSObject(filePath, cms.IDCTRouteOriginAttestation)
	if err != nil {
		return nil, counters.ROACMSContentTypeMismatch, true
	}
	if in.ExpectedHash != nil && hash != *in.ExpectedHash {
		return nil, counters.ROADigestMismatch, true
	}
	if err := sd.VerifySignature(); err != nil {
		return nil, rejectedOutcome, true
	}
	eeCert, err := sd.SingleEECert()
	if err != nil {
		return nil, rejectedOutcome, true
	}
	eeInfo := certinfo.Parse(eeCert, in.URI)
	if eeInfo.CRLDP == "" {
		return nil, counters.CRLDPMissing, true
	}

	body, bodyOutcome := decodeBody(sd.Content)
	if bodyOutcome != counters.ValidationOK {
		return nil, bodyOutcome, true
	}

	crlObj, crlOutcome := crl.Validate(in.Installer, eeInfo.CRLDP, in.CACert, nil)
	if crlOutcome != counters.ValidationOK &&
		crlOutcome != counters.CurrentCRLAccepted && crlOutcome != counters.BackupCRLAccepted {
		return nil, crlOutcome, true
	}

	outcome := verify.CheckCert(verify.Input{
		Chain:      in.Chain,
		Cert:       eeCert,
		Info:       eeInfo,
		IssuerInfo: in.CAInfo,
		CRL:        crlObj,
		IsTA:       false,
		IsCA:       false,
		Now:        in.Now,
		Policy:     in.Policy,
		Stale:      in.Stale,
	})
	if outcome != counters.ValidationOK {
		return nil, outcome, true
	}

	eeResources, err := resources.FromCertificate(eeCert)
	if err != nil {
		return nil, counters.ROANotNested, true
	}
	roaResources := resourceSet(body)
	if !eeResources.Contains(roaResources) {
		return nil, counters.ROANotNested, true
	}

	if err := in.Installer.Install(filePath, in.URI); err != nil {
		return nil, rejectedOutcome, true
	}
	return body, acceptedOutcome, true
}

// resourceSet builds the RFC 3779 set a ROA's prefixes describe, so it
// can be checked against the EE certificate's own resources with the
// same subset logic the verification engine uses between issuer and
// subject.
func resourceSet(r *ROA) *resources.Set {
	s := resources.NewSet()
	for _, p := range r.Prefixes {
		s.AddPrefix(p.Prefix)
	}
	s.Normalize()
	return s
}

func decodeBody(content []byte) (*ROA, counters.Outcome) {
	var raw rawROA
	if _, err := asn1.Unmarshal(content, &raw); err != nil {
		return nil, counters.ROAWrongVersion
	}
	if raw.Version != 0 {
		return nil, counters.ROAWrongVersion
	}

	r := &ROA{ASN: uint32(raw.ASID)}
	for _, fam := range raw.IPAddrBlocks {
		if len(fam.AddressFamily) < 1 {
			return nil, counters.MalformedROAAddressFamily
		}
		afi := int(fam.AddressFamily[0])
		if len(fam.AddressFamily) >= 2 {
			afi = int(fam.AddressFamily[0])<<8 | int(fam.AddressFamily[1])
		}
		size := addressSize(afi)
		if size == 0 {
			return nil, counters.MalformedROAAddressFamily
		}

		for _, addr := range fam.Addresses {
			if len(addr.Address.Bytes) > size || addr.Address.BitLength > size*8 {
				return nil, counters.MalformedROAAddressFamily
			}
			base := bitsToAddr(addr.Address, size)
			prefix := netip.PrefixFrom(base, addr.Address.BitLength)
			maxLength := addr.MaxLength
			if maxLength == 0 {
				maxLength = addr.Address.BitLength
			}
			r.Prefixes = append(r.Prefixes, Prefix{Prefix: prefix, MaxLength: maxLength})
		}
	}
	return r, counters.ValidationOK
}

func addressSize(afi int) int {
	switch afi {
	case 1:
		return 4
	case 2:
		return 16
	default:
		return 0
	}
}

// bitsToAddr expands an RFC 3779 address BIT STRING to a full-width
// address, zero-padding any bits past the encoded prefix length: the
// base address of the prefix the BIT STRING names.
func bitsToAddr(bs asn1.BitString, size int) netip.Addr {
	buf := make([]byte, size)
	copy(buf, bs.Bytes)
	a, _ := netip.AddrFromSlice(buf)
	if size == 4 {
		return a.Unmap()
	}
	return a
}

func errDecode(o counters.Outcome) error {
	return &decodeError{outcome: o}
}

type decodeError struct {
	outcome counters.Outcome
}

func (e *decodeError) Error() string {
	return "roa: " + e.outcome.String()
}
