package certinfo

import (
	"crypto/x509"
	"encoding/asn1"

	"github.com/relyingparty/rcynic/pkg/rpki/uri"
)

// Extension OIDs this parser cares about. crypto/x509 already decodes
// Basic Constraints and AIA's caIssuers access into Go fields; SIA is an
// RPKI-specific extension the standard library does not parse, so it is
// walked here by hand, using the same AccessDescription shape as AIA.
var (
	oidSIA = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}

	oidAccessCARepository = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 5}
	oidAccessRPKIManifest = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 10}
)

const uriGeneralNameTag = 6 // GeneralName ::= CHOICE { ..., uniformResourceIdentifier [6] IA5String, ... }

// Info is the reduced view of a parsed certificate the rest of the
// validator consults: spec.md §4.3.
type Info struct {
	URI string // the URI this certificate was fetched from

	IsCA bool

	AIACaIssuers string // AIA caIssuers access location, if any

	SIACARepository  string // SIA caRepository access location, if any
	SIARPKIManifest  string // SIA rpkiManifest access location, if any

	CRLDP string // the sole rsync URI in the (sole) CRLDP distribution point

	MalformedCRLDP bool // true if CRLDP was present but didn't fit the one-DP/rsync-fullname shape

	URITooLong bool // an AIA/SIA/CRLDP URI was rsync but overflowed the URI bound, spec.md §4.3
}

// Parse reduces cert to an Info, recording the source uri it was fetched
// from. Non-rsync URIs inside AIA/SIA/CRLDP are silently skipped (the
// caller may log at verbose level); an rsync URI that would overflow the
// URI length bound is dropped from the result and flags URITooLong,
// which the caller maps to counters.URITooLong per spec.md §4.3.
func Parse(cert *x509.Certificate, sourceURI string) *Info {
	info := &Info{
		URI:  sourceURI,
		IsCA: cert.IsCA,
	}

	for _, u := range cert.IssuingCertificateURL {
		accept, tooLong := classifyURI(u)
		if tooLong {
			info.URITooLong = true
		}
		if accept {
			info.AIACaIssuers = u
			break
		}
	}

	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidSIA) {
			repo, manifest, malformed, tooLong := parseSIA(ext.Value)
			if tooLong {
				info.URITooLong = true
			}
			if !malformed {
				info.SIACARepository = repo
				info.SIARPKIManifest = manifest
			}
		}
	}

	crldp, malformed, tooLong := parseCRLDP(cert.RawTBSCertificate, cert.CRLDistributionPoints)
	info.CRLDP = crldp
	info.MalformedCRLDP = malformed
	if tooLong {
		info.URITooLong = true
	}

	return info
}

// accessDescription mirrors RFC 5280 §4.2.2.1's AccessDescription, used
// by both the AIA and SIA extensions.
type accessDescription struct {
	AccessMethod   asn1.ObjectIdentifier
	AccessLocation asn1.RawValue
}

// parseSIA walks a SubjectInfoAccessSyntax (SEQUENCE OF AccessDescription)
// and extracts the caRepository and rpkiManifest rsync URIs, per
// spec.md §4.3.
func parseSIA(raw []byte) (repository, manifest string, malformed, tooLong bool) {
	var descs []accessDescription
	if _, err := asn1.Unmarshal(raw, &descs); err != nil {
		return "", "", true, false
	}

	for _, d := range descs {
		if d.AccessLocation.Tag != uriGeneralNameTag {
			continue
		}
		u := string(d.AccessLocation.Bytes)
		accept, over := classifyURI(u)
		if over {
			tooLong = true
		}
		if !accept {
			continue
		}
		switch {
		case d.AccessMethod.Equal(oidAccessCARepository):
			repository = u
		case d.AccessMethod.Equal(oidAccessRPKIManifest):
			manifest = u
		}
	}
	return repository, manifest, false, tooLong
}

// parseCRLDP re-derives, from the TBS certificate bytes, whether the
// CRLDP extension contained exactly one DistributionPoint: Go's
// crypto/x509 flattens all distribution points' URIs into one slice, so
// the "exactly one DP" shape check is done here by re-parsing the raw
// extension rather than trusting the flattened list's length (a
// single DP can legitimately carry more than one fullName URI).
func parseCRLDP(tbsRaw []byte, flattened []string) (dpURI string, malformed, tooLong bool) {
	if len(flattened) == 0 {
		return "", false, false
	}

	dps, err := extractCRLDPExtension(tbsRaw)
	if err != nil || len(dps) != 1 {
		return "", true, false
	}

	for _, u := range flattened {
		accept, over := classifyURI(u)
		if over {
			tooLong = true
		}
		if accept {
			return u, false, tooLong
		}
	}
	// present but no rsync fullname entry: still malformed per the
	// "must contain at least one rsync URI" requirement.
	return "", true, tooLong
}

var oidCRLDP = asn1.ObjectIdentifier{2, 5, 29, 31}

// extractCRLDPExtension locates the CRLDP extension among the TBS
// certificate's extensions and returns its distribution-point count by
// unmarshalling the CRLDistributionPoints SEQUENCE OF DistributionPoint.
// A minimal, targeted walk rather than a full TBS grammar: it scans the
// extension list directly via Go's extension-aware RawValue tagging.
func extractCRLDPExtension(tbsRaw []byte) ([]asn1.RawValue, error) {
	type extension struct {
		ID       asn1.ObjectIdentifier
		Critical bool `asn1:"optional"`
		Value    []byte
	}
	type tbs struct {
		Raw          asn1.RawContent
		Version      int           `asn1:"optional,explicit,default:0,tag:0"`
		SerialNumber asn1.RawValue
		Signature    asn1.RawValue
		Issuer       asn1.RawValue
		Validity     asn1.RawValue
		Subject      asn1.RawValue
		PublicKey    asn1.RawValue
		UniqueID1    asn1.RawValue `asn1:"optional,tag:1"`
		UniqueID2    asn1.RawValue `asn1:"optional,tag:2"`
		Extensions   []extension   `asn1:"optional,explicit,tag:3"`
	}

	var t tbs
	if _, err := asn1.Unmarshal(tbsRaw, &t); err != nil {
		return nil, err
	}

	for _, ext := range t.Extensions {
		if !ext.ID.Equal(oidCRLDP) {
			continue
		}
		var dps []asn1.RawValue
		if _, err := asn1.Unmarshal(ext.Value, &dps); err != nil {
			return nil, err
		}
		return dps, nil
	}
	return nil, nil
}

// classifyURI reports how u, found in an AIA/SIA/CRLDP access location,
// should be treated: accept is true only for an rsync:// URI within the
// URI length bound. A non-rsync URI is silently skipped (neither accept
// nor tooLong). An rsync URI at or past the bound is distinct from that
// silent-skip case: it is never accepted, and tooLong is set so the
// caller can surface uri_too_long instead of dropping it unnoticed,
// per spec.md §4.3.
func classifyURI(u string) (accept, tooLong bool) {
	if !uri.IsRsync(u) {
		return false, false
	}
	if len(u) >= uri.MaxURILength {
		return false, true
	}
	return true, false
}
