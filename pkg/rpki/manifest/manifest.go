package manifest

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"os"
	"path"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/certinfo"
	"github.com/relyingparty/rcynic/pkg/rpki/cms"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/crl"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/objreader"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
)

var sha256OID = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

// Entry is one (filename, hash) pair listed in a manifest.
type Entry struct {
	Filename string
	Hash     objreader.Hash
}

// Manifest is a validated manifest's file listing.
type Manifest struct {
	ThisUpdate time.Time
	NextUpdate time.Time
	Entries    []Entry
}

// EntryHash looks up filename's listed hash, if any.
func (m *Manifest) EntryHash(filename string) (objreader.Hash, bool) {
	for _, e := range m.Entries {
		if e.Filename == filename {
			return e.Hash, true
		}
	}
	return objreader.Hash{}, false
}

type rawFileAndHash struct {
	File string
	Hash asn1.BitString
}

type rawManifest struct {
	Version        int `asn1:"optional,explicit,default:0,tag:0"`
	ManifestNumber *big.Int
	ThisUpdate     time.Time
	NextUpdate     time.Time
	FileHashAlg    asn1.ObjectIdentifier
	FileList       []rawFileAndHash
}

// Input bundles everything Validate (check_manifest, spec.md §4.8)
// needs for the CA whose publication point this manifest describes.
type Input struct {
	Installer staging.Installer
	URI       string
	CAInfo    *certinfo.Info
	Chain     []*x509.Certificate // trust anchor .. the CA certificate itself
	CACert    *x509.Certificate
	Policy    verify.Policy
	Stale     *fetchcache.StaleSet
	Now       time.Time
}

// Validate implements spec.md §4.8. If an already-validated copy exists
// under authenticated/, it is decoded and returned without
// re-verification.
func Validate(in Input) (*Manifest, counters.Outcome) {
	if authPath, err := in.Installer.Roots.AuthPath(in.URI); err == nil {
		if m, err := decodeInstalled(authPath); err == nil {
			return m, counters.ValidationOK
		}
	}

	var lastRejected counters.Outcome
	haveRejection := false

	m, outcome, present := tryCandidate(in, in.Installer.Roots.Unauthenticated,
		counters.CurrentManifestAccepted, counters.CurrentManifestRejected)
	if present {
		if m != nil {
			return m, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	m, outcome, present = tryCandidate(in, in.Installer.Roots.OldAuthenticated,
		counters.BackupManifestAccepted, counters.BackupManifestRejected)
	if present {
		if m != nil {
			return m, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	if haveRejection {
		return nil, lastRejected
	}
	return nil, counters.CurrentManifestRejected
}

func decodeInstalled(path string) (*Manifest, error) {
	sd, _, err := objreader.CMSObject(path, cms.IDCTRPKIManifest)
	if err != nil {
		return nil, err
	}
	return decodeBody(sd.Content)
}

func tryCandidate(in Input, root string, acceptedOutcome, rejectedOutcome counters.Outcome) (*Manifest, counters.Outcome, bool) {
	filePath, err := in.Installer.Roots.Path(root, in.URI)
	if err != nil {
		return nil, counters.ValidationOK, false
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, counters.ValidationOK, false
	}

	sd, _, err := objreader.CMSObject(filePath, cms.IDCTRPKIManifest)
	if err != nil {
		return nil, counters.ManifestCMSContentTypeMismatch, true
	}
	if err := sd.VerifySignature(); err != nil {
		return nil, rejectedOutcome, true
	}
	eeCert, err := sd.SingleEECert()
	if err != nil {
		return nil, counters.ManifestEECertCountInvalid, true
	}
	eeInfo := certinfo.Parse(eeCert, in.URI)
	if eeInfo.CRLDP == "" {
		return nil, counters.CRLDPMissing, true
	}

	body, bodyOutcome := decodeBodyChecked(sd.Content)
	if bodyOutcome != counters.ValidationOK {
		return nil, bodyOutcome, true
	}

	if body.ThisUpdate.After(in.Now) {
		return nil, counters.ManifestNotYetValid, true
	}
	if body.NextUpdate.Before(in.Now) {
		if !in.Policy.AllowStaleManifest {
			return nil, counters.StaleManifest, true
		}
		if in.Stale != nil {
			in.Stale.MarkAndCheck(in.URI)
		}
	}

	crlFilename := path.Base(eeInfo.CRLDP)
	var expectedHash *objreader.Hash
	if h, ok := body.EntryHash(crlFilename); ok {
		expectedHash = &h
	} else if in.Policy.RequireCRLInManifest {
		return nil, counters.CRLNotInManifest, true
	}

	crlObj, crlOutcome := crl.Validate(in.Installer, eeInfo.CRLDP, in.CACert, expectedHash)
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

	if err := in.Installer.Install(filePath, in.URI); err != nil {
		return nil, rejectedOutcome, true
	}
	return body, acceptedOutcome, true
}

func decodeBody(content []byte) (*Manifest, error) {
	m, outcome := decodeBodyChecked(content)
	if outcome != counters.ValidationOK {
		return nil, fmt.Errorf("manifest: decode failed: %s", outcome)
	}
	return m, nil
}

// decodeBodyChecked decodes the manifest body and classifies any
// malformation as a specific rejection outcome rather than a bare error.
func decodeBodyChecked(content []byte) (*Manifest, counters.Outcome) {
	var raw rawManifest
	if _, err := asn1.Unmarshal(content, &raw); err != nil {
		return nil, counters.ManifestWrongVersion
	}
	if raw.Version != 0 {
		return nil, counters.ManifestWrongVersion
	}
	if !raw.FileHashAlg.Equal(sha256OID) {
		return nil, counters.ManifestFileHashAlgMismatch
	}

	m := &Manifest{ThisUpdate: raw.ThisUpdate, NextUpdate: raw.NextUpdate}
	for _, fh := range raw.FileList {
		var h objreader.Hash
		copy(h[:], fh.Hash.Bytes)
		m.Entries = append(m.Entries, Entry{Filename: fh.File, Hash: h})
	}
	return m, counters.ValidationOK
}
