package ghostbuster

import (
	"crypto/x509"
	"os"
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

// Record is a validated Ghostbusters record: the vCard body, carried
// through verbatim and never parsed.
type Record struct {
	VCard []byte
}

// Input bundles everything Validate needs for the CA whose manifest
// listed this Ghostbusters record.
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

// Validate implements check_ghostbuster: the same current/backup
// fallback skeleton as pkg/rpki/roa and pkg/rpki/crl.
func Validate(in Input) (*Record, counters.Outcome) {
	if authPath, err := in.Installer.Roots.AuthPath(in.URI); err == nil {
		if rec, err := decodeInstalled(authPath); err == nil {
			return rec, counters.ValidationOK
		}
	}

	var lastRejected counters.Outcome
	haveRejection := false

	rec, outcome, present := tryCandidate(in, in.Installer.Roots.Unauthenticated,
		counters.CurrentGhostbusterAccepted, counters.CurrentGhostbusterRejected)
	if present {
		if rec != nil {
			return rec, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	rec, outcome, present = tryCandidate(in, in.Installer.Roots.OldAuthenticated,
		counters.BackupGhostbusterAccepted, counters.BackupGhostbusterRejected)
	if present {
		if rec != nil {
			return rec, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	if haveRejection {
		return nil, lastRejected
	}
	return nil, counters.CurrentGhostbusterRejected
}

func decodeInstalled(path string) (*Record, error) {
	sd, _, err := objreader.CMSObject(path, cms.IDCTRPKIGhostbusters)
	if err != nil {
		return nil, err
	}
	return &Record{VCard: sd.Content}, nil
}

func tryCandidate(in Input, root string, acceptedOutcome, rejectedOutcome counters.Outcome) (*Record, counters.Outcome, bool) {
	filePath, err := in.Installer.Roots.Path(root, in.URI)
	if err != nil {
		return nil, counters.ValidationOK, false
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, counters.ValidationOK, false
	}

	sd, hash, err := objreader.CMSObject(filePath, cms.IDCTRPKIGhostbusters)
	if err != nil {
		return nil, counters.GhostbusterCMSContentTypeMismatch, true
	}
	if in.ExpectedHash != nil && hash != *in.ExpectedHash {
		return nil, counters.GhostbusterDigestMismatch, true
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

	if err := in.Installer.Install(filePath, in.URI); err != nil {
		return nil, rejectedOutcome, true
	}
	return &Record{VCard: sd.Content}, acceptedOutcome, true
}
