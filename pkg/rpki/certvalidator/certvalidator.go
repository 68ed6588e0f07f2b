package certvalidator

import (
	"crypto/x509"
	"os"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/certinfo"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/crl"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/objreader"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
)

// Input bundles everything Validate needs for one certificate in the
// walk: the chain from the trust anchor down to and including the
// candidate's direct issuer, and the recheck tag set that marks certs
// previously accepted only from backup. The candidate's own CRL is
// resolved from its CRLDP extension, the same as every other object
// validator in pkg/rpki, rather than threaded in by the caller.
type Input struct {
	Installer   staging.Installer
	URI         string
	Chain       []*x509.Certificate
	IssuerCert  *x509.Certificate // direct issuer; nil only for the trust anchor
	IssuerInfo  *certinfo.Info
	IsTA        bool
	Policy      verify.Policy
	Stale       *fetchcache.StaleSet
	RecheckTags *fetchcache.RecheckTags
	Now         time.Time
}

// Validate implements check_cert, spec.md §4.12.
func Validate(in Input) (*x509.Certificate, *certinfo.Info, counters.Outcome) {
	tagged := in.RecheckTags != nil && in.RecheckTags.Tagged(in.URI)
	if authPath, err := in.Installer.Roots.AuthPath(in.URI); err == nil {
		if !tagged {
			if cert, _, err := objreader.Certificate(authPath); err == nil {
				return cert, certinfo.Parse(cert, in.URI), counters.ValidationOK
			}
		}
	}

	var lastRejected counters.Outcome
	haveRejection := false

	cert, info, outcome, present := tryCandidate(in, in.Installer.Roots.Unauthenticated,
		counters.CurrentCertAccepted, counters.CurrentCertRejected, false)
	if present {
		if cert != nil {
			return cert, info, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	cert, info, outcome, present = tryCandidate(in, in.Installer.Roots.OldAuthenticated,
		counters.BackupCertAccepted, counters.BackupCertRejected, true)
	if present {
		if cert != nil {
			return cert, info, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	if haveRejection {
		return nil, nil, lastRejected
	}
	return nil, nil, counters.CurrentCertRejected
}

func tryCandidate(in Input, root string, acceptedOutcome, rejectedOutcome counters.Outcome, fromBackup bool) (*x509.Certificate, *certinfo.Info, counters.Outcome, bool) {
	path, err := in.Installer.Roots.Path(root, in.URI)
	if err != nil {
		return nil, nil, counters.ValidationOK, false
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil, counters.ValidationOK, false
	}

	cert, _, err := objreader.Certificate(path)
	if err != nil {
		return nil, nil, rejectedOutcome, true
	}
	info := certinfo.Parse(cert, in.URI)
	if info.URITooLong {
		return nil, nil, counters.URITooLong, true
	}
	if !in.IsTA && info.CRLDP == "" {
		outcome := counters.CRLDPMissing
		if info.MalformedCRLDP {
			outcome = counters.MalformedCRLDP
		}
		return nil, nil, outcome, true
	}

	var crlObj *x509.RevocationList
	if !in.IsTA {
		var crlOutcome counters.Outcome
		crlObj, crlOutcome = crl.Validate(in.Installer, info.CRLDP, in.IssuerCert, nil)
		if crlOutcome != counters.ValidationOK &&
			crlOutcome != counters.CurrentCRLAccepted && crlOutcome != counters.BackupCRLAccepted {
			return nil, nil, crlOutcome, true
		}
	}

	outcome := verify.CheckCert(verify.Input{
		Chain:      in.Chain,
		Cert:       cert,
		Info:       info,
		IssuerInfo: in.IssuerInfo,
		CRL:        crlObj,
		IsTA:       in.IsTA,
		IsCA:       cert.IsCA,
		Now:        in.Now,
		Policy:     in.Policy,
		Stale:      in.Stale,
	})
	if outcome != counters.ValidationOK {
		return nil, nil, outcome, true
	}

	if err := in.Installer.Install(path, in.URI); err != nil {
		return nil, nil, rejectedOutcome, true
	}

	if in.RecheckTags != nil {
		if fromBackup {
			in.RecheckTags.Tag(in.URI)
		} else {
			in.RecheckTags.Untag(in.URI)
		}
	}

	return cert, info, acceptedOutcome, true
}
