package crl

import (
	"crypto/x509"
	"os"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/objreader"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
)

// Validate implements check_crl (spec.md §4.7): prefer an already
// installed copy, then try the fresh (unauthenticated) copy, then the
// backup (old_authenticated) copy. The first copy that parses, matches
// expectedHash (if given), and verifies against issuer's key is
// installed and returned.
func Validate(in staging.Installer, u string, issuer *x509.Certificate, expectedHash *objreader.Hash) (*x509.RevocationList, counters.Outcome) {
	if authPath, err := in.Roots.AuthPath(u); err == nil {
		if crl, _, err := objreader.CRL(authPath); err == nil {
			return crl, counters.ValidationOK
		}
	}

	var lastRejected counters.Outcome
	haveRejection := false

	crl, outcome, present := tryCandidate(in, u, issuer, expectedHash, in.Roots.Unauthenticated,
		counters.CurrentCRLAccepted, counters.CurrentCRLRejected)
	if present {
		if crl != nil {
			return crl, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	crl, outcome, present = tryCandidate(in, u, issuer, expectedHash, in.Roots.OldAuthenticated,
		counters.BackupCRLAccepted, counters.BackupCRLRejected)
	if present {
		if crl != nil {
			return crl, outcome
		}
		lastRejected, haveRejection = outcome, true
	}

	if haveRejection {
		return nil, lastRejected
	}
	return nil, counters.CurrentCRLRejected
}

// tryCandidate attempts one source root and reports present=true only
// when a file was found there (whether it ultimately verified or not),
// so the caller knows whether to fall through to the next source.
func tryCandidate(in staging.Installer, u string, issuer *x509.Certificate, expectedHash *objreader.Hash,
	root string, acceptedOutcome, rejectedOutcome counters.Outcome) (*x509.RevocationList, counters.Outcome, bool) {

	path, err := in.Roots.Path(root, u)
	if err != nil {
		return nil, counters.ValidationOK, false
	}
	if _, err := os.Stat(path); err != nil {
		return nil, counters.ValidationOK, false
	}

	crlObj, hash, err := objreader.CRL(path)
	if err != nil {
		return nil, rejectedOutcome, true
	}
	if expectedHash != nil && hash != *expectedHash {
		return nil, counters.CRLDigestMismatch, true
	}
	if err := crlObj.CheckSignatureFrom(issuer); err != nil {
		return nil, rejectedOutcome, true
	}

	if err := in.Install(path, u); err != nil {
		return nil, rejectedOutcome, true
	}
	return crlObj, acceptedOutcome, true
}
