package cms

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// Well-known RPKI signed-object content types, RFC 6488 §2.1.
var (
	IDCTRPKIManifest               = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 26}
	IDCTRouteOriginAttestation     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 24}
	IDCTRPKIGhostbusters           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 35}
)

var (
	ErrNotSignedData  = errors.New("cms: not a SignedData ContentInfo")
	ErrWrongContent   = errors.New("cms: eContentType does not match expected type")
	ErrNotSingleEE    = errors.New("cms: signed object must embed exactly one certificate")
	ErrBadSignature   = errors.New("cms: signature verification failed")
)

// SignedData is a parsed, not-yet-chain-validated CMS SignedData object.
type SignedData struct {
	ContentType asn1.ObjectIdentifier
	Content     []byte
	certs       []*x509.Certificate
	p7          *pkcs7.PKCS7
}

// Parse decodes der as a CMS ContentInfo and requires its eContentType to
// equal want (the object reader's "decode as a CMS-wrapped object of a
// given type" primitive, spec.md §4.2).
func Parse(der []byte, want asn1.ObjectIdentifier) (*SignedData, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}

	ct, err := eContentType(der)
	if err != nil {
		return nil, err
	}
	if !ct.Equal(want) {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongContent, ct, want)
	}

	return &SignedData{
		ContentType: ct,
		Content:     p7.Content,
		certs:       p7.Certificates,
		p7:          p7,
	}, nil
}

// VerifySignature checks the SignerInfo's signature over the
// (possibly signed-attribute-wrapped) content against the embedded
// certificate's public key, without validating that certificate's issuer
// chain. Chain validation is left to the caller (spec.md §4.8/§4.9 step
// 1: "verify CMS without verifying the signer certificate chain yet").
func (sd *SignedData) VerifySignature() error {
	if err := sd.p7.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// SingleEECert returns the lone embedded end-entity certificate,
// rejecting the object (spec.md "reject if count != 1") if more or fewer
// than one certificate was embedded.
func (sd *SignedData) SingleEECert() (*x509.Certificate, error) {
	if len(sd.certs) != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrNotSingleEE, len(sd.certs))
	}
	return sd.certs[0], nil
}

// asn1ContentInfo mirrors RFC 5652 §3 just far enough to recover the
// inner SignedData's eContentType OID, which the pkcs7 library does not
// itself surface.
type asn1ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type asn1SignedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	EncapContentInfo asn1EncapsulatedContentInfo
	Rest             asn1.RawValue `asn1:"optional"`
}

type asn1EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

func eContentType(der []byte) (asn1.ObjectIdentifier, error) {
	var ci asn1ContentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}

	var sd asn1SignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}

	return sd.EncapContentInfo.EContentType, nil
}
