package objreader

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/relyingparty/rcynic/pkg/rpki/cms"
)

// ErrDecode is wrapped by every decode failure this package returns, per
// spec.md §4.2's "fails with decode-error on malformed input or I/O
// failure".
var ErrDecode = errors.New("objreader: decode error")

// Hash is the SHA-256 digest of a read file's raw bytes.
type Hash [sha256.Size]byte

// ReadHashed streams path through a SHA-256 filter and returns the raw
// bytes alongside the final digest. I/O failure is reported as
// ErrDecode, matching the object reader's single failure mode.
func ReadHashed(path string) ([]byte, Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(f, h))
	if err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var digest Hash
	copy(digest[:], h.Sum(nil))
	return data, digest, nil
}

// Certificate reads and DER-decodes path as an X.509 certificate.
func Certificate(path string) (*x509.Certificate, Hash, error) {
	data, digest, err := ReadHashed(path)
	if err != nil {
		return nil, Hash{}, err
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cert, digest, nil
}

// CRL reads and DER-decodes path as an X.509 CRL.
func CRL(path string) (*x509.RevocationList, Hash, error) {
	data, digest, err := ReadHashed(path)
	if err != nil {
		return nil, Hash{}, err
	}
	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return crl, digest, nil
}

// CMSObject reads path and decodes it as a CMS ContentInfo whose
// eContentType must equal want.
func CMSObject(path string, want asn1.ObjectIdentifier) (*cms.SignedData, Hash, error) {
	data, digest, err := ReadHashed(path)
	if err != nil {
		return nil, Hash{}, err
	}
	sd, err := cms.Parse(data, want)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return sd, digest, nil
}
