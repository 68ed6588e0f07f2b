package certinfo

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/uri"
	"github.com/stretchr/testify/require"
)

func marshalSIA(t *testing.T, repo, manifest string) []byte {
	t.Helper()
	descs := []accessDescription{
		{AccessMethod: oidAccessCARepository, AccessLocation: asn1.RawValue{Class: 2, Tag: uriGeneralNameTag, Bytes: []byte(repo)}},
		{AccessMethod: oidAccessRPKIManifest, AccessLocation: asn1.RawValue{Class: 2, Tag: uriGeneralNameTag, Bytes: []byte(manifest)}},
	}
	data, err := asn1.Marshal(descs)
	require.NoError(t, err)
	return data
}

func buildCert(t *testing.T, extraExts []pkix.Extension) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		ExtraExtensions:       extraExts,
		IssuingCertificateURL: []string{"rsync://rpki.example.net/repo/parent.cer"},
		CRLDistributionPoints: []string{"rsync://rpki.example.net/repo/ca.crl"},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestParseExtractsSIAAndAIA(t *testing.T) {
	sia := marshalSIA(t, "rsync://rpki.example.net/repo/", "rsync://rpki.example.net/repo/ca.mft")

	cert := buildCert(t, []pkix.Extension{
		{Id: oidSIA, Value: sia},
	})

	info := Parse(cert, "rsync://rpki.example.net/repo/ca.cer")
	require.Equal(t, "rsync://rpki.example.net/repo/", info.SIACARepository)
	require.Equal(t, "rsync://rpki.example.net/repo/ca.mft", info.SIARPKIManifest)
	require.Equal(t, "rsync://rpki.example.net/repo/parent.cer", info.AIACaIssuers)
	require.Equal(t, "rsync://rpki.example.net/repo/ca.crl", info.CRLDP)
	require.False(t, info.MalformedCRLDP)
	require.True(t, info.IsCA)
}

func TestParseSkipsNonRsyncURIs(t *testing.T) {
	sia := marshalSIA(t, "https://rpki.example.net/repo/", "rsync://rpki.example.net/repo/ca.mft")

	cert := buildCert(t, []pkix.Extension{
		{Id: oidSIA, Value: sia},
	})

	info := Parse(cert, "rsync://rpki.example.net/repo/ca.cer")
	require.Empty(t, info.SIACARepository)
	require.Equal(t, "rsync://rpki.example.net/repo/ca.mft", info.SIARPKIManifest)
	require.False(t, info.URITooLong)
}

// TestParseFlagsOverlengthRsyncURI checks that an rsync URI past the URI
// bound is treated distinctly from a non-rsync one: dropped from the
// result, but with URITooLong set rather than silently ignored.
func TestParseFlagsOverlengthRsyncURI(t *testing.T) {
	overlong := "rsync://rpki.example.net/" + strings.Repeat("a", uri.MaxURILength)
	sia := marshalSIA(t, overlong, "rsync://rpki.example.net/repo/ca.mft")

	cert := buildCert(t, []pkix.Extension{
		{Id: oidSIA, Value: sia},
	})

	info := Parse(cert, "rsync://rpki.example.net/repo/ca.cer")
	require.Empty(t, info.SIACARepository)
	require.Equal(t, "rsync://rpki.example.net/repo/ca.mft", info.SIARPKIManifest)
	require.True(t, info.URITooLong)
}
