package walk

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/certinfo"
	"github.com/relyingparty/rcynic/pkg/rpki/cms"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/fetch"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/resources"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
)

var (
	policyOID             = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 14, 2}
	oidSIA                = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}
	oidAccessCARepository = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 5}
	oidAccessRPKIManifest = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 10}
)

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := asn1.Marshal(v)
	require.NoError(t, err)
	return b
}

// ipAddrBlocksExtension builds an RFC 3779 IPAddrBlocks extension value
// naming a single IPv4 prefix.
func ipAddrBlocksExtension(t *testing.T, afi byte, prefixBytes []byte, bitLen int) []byte {
	t.Helper()
	bs := asn1.BitString{Bytes: prefixBytes, BitLength: bitLen}
	seq := marshal(t, []asn1.RawValue{{FullBytes: marshal(t, bs)}})
	fam := struct {
		AddressFamily   []byte
		IPAddressChoice asn1.RawValue
	}{
		AddressFamily:   []byte{0, afi},
		IPAddressChoice: asn1.RawValue{FullBytes: seq},
	}
	return marshal(t, []asn1.RawValue{{FullBytes: marshal(t, fam)}})
}

// siaExtension builds a SubjectInfoAccess extension value naming a
// caRepository and an rpkiManifest access location, the two SIA entries
// every CA certificate in the walk needs.
func siaExtension(t *testing.T, caRepo, mftURI string) []byte {
	t.Helper()
	type accessDescription struct {
		AccessMethod   asn1.ObjectIdentifier
		AccessLocation asn1.RawValue
	}
	descs := []accessDescription{
		{AccessMethod: oidAccessCARepository, AccessLocation: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 6, Bytes: []byte(caRepo)}},
		{AccessMethod: oidAccessRPKIManifest, AccessLocation: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 6, Bytes: []byte(mftURI)}},
	}
	return marshal(t, descs)
}

func makeTA(t *testing.T, caRepo, mftURI string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ta"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtraExtensions: []pkix.Extension{
			{Id: oidSIA, Value: siaExtension(t, caRepo, mftURI)},
			{Id: resources.OIDIPAddrBlocks, Value: ipAddrBlocksExtension(t, 1, []byte{10}, 8)}, // 10.0.0.0/8
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func makeChildCA(t *testing.T, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey, aiaURI, crlURI, caRepo, mftURI string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		PolicyIdentifiers:     []asn1.ObjectIdentifier{policyOID},
		IssuingCertificateURL: []string{aiaURI},
		CRLDistributionPoints: []string{crlURI},
		SubjectKeyId:          []byte{1, 2, 3},
		ExtraExtensions: []pkix.Extension{
			{Id: oidSIA, Value: siaExtension(t, caRepo, mftURI)},
			{Id: resources.OIDIPAddrBlocks, Value: ipAddrBlocksExtension(t, 1, []byte{10}, 8)}, // 10.0.0.0/8
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, issuerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func makeManifestEE(t *testing.T, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey, aiaURI, crlURI string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(3),
		Subject:               pkix.Name{CommonName: "mft-ee"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		IssuingCertificateURL: []string{aiaURI},
		CRLDistributionPoints: []string{crlURI},
		PolicyIdentifiers:     []asn1.ObjectIdentifier{policyOID},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, issuerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func makeROAEE(t *testing.T, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey, aiaURI, crlURI string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(4),
		Subject:               pkix.Name{CommonName: "roa-ee"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		IssuingCertificateURL: []string{aiaURI},
		CRLDistributionPoints: []string{crlURI},
		PolicyIdentifiers:     []asn1.ObjectIdentifier{policyOID},
		ExtraExtensions: []pkix.Extension{
			{Id: resources.OIDIPAddrBlocks, Value: ipAddrBlocksExtension(t, 1, []byte{10}, 16)}, // 10.0.0.0/16
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, issuerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func writeCRLFile(t *testing.T, dir, name string, issuer *x509.Certificate, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	tmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(time.Hour),
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, issuer, key)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), der, 0644))
	return der
}

type rawFileAndHash struct {
	File string
	Hash asn1.BitString
}

type rawManifestBody struct {
	ManifestNumber *big.Int
	ThisUpdate     time.Time
	NextUpdate     time.Time
	FileHashAlg    asn1.ObjectIdentifier
	FileList       []rawFileAndHash
}

var sha256OID = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

func buildManifestDER(t *testing.T, entries map[string][]byte, mftEE *x509.Certificate, mftKey *ecdsa.PrivateKey) []byte {
	t.Helper()
	body := rawManifestBody{
		ManifestNumber: big.NewInt(1),
		ThisUpdate:     time.Now().Add(-time.Hour),
		NextUpdate:     time.Now().Add(time.Hour),
		FileHashAlg:    sha256OID,
	}
	for name, content := range entries {
		sum := sha256.Sum256(content)
		body.FileList = append(body.FileList, rawFileAndHash{File: name, Hash: asn1.BitString{Bytes: sum[:], BitLength: len(sum) * 8}})
	}
	content := marshal(t, body)

	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	sd.SetContentType(cms.IDCTRPKIManifest)
	require.NoError(t, sd.AddSigner(mftEE, mftKey, pkcs7.SignerInfoConfig{}))
	out, err := sd.Finish()
	require.NoError(t, err)
	return out
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

func buildROADER(t *testing.T, eeCert *x509.Certificate, eeKey *ecdsa.PrivateKey) []byte {
	t.Helper()
	body := rawROA{
		ASID: 64500,
		IPAddrBlocks: []rawROAFamily{
			{
				AddressFamily: []byte{0, 1},
				Addresses: []rawROAAddr{
					{Address: asn1.BitString{Bytes: []byte{10, 0}, BitLength: 16}, MaxLength: 24},
				},
			},
		},
	}
	content := marshal(t, body)

	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	sd.SetContentType(cms.IDCTRouteOriginAttestation)
	require.NoError(t, sd.AddSigner(eeCert, eeKey, pkcs7.SignerInfoConfig{}))
	out, err := sd.Finish()
	require.NoError(t, err)
	return out
}

// TestStepInitialSkipsFrameWithNoSIA exercises the immediate-done path:
// a frame with no SIA access contributes nothing and finishes without
// ever reaching rsync.
func TestStepInitialSkipsFrameWithNoSIA(t *testing.T) {
	ta, _ := makeTA(t, "rsync://rpki.example.net/ta-repo/", "rsync://rpki.example.net/ta-repo/ta.mft")
	base := t.TempDir()
	r := staging.DefaultRoots(base)

	e := &Engine{
		Installer: staging.Installer{Roots: r},
		Fetcher:   fetch.New("/bin/true", time.Second, r.Unauthenticated, fetchcache.New()),
		Registry:  counters.NewRegistry(),
		Now:       time.Now(),
	}
	frame := NewFrame("", ta, &certinfo.Info{URI: "rsync://rpki.example.net/bare.cer"}, nil, true)
	e.Push(frame)

	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, 0, e.Depth())
}

// TestRunHappyPathAcceptsROA walks a trust anchor down through one
// child CA to one manifest listing one ROA, and expects the ROA
// accepted along with every certificate and manifest on the way.
func TestRunHappyPathAcceptsROA(t *testing.T) {
	const (
		taRepo = "rsync://rpki.example.net/ta-repo/"
		taMft  = "rsync://rpki.example.net/ta-repo/ta.mft"
		taCer  = "rsync://rpki.example.net/ta.cer"
		caCer  = "rsync://rpki.example.net/ta-repo/ca.cer"
		caRepo = "rsync://rpki.example.net/ca-repo/"
		caMft  = "rsync://rpki.example.net/ca-repo/ca.mft"
	)

	ta, taKey := makeTA(t, taRepo, taMft)
	ca, caKey := makeChildCA(t, ta, taKey, taCer, taRepo+"ta.crl", caRepo, caMft)

	base := t.TempDir()
	r := staging.DefaultRoots(base)
	require.NoError(t, os.MkdirAll(r.Authenticated, 0755))

	taDir := r.Unauthenticated + "/rpki.example.net/ta-repo"
	caDir := r.Unauthenticated + "/rpki.example.net/ca-repo"

	taCRLDER := writeCRLFile(t, taDir, "ta.crl", ta, taKey)
	caCRLDER := writeCRLFile(t, caDir, "ca.crl", ca, caKey)

	require.NoError(t, os.WriteFile(filepath.Join(taDir, "ca.cer"), ca.Raw, 0644))

	taMftEE, taMftKey := makeManifestEE(t, ta, taKey, taCer, taRepo+"ta.crl")
	taMftDER := buildManifestDER(t, map[string][]byte{
		"ta.crl": taCRLDER,
		"ca.cer": ca.Raw,
	}, taMftEE, taMftKey)
	require.NoError(t, os.WriteFile(filepath.Join(taDir, "ta.mft"), taMftDER, 0644))

	caMftEE, caMftKey := makeManifestEE(t, ca, caKey, caCer, caRepo+"ca.crl")
	roaEE, roaKey := makeROAEE(t, ca, caKey, caCer, caRepo+"ca.crl")
	roaDER := buildROADER(t, roaEE, roaKey)
	require.NoError(t, os.WriteFile(filepath.Join(caDir, "ca.roa"), roaDER, 0644))

	caMftDER := buildManifestDER(t, map[string][]byte{
		"ca.crl": caCRLDER,
		"ca.roa": roaDER,
	}, caMftEE, caMftKey)
	require.NoError(t, os.WriteFile(filepath.Join(caDir, "ca.mft"), caMftDER, 0644))

	taInfo := certinfo.Parse(ta, taCer)
	require.Equal(t, taRepo, taInfo.SIACARepository)
	require.Equal(t, taMft, taInfo.SIARPKIManifest)

	registry := counters.NewRegistry()
	e := &Engine{
		Installer:   staging.Installer{Roots: r},
		Fetcher:     fetch.New("/bin/true", time.Second, r.Unauthenticated, fetchcache.New()),
		Stale:       fetchcache.NewStaleSet(),
		RecheckTags: fetchcache.NewRecheckTags(),
		Policy:      verify.Policy{},
		Registry:    registry,
		Now:         time.Now(),
	}

	e.Push(NewFrame(taCer, ta, taInfo, nil, true))

	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, 0, e.Depth())

	hc := registry.HostCounters("rpki.example.net")
	require.Equal(t, uint64(1), hc[counters.CurrentROAAccepted])
	require.Equal(t, uint64(2), hc[counters.CurrentManifestAccepted])
	require.Equal(t, uint64(1), hc[counters.CurrentCertAccepted])

	// ta.mft/ca.mft and ta.crl/ca.crl are never self-listed in their own
	// manifest, but neither is a validator-dispatched object: they must
	// not be flagged as missing from the manifest they belong to.
	require.Zero(t, hc[counters.ObjectNotInManifest])

	_, err := os.Stat(filepath.Join(r.Authenticated, "rpki.example.net/ca-repo/ca.roa"))
	require.NoError(t, err)
}
