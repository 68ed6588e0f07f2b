package runctx

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/events"
	"github.com/relyingparty/rcynic/pkg/rpki/fetch"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/trustanchor"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
	"github.com/stretchr/testify/require"
)

func TestLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rcynic.lock")

	unlock, err := Lock(path)
	require.NoError(t, err)

	_, err = Lock(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())

	unlock2, err := Lock(path)
	require.NoError(t, err)
	require.NoError(t, unlock2())
}

func TestLockEmptyPathIsNoop(t *testing.T) {
	unlock, err := Lock("")
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func bareSelfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ta"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestRunRotatesAndCompletesWithNoSIA(t *testing.T) {
	base := t.TempDir()
	roots := staging.DefaultRoots(base)
	require.NoError(t, os.MkdirAll(roots.Authenticated, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(roots.Authenticated, "stale.txt"), []byte("x"), 0644))

	fetcher := fetch.New("/bin/true", 0, roots.Unauthenticated, fetchcache.New())
	registry := counters.NewRegistry()
	rc := New(staging.Installer{Roots: roots}, fetcher, verify.Policy{}, registry, events.NewBroker())

	anchor := &trustanchor.Anchor{Cert: bareSelfSignedCert(t)}
	err := rc.Run(context.Background(), []*trustanchor.Anchor{anchor}, time.Now())
	require.NoError(t, err)

	require.NoFileExists(t, filepath.Join(roots.Authenticated, "stale.txt"))
	require.DirExists(t, roots.OldAuthenticated)
	require.FileExists(t, filepath.Join(roots.OldAuthenticated, "stale.txt"))
}
