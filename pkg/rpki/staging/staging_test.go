package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/stretchr/testify/require"
)

func TestRotate(t *testing.T) {
	base := t.TempDir()
	r := DefaultRoots(base)

	require.NoError(t, os.MkdirAll(r.Authenticated, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(r.Authenticated, "marker"), []byte("run1"), 0644))

	require.NoError(t, Rotate(r))

	_, err := os.Stat(filepath.Join(r.OldAuthenticated, "marker"))
	require.NoError(t, err)

	entries, err := os.ReadDir(r.Authenticated)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRotateTwiceDropsOldestGeneration(t *testing.T) {
	base := t.TempDir()
	r := DefaultRoots(base)

	require.NoError(t, os.MkdirAll(r.OldAuthenticated, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(r.OldAuthenticated, "stale"), []byte("run0"), 0644))
	require.NoError(t, os.MkdirAll(r.Authenticated, 0755))

	require.NoError(t, Rotate(r))

	_, err := os.Stat(filepath.Join(r.OldAuthenticated, "stale"))
	require.True(t, os.IsNotExist(err))
}

func TestInstallCopies(t *testing.T) {
	base := t.TempDir()
	r := DefaultRoots(base)
	require.NoError(t, os.MkdirAll(r.Unauthenticated, 0755))

	srcDir := filepath.Join(r.Unauthenticated, "rpki.example.net", "repo")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	src := filepath.Join(srcDir, "ca.cer")
	require.NoError(t, os.WriteFile(src, []byte("cert bytes"), 0644))

	in := Installer{Roots: r, UseLinks: false}
	require.NoError(t, in.Install(src, "rsync://rpki.example.net/repo/ca.cer"))

	dest, err := r.AuthPath("rsync://rpki.example.net/repo/ca.cer")
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "cert bytes", string(data))
}

func TestPruneRemovesUncachedRemnants(t *testing.T) {
	base := t.TempDir()
	r := DefaultRoots(base)

	keep := filepath.Join(r.Unauthenticated, "rpki.example.net", "repo")
	require.NoError(t, os.MkdirAll(keep, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(keep, "ca.cer"), []byte("x"), 0644))

	stale := filepath.Join(r.Unauthenticated, "rpki.example.net", "retired")
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "old.cer"), []byte("y"), 0644))

	cache := fetchcache.New()
	cache.Insert("rsync://rpki.example.net/repo")

	require.NoError(t, Prune(r, cache))

	_, err := os.Stat(filepath.Join(keep, "ca.cer"))
	require.NoError(t, err)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
}
