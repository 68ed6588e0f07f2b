package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeSucceeds(t *testing.T) {
	f := New("/bin/echo", 0, t.TempDir(), fetchcache.New())
	res := f.Tree(context.Background(), "rsync://rpki.example.net/repo/")
	assert.Equal(t, counters.RsyncSucceeded, res.Outcome)
	assert.NoError(t, res.Err)
}

func TestTreeCacheHitIsNoop(t *testing.T) {
	cache := fetchcache.New()
	cache.Insert("rsync://rpki.example.net/repo")
	f := New("/bin/false", 0, t.TempDir(), cache)

	res := f.Tree(context.Background(), "rsync://rpki.example.net/repo/sub/object.cer")
	assert.Equal(t, counters.RsyncSucceeded, res.Outcome)
}

func TestTreeFailure(t *testing.T) {
	f := New("/bin/false", 0, t.TempDir(), fetchcache.New())
	res := f.Tree(context.Background(), "rsync://rpki.example.net/repo/")
	assert.Equal(t, counters.RsyncFailed, res.Outcome)
	assert.Error(t, res.Err)
}

func TestRunTimeout(t *testing.T) {
	f := New("/bin/sleep", 20*time.Millisecond, t.TempDir(), fetchcache.New())
	res := f.run(context.Background(), []string{"1"})
	assert.Equal(t, counters.RsyncTimedOut, res.Outcome)
}

func TestInsertedIntoCacheOnEveryOutcome(t *testing.T) {
	cache := fetchcache.New()
	f := New("/bin/false", 0, t.TempDir(), cache)

	res := f.Tree(context.Background(), "rsync://rpki.example.net/repo/")
	require.Equal(t, counters.RsyncFailed, res.Outcome)
	assert.True(t, cache.Cached("rsync://rpki.example.net/repo/"))
}
