package fetchcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCachedExactMatch(t *testing.T) {
	c := New()
	c.Insert("rsync://rpki.example.net/repo/")
	assert.True(t, c.Cached("rsync://rpki.example.net/repo"))
}

func TestCachedPrefixWalk(t *testing.T) {
	c := New()
	c.Insert("rsync://rpki.example.net/repo")
	assert.True(t, c.Cached("rsync://rpki.example.net/repo/sub/dir/object.cer"))
}

func TestCachedMiss(t *testing.T) {
	c := New()
	c.Insert("rsync://rpki.example.net/repo")
	assert.False(t, c.Cached("rsync://rpki.example.net/other/object.cer"))
}

func TestInsertIdempotent(t *testing.T) {
	c := New()
	c.Insert("rsync://rpki.example.net/repo/")
	c.Insert("rsync://rpki.example.net/repo")
	assert.Len(t, c.Prefixes(), 1)
}

func TestStaleSetWarnsOnce(t *testing.T) {
	s := NewStaleSet()
	assert.False(t, s.MarkAndCheck("rsync://rpki.example.net/repo/ca.crl"))
	assert.True(t, s.MarkAndCheck("rsync://rpki.example.net/repo/ca.crl"))
}

func TestRecheckTags(t *testing.T) {
	r := NewRecheckTags()
	u := "rsync://rpki.example.net/repo/ca.cer"
	assert.False(t, r.Tagged(u))
	r.Tag(u)
	assert.True(t, r.Tagged(u))
	r.Untag(u)
	assert.False(t, r.Tagged(u))
}
