package fetchcache

import (
	"strings"
	"sync"

	"github.com/relyingparty/rcynic/pkg/rpki/uri"
)

// Cache is the fetch subsystem's prefix deduplication table, spec.md
// §4.4: once a URI (or any of its parent directories) has been fetched
// this run, every URI under it is assumed already covered.
type Cache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty fetch cache.
func New() *Cache {
	return &Cache{seen: make(map[string]struct{})}
}

// Cached reports whether u, or a prefix of it down to a '/' boundary, is
// already in the cache.
func (c *Cache) Cached(u string) bool {
	key := normalize(u)

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if _, ok := c.seen[key]; ok {
			return true
		}
		idx := strings.LastIndexByte(key, '/')
		if idx < 0 {
			return false
		}
		key = key[:idx]
	}
}

// Insert records u (normalized) in the cache exactly once.
func (c *Cache) Insert(u string) {
	key := normalize(u)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = struct{}{}
}

// Prefixes returns every normalized entry currently in the cache, used
// by the staging orchestrator's prune pass (spec.md §4.13) to decide
// which unauthenticated paths are still reachable from some fetched URI.
func (c *Cache) Prefixes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.seen))
	for k := range c.seen {
		out = append(out, k)
	}
	return out
}

// normalize strips the rsync:// scheme and any trailing slash.
func normalize(u string) string {
	rest := strings.TrimPrefix(u, uri.Scheme)
	return strings.TrimSuffix(rest, "/")
}

// StaleSet tracks URIs whose stale-CRL or stale-manifest condition has
// already been warned about once this run, so repeat encounters (the
// same CRL consulted by multiple objects) don't re-log, per spec.md
// §4.6's "cached to avoid repeated warnings".
type StaleSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewStaleSet returns an empty stale-warning set.
func NewStaleSet() *StaleSet {
	return &StaleSet{seen: make(map[string]struct{})}
}

// MarkAndCheck records u as warned-about and reports whether it had
// already been warned about before this call.
func (s *StaleSet) MarkAndCheck(u string) (alreadyWarned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[u]; ok {
		return true
	}
	s.seen[u] = struct{}{}
	return false
}

// RecheckTags is the backup-cache "needs recheck" tag of spec.md §4.12:
// a certificate URI accepted from the backup tree is tagged so the next
// run retries it against the current tree, attempting to upgrade it.
type RecheckTags struct {
	mu     sync.Mutex
	tagged map[string]struct{}
}

// NewRecheckTags returns an empty tag set.
func NewRecheckTags() *RecheckTags {
	return &RecheckTags{tagged: make(map[string]struct{})}
}

// Tagged reports whether uri is currently tagged for recheck.
func (r *RecheckTags) Tagged(u string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tagged[u]
	return ok
}

// Tag marks uri for recheck on the next run (a backup-phase acceptance).
func (r *RecheckTags) Tag(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tagged[u] = struct{}{}
}

// Untag clears uri's recheck tag (a current-phase acceptance).
func (r *RecheckTags) Untag(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tagged, u)
}
