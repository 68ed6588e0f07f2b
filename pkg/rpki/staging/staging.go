package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/uri"
)

// Roots is the configured (or defaulted) three-root filesystem layout,
// spec.md §6.
type Roots struct {
	Authenticated    string
	OldAuthenticated string
	Unauthenticated  string
}

// DefaultRoots returns the three roots rooted under base (spec.md §6's
// default "rcynic-data/").
func DefaultRoots(base string) Roots {
	return Roots{
		Authenticated:    filepath.Join(base, "authenticated"),
		OldAuthenticated: filepath.Join(base, "old_authenticated"),
		Unauthenticated:  filepath.Join(base, "unauthenticated"),
	}
}

// Path returns u mapped under the given root.
func (r Roots) Path(root, u string) (string, error) {
	return uri.ToPath(u, root)
}

// AuthPath, UnauthPath, and OldAuthPath are the per-root path mappings
// used throughout the validators.
func (r Roots) AuthPath(u string) (string, error)    { return r.Path(r.Authenticated, u) }
func (r Roots) UnauthPath(u string) (string, error)  { return r.Path(r.Unauthenticated, u) }
func (r Roots) OldAuthPath(u string) (string, error) { return r.Path(r.OldAuthenticated, u) }

// Rotate performs the pre-walk staging rotation of spec.md §4.13: delete
// the previous old_authenticated/, rename authenticated/ to
// old_authenticated/, and create a fresh empty authenticated/.
func Rotate(r Roots) error {
	if err := os.RemoveAll(r.OldAuthenticated); err != nil {
		return fmt.Errorf("staging: failed to remove old_authenticated: %w", err)
	}

	if _, err := os.Stat(r.Authenticated); err == nil {
		if err := os.Rename(r.Authenticated, r.OldAuthenticated); err != nil {
			return fmt.Errorf("staging: failed to rotate authenticated to old_authenticated: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("staging: failed to stat authenticated: %w", err)
	}

	if err := os.MkdirAll(r.Authenticated, 0755); err != nil {
		return fmt.Errorf("staging: failed to create authenticated: %w", err)
	}
	return nil
}

// UseLinks configures whether Install hard-links (space-efficient) or
// copies (defends against the fetcher later mutating the source file)
// accepted objects into authenticated/.
type Installer struct {
	Roots    Roots
	UseLinks bool
}

// Install places src (an accepted object already on disk under
// unauthenticated/ or old_authenticated/) at u's path under
// authenticated/, creating parent directories as needed.
func (in Installer) Install(src, u string) error {
	dest, err := in.Roots.AuthPath(u)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("staging: failed to create parent directories for %s: %w", dest, err)
	}

	if in.UseLinks {
		if err := os.Link(src, dest); err == nil {
			return nil
		}
		// fall through to copy on cross-device or other link failure
	}
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("staging: failed to read %s: %w", src, err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("staging: failed to write %s: %w", dest, err)
	}
	return nil
}

// Prune removes any file or directory under unauthenticated/ whose path
// relative to that root is not prefix-covered by cache: remnants from
// URIs fetched in a previous run that no longer appear anywhere in this
// run's hierarchy (spec.md §4.13).
func Prune(r Roots, cache *fetchcache.Cache) error {
	prefixes := cache.Prefixes()

	return filepath.Walk(r.Unauthenticated, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == r.Unauthenticated {
			return nil
		}

		rel, err := filepath.Rel(r.Unauthenticated, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if coveredByAny(rel, prefixes) {
			return nil
		}

		if info.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				return err
			}
			return filepath.SkipDir
		}
		return os.Remove(path)
	})
}

// coveredByAny reports whether rel is covered by, or is an ancestor
// directory of, some cached prefix.
func coveredByAny(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if rel == p || strings.HasPrefix(p, rel+"/") || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}
