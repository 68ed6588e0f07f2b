// Package uri implements the URI/Path mapper of spec.md §4.1: translating
// rsync:// URIs into sanitized filesystem paths and rejecting traversal.
package uri

import (
	"errors"
	"strings"
)

// MaxURILength bounds any rsync URI this validator will accept, spec.md §3.
const MaxURILength = 1024

// Scheme is the only fetch scheme this validator understands.
const Scheme = "rsync://"

var (
	ErrNotRsync  = errors.New("uri: not an rsync:// uri")
	ErrTooLong   = errors.New("uri: exceeds maximum length")
	ErrTraversal = errors.New("uri: contains a path traversal segment")
)

// IsRsync reports whether uri begins with the rsync:// scheme.
func IsRsync(u string) bool {
	return strings.HasPrefix(u, Scheme)
}

// ToPath strips the rsync:// scheme from uri and validates the remainder:
// it must not start with '/' or '.', must not contain a "/../" segment,
// and must not end in "/..". If prefix is non-empty the sanitized
// remainder is joined onto it. Length is checked against MaxURILength
// before any prefix is applied.
func ToPath(u string, prefix string) (string, error) {
	if !IsRsync(u) {
		return "", ErrNotRsync
	}
	if len(u) >= MaxURILength {
		return "", ErrTooLong
	}

	rest := strings.TrimPrefix(u, Scheme)
	if err := validateRemainder(rest); err != nil {
		return "", err
	}

	if prefix == "" {
		return rest, nil
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + rest, nil
	}
	return prefix + "/" + rest, nil
}

func validateRemainder(rest string) error {
	if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, ".") {
		return ErrTraversal
	}
	if strings.Contains(rest, "/../") {
		return ErrTraversal
	}
	if strings.HasSuffix(rest, "/..") {
		return ErrTraversal
	}
	return nil
}

// Hostname extracts the hostname used for per-host counters: the portion
// of the post-scheme remainder up to (not including) the first '/'.
func Hostname(u string) (string, error) {
	if !IsRsync(u) {
		return "", ErrNotRsync
	}
	rest := strings.TrimPrefix(u, Scheme)
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx], nil
	}
	return rest, nil
}

// Join appends name to the directory URI base, which must already end in
// "/" (SIA caRepository URIs always do, per spec.md §3).
func Join(base, name string) string {
	if strings.HasSuffix(base, "/") {
		return base + name
	}
	return base + "/" + name
}

// HasPrefix reports whether uri lies within the publication point rooted
// at base, the "string prefix" check spec.md §4.6 uses for SIA/CRLDP/AIA
// containment rules.
func HasPrefix(u, base string) bool {
	return strings.HasPrefix(u, base)
}
