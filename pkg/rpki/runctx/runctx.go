package runctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/certinfo"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/events"
	"github.com/relyingparty/rcynic/pkg/rpki/fetch"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/trustanchor"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
	"github.com/relyingparty/rcynic/pkg/rpki/walk"
)

// Context bundles one run's collaborators. Every validator and the walk
// engine take their dependencies through values reachable from a Context,
// never through a package-level variable.
type Context struct {
	Installer   staging.Installer
	Fetcher     *fetch.Fetcher
	Stale       *fetchcache.StaleSet
	RecheckTags *fetchcache.RecheckTags
	Policy      verify.Policy
	Registry    *counters.Registry
	Events      *events.Broker
}

// New builds a Context from its already-constructed collaborators.
func New(installer staging.Installer, fetcher *fetch.Fetcher, policy verify.Policy, registry *counters.Registry, broker *events.Broker) *Context {
	return &Context{
		Installer:   installer,
		Fetcher:     fetcher,
		Stale:       fetchcache.NewStaleSet(),
		RecheckTags: fetchcache.NewRecheckTags(),
		Policy:      policy,
		Registry:    registry,
		Events:      broker,
	}
}

// Run performs one complete sweep, spec.md §4.13/§9: rotate the staging
// roots, walk every trust anchor to completion, then prune
// unauthenticated/ of anything the fetch cache never touched this run.
func (c *Context) Run(ctx context.Context, anchors []*trustanchor.Anchor, now time.Time) error {
	if err := staging.Rotate(c.Installer.Roots); err != nil {
		return fmt.Errorf("runctx: rotating staging roots: %w", err)
	}

	for _, a := range anchors {
		info := certinfo.Parse(a.Cert, a.URI)
		eng := &walk.Engine{
			Installer:   c.Installer,
			Fetcher:     c.Fetcher,
			Stale:       c.Stale,
			RecheckTags: c.RecheckTags,
			Policy:      c.Policy,
			Now:         now,
			Registry:    c.Registry,
			Events:      c.Events,
		}
		eng.Push(walk.NewFrame(a.URI, a.Cert, info, nil, true))
		if err := eng.Run(ctx); err != nil {
			return fmt.Errorf("runctx: walking trust anchor %s: %w", a.URI, err)
		}
	}

	if err := staging.Prune(c.Installer.Roots, c.Fetcher.Cache); err != nil {
		return fmt.Errorf("runctx: pruning unauthenticated tree: %w", err)
	}
	return nil
}

// ErrLocked is returned by Lock when another instance already holds the
// lock file.
var ErrLocked = errors.New("runctx: another instance is already running")

// Lock acquires an exclusive, non-blocking advisory lock on path, spec.md
// §5's "a process-level lock file ensures only one instance is active at
// a time". An empty path disables locking; the returned unlock func is
// always safe to call even then.
func Lock(path string) (unlock func() error, err error) {
	if path == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("runctx: opening lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return func() error {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return f.Close()
	}, nil
}
