package walk

import (
	"context"
	"crypto/x509"
	"os"
	"path"
	"sort"
	"time"

	"github.com/relyingparty/rcynic/pkg/log"
	"github.com/relyingparty/rcynic/pkg/rpki/certinfo"
	"github.com/relyingparty/rcynic/pkg/rpki/certvalidator"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/events"
	"github.com/relyingparty/rcynic/pkg/rpki/fetch"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/ghostbuster"
	"github.com/relyingparty/rcynic/pkg/rpki/manifest"
	"github.com/relyingparty/rcynic/pkg/rpki/objreader"
	"github.com/relyingparty/rcynic/pkg/rpki/roa"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/uri"
	"github.com/relyingparty/rcynic/pkg/rpki/verify"
)

// State is one position in a Frame's state machine, spec.md §4.11.
type State int

const (
	StateInitial State = iota
	StateRsync
	StateReady
	StateCurrent
	StateBackup
	StateDone
)

// Frame is one CA (or trust anchor) in the walk, sitting on the Engine's
// explicit stack in place of a recursive call. It carries everything a
// Step needs to resume exactly where the previous Step for this frame
// left off: which manifest entry and which directory entry it has
// reached, and which of the two listing sources (current, then backup)
// it is working through.
type Frame struct {
	State State

	URI   string // this frame's own .cer URI ("" for a locally loaded trust anchor)
	Cert  *x509.Certificate
	Info  *certinfo.Info
	Chain []*x509.Certificate // trust anchor .. this frame's direct issuer
	IsTA  bool

	manifestEntries []manifest.Entry
	manifestPos     int
	dirOrder        []string
	dirRemaining    map[string]struct{}
	dirPos          int

	// refs supports handing the same Frame to more than one walker
	// without copying it, the forward-compat hook spec.md §5 calls out
	// for a future concurrent fetcher; the single-threaded Engine below
	// only ever retains a frame once, on push.
	refs int
}

// NewFrame builds the root frame for one trust anchor, or a child frame
// for a certificate accepted during a walk. chain is the trust anchor
// down to and including this frame's direct issuer (nil for a trust
// anchor frame).
func NewFrame(u string, cert *x509.Certificate, info *certinfo.Info, chain []*x509.Certificate, isTA bool) *Frame {
	return &Frame{URI: u, Cert: cert, Info: info, Chain: chain, IsTA: isTA}
}

// Retain increments a frame's reference count.
func (f *Frame) Retain() { f.refs++ }

// Release decrements a frame's reference count.
func (f *Frame) Release() { f.refs-- }

// Engine drives a set of Frames through Step per spec.md §4.11, using a
// explicit stack instead of recursion so the only
// suspension point in a sweep is a fetch subprocess drain.
type Engine struct {
	Installer   staging.Installer
	Fetcher     *fetch.Fetcher
	Stale       *fetchcache.StaleSet
	RecheckTags *fetchcache.RecheckTags
	Policy      verify.Policy
	Now         time.Time

	Registry *counters.Registry
	Events   *events.Broker

	stack []*Frame
}

// Push adds a frame to the top of the stack and retains it.
func (e *Engine) Push(f *Frame) {
	f.Retain()
	e.stack = append(e.stack, f)
}

// Depth reports how many frames remain on the stack.
func (e *Engine) Depth() int { return len(e.stack) }

// Run drives the engine to completion: repeated Step calls until the
// stack empties.
func (e *Engine) Run(ctx context.Context) error {
	for len(e.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the top frame by exactly one state transition or one
// object, per spec.md §4.11. It is a no-op returning nil when the stack
// is empty.
func (e *Engine) Step(ctx context.Context) error {
	if len(e.stack) == 0 {
		return nil
	}
	top := e.stack[len(e.stack)-1]

	switch top.State {
	case StateInitial:
		return e.stepInitial(top)
	case StateRsync:
		return e.stepRsync(ctx, top)
	case StateReady:
		return e.stepReady(top)
	case StateCurrent:
		return e.stepPhase(top, e.Installer.Roots.Unauthenticated, StateBackup)
	case StateBackup:
		return e.stepPhase(top, e.Installer.Roots.OldAuthenticated, StateDone)
	case StateDone:
		top.Release()
		e.stack = e.stack[:len(e.stack)-1]
	}
	return nil
}

// stepInitial decides whether this frame even has a publication point
// to walk: a certificate with no SIA caRepository/rpkiManifest access,
// or one that fails to name a CA at all, contributes nothing further
// and finishes immediately.
func (e *Engine) stepInitial(top *Frame) error {
	if !top.IsTA && (top.Cert == nil || !top.Cert.IsCA) {
		top.State = StateDone
		return nil
	}
	if top.Info == nil || top.Info.SIACARepository == "" || top.Info.SIARPKIManifest == "" {
		top.State = StateDone
		return nil
	}
	top.State = StateRsync
	return nil
}

// stepRsync performs the recursive mirror fetch of this frame's
// publication point. A failed or timed-out fetch still advances to
// ready: whatever is already cached under unauthenticated/ (or nothing)
// is what ready/current/backup will work from.
func (e *Engine) stepRsync(ctx context.Context, top *Frame) error {
	result := e.Fetcher.Tree(ctx, top.Info.SIACARepository)
	host, _ := uri.Hostname(top.Info.SIACARepository)
	if e.Registry != nil {
		e.Registry.RecordFetch(host, result.Outcome)
	}
	if e.Events != nil {
		e.Events.Publish(&events.Event{Host: host, URI: top.Info.SIACARepository, Outcome: result.Outcome, Timestamp: e.Now})
	}
	top.State = StateReady
	return nil
}

// stepReady validates this frame's manifest and snapshots the
// unauthenticated directory listing it names, per spec.md §4.8's
// precondition for walking a CA's children.
func (e *Engine) stepReady(top *Frame) error {
	chain := append(append([]*x509.Certificate{}, top.Chain...), top.Cert)

	m, outcome := manifest.Validate(manifest.Input{
		Installer: e.Installer,
		URI:       top.Info.SIARPKIManifest,
		CAInfo:    top.Info,
		Chain:     chain,
		CACert:    top.Cert,
		Policy:    e.Policy,
		Stale:     e.Stale,
		Now:       e.Now,
	})
	e.record(top.Info.SIARPKIManifest, outcome)

	if !outcome.Accepted() {
		top.State = StateDone
		return nil
	}

	top.manifestEntries = m.Entries
	top.State = StateCurrent
	e.snapshotDir(top, e.Installer.Roots.Unauthenticated)
	return nil
}

// snapshotDir lists the publication-point directory under root and
// resets the frame's manifest/directory cursors against it, the
// transition current -> backup also drives once the current phase's
// manifest and directory entries are both exhausted.
func (e *Engine) snapshotDir(top *Frame, root string) {
	dirPath, err := e.Installer.Roots.Path(root, top.Info.SIACARepository)
	top.manifestPos = 0
	top.dirPos = 0
	top.dirOrder = nil
	top.dirRemaining = make(map[string]struct{})
	if err != nil {
		return
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return
	}
	var names []string
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	top.dirOrder = names
	for _, n := range names {
		top.dirRemaining[n] = struct{}{}
	}
}

// stepPhase produces exactly one unit of work for the current or backup
// phase: the next manifest entry if any remain, else the next
// directory entry the manifest never claimed, else the phase-to-phase
// transition (re-snapshotting the directory against the next root, or
// finishing the frame).
func (e *Engine) stepPhase(top *Frame, root string, next State) error {
	if top.manifestPos < len(top.manifestEntries) {
		entry := top.manifestEntries[top.manifestPos]
		top.manifestPos++
		delete(top.dirRemaining, entry.Filename)
		e.dispatch(top, entry.Filename, &entry.Hash)
		return nil
	}

	if top.dirPos < len(top.dirOrder) {
		name := top.dirOrder[top.dirPos]
		top.dirPos++
		_, unclaimed := top.dirRemaining[name]
		if unclaimed && !isManifestExempt(name) {
			u := uri.Join(top.Info.SIACARepository, name)
			e.record(u, counters.ObjectNotInManifest)
			if e.Policy.AllowObjectNotInManifest {
				e.dispatch(top, name, nil)
			}
		}
		return nil
	}

	top.State = next
	if next == StateBackup {
		e.snapshotDir(top, e.Installer.Roots.OldAuthenticated)
	}
	return nil
}

// isManifestExempt reports whether filename is one of the suffixes
// dispatch never routes to a validator: a CA's own CRL and manifest are
// resolved and validated elsewhere in the walk (CRLDP and stepReady,
// respectively), so they are never "missing from the manifest" even
// when the CA doesn't self-list them — rcynic.c's dispatch loop
// excludes the same suffixes before its own object_not_in_manifest
// bookkeeping.
func isManifestExempt(filename string) bool {
	switch path.Ext(filename) {
	case ".crl", ".mft", ".mnf":
		return true
	default:
		return false
	}
}

// dispatch classifies one filename by its suffix and runs the matching
// object validator, per spec.md §4.11's table. CRLs and manifests are
// never dispatched here: every other validator resolves its own CRL
// from its EE's CRLDP, and the manifest itself was already validated in
// stepReady.
func (e *Engine) dispatch(top *Frame, filename string, hash *objreader.Hash) {
	u := uri.Join(top.Info.SIACARepository, filename)
	chain := append(append([]*x509.Certificate{}, top.Chain...), top.Cert)

	switch path.Ext(filename) {
	case ".crl", ".mft", ".mnf":
		return

	case ".roa":
		_, outcome := roa.Validate(roa.Input{
			Installer:    e.Installer,
			URI:          u,
			CAInfo:       top.Info,
			Chain:        chain,
			CACert:       top.Cert,
			Policy:       e.Policy,
			Stale:        e.Stale,
			ExpectedHash: hash,
			Now:          e.Now,
		})
		e.record(u, outcome)

	case ".gbr":
		_, outcome := ghostbuster.Validate(ghostbuster.Input{
			Installer:    e.Installer,
			URI:          u,
			CAInfo:       top.Info,
			Chain:        chain,
			CACert:       top.Cert,
			Policy:       e.Policy,
			Stale:        e.Stale,
			ExpectedHash: hash,
			Now:          e.Now,
		})
		e.record(u, outcome)

	case ".cer":
		cert, info, outcome := certvalidator.Validate(certvalidator.Input{
			Installer:   e.Installer,
			URI:         u,
			Chain:       chain,
			IssuerCert:  top.Cert,
			IssuerInfo:  top.Info,
			Policy:      e.Policy,
			Stale:       e.Stale,
			RecheckTags: e.RecheckTags,
			Now:         e.Now,
		})
		e.record(u, outcome)
		if outcome.Accepted() {
			e.Push(NewFrame(u, cert, info, chain, false))
		}

	default:
		log.WithComponent("walk").Debug().Str("uri", u).Msg("skipping object with unrecognized suffix")
	}
}

// record logs and counts one outcome against the per-host registry and
// the event bus, spec.md §7's "every decision recorded exactly once".
func (e *Engine) record(u string, outcome counters.Outcome) {
	host, _ := uri.Hostname(u)

	if e.Registry != nil {
		e.Registry.Record(host, u, outcome, e.Now)
	}
	if e.Events != nil {
		e.Events.Publish(&events.Event{Host: host, URI: u, Outcome: outcome, Timestamp: e.Now})
	}

	if outcome.Accepted() || outcome == counters.ValidationOK {
		log.Accepted(u)
	} else if outcome.Class() == counters.Bad {
		log.Rejected(u, outcome.String())
	}
}
