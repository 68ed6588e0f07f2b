package counters

import (
	"sort"
	"sync"
	"time"
)

// HostCounters is the fixed-shape vector of outcome counts for one host,
// spec.md §3's PerHostCounters.
type HostCounters [numOutcomes]uint64

// StatusEntry is one append-only VALIDATION_STATUS record, spec.md §3.
type StatusEntry struct {
	URI       string
	Timestamp time.Time
	Outcome   Outcome
}

// Registry is the run-wide counter/status registry threaded through
// pkg/rpki/runctx.Context. It is the single point every validator and the
// walk engine reports through; sinks (pkg/xmlsummary, pkg/metrics,
// pkg/log via pkg/rpki/events) never touch validators directly.
type Registry struct {
	mu     sync.Mutex
	hosts  map[string]*HostCounters
	status []StatusEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]*HostCounters)}
}

// Record increments host's counter for outcome and appends a status entry
// for uri. now is passed in explicitly (the registry never calls
// time.Now() itself) so tests can supply deterministic timestamps.
func (r *Registry) Record(host, uri string, outcome Outcome, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hc, ok := r.hosts[host]
	if !ok {
		hc = &HostCounters{}
		r.hosts[host] = hc
	}
	hc[outcome]++
	r.status = append(r.status, StatusEntry{URI: uri, Timestamp: now, Outcome: outcome})
}

// RecordFetch is like Record but for fetch outcomes, which count against
// the host vector without producing a validation_status entry (spec.md §3:
// "excluding the rsync_* counters, which count fetches, not validations").
func (r *Registry) RecordFetch(host string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hc, ok := r.hosts[host]
	if !ok {
		hc = &HostCounters{}
		r.hosts[host] = hc
	}
	hc[outcome]++
}

// Hosts returns the observed hostnames in sorted order.
func (r *Registry) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.hosts))
	for h := range r.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// HostCounters returns a copy of the counter vector for host.
func (r *Registry) HostCounters(host string) HostCounters {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hc, ok := r.hosts[host]; ok {
		return *hc
	}
	return HostCounters{}
}

// StatusLog returns a copy of the accumulated status entries.
func (r *Registry) StatusLog() []StatusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]StatusEntry, len(r.status))
	copy(out, r.status)
	return out
}

// ValidationCount sums every counter on host except the rsync_* fetch
// counters, satisfying the invariant in spec.md §8 that this equals the
// number of validation_status entries emitted for that host.
func (hc HostCounters) ValidationCount() uint64 {
	var total uint64
	for o, n := range hc {
		switch Outcome(o) {
		case RsyncSucceeded, RsyncFailed, RsyncTimedOut:
			continue
		default:
			total += n
		}
	}
	return total
}
