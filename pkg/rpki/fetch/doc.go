/*
Package fetch is the rsync fetch subsystem of spec.md §4.5/§6: it runs
rsync as a subprocess with the argv prefix the spec fixes, drains its
merged stdout/stderr on a goroutine, and reports a Result carrying one of
the rsync_* outcomes plus the captured output lines.

Built around context.WithTimeout and exec.CommandContext, returning a
captured-output Result rather than a boolean, with a three-way
succeeded/failed/timed-out contract (spec.md §4.5) and prefix
deduplication against a pkg/rpki/fetchcache.Cache folded in rather than
left to the caller.
*/
package fetch
