package fetch

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/uri"
)

// Result is the outcome of one fetch invocation.
type Result struct {
	Outcome counters.Outcome
	Lines   []string
	Err     error
}

// Fetcher runs rsync against a configured unauthenticated root, deduping
// against a fetch cache per spec.md §4.4/§4.5.
type Fetcher struct {
	Program         string
	Timeout         time.Duration // 0 disables the per-fetch timeout
	UnauthRoot      string
	Cache           *fetchcache.Cache
}

// New returns a Fetcher invoking program (e.g. "rsync"), bounded by
// timeout (0 for none), fetching into unauthRoot and deduplicating
// against cache.
func New(program string, timeout time.Duration, unauthRoot string, cache *fetchcache.Cache) *Fetcher {
	return &Fetcher{Program: program, Timeout: timeout, UnauthRoot: unauthRoot, Cache: cache}
}

// Tree performs a recursive mirror fetch of u (rsync_tree, spec.md §4.5):
// a no-op success if u is already prefix-covered by the cache, otherwise
// an rsync invocation with --recursive --delete. Every outcome is
// recorded in the cache before returning.
func (f *Fetcher) Tree(ctx context.Context, u string) Result {
	return f.fetch(ctx, u, true)
}

// File performs a single-file fetch of u (rsync_file, spec.md §4.5).
func (f *Fetcher) File(ctx context.Context, u string) Result {
	return f.fetch(ctx, u, false)
}

func (f *Fetcher) fetch(ctx context.Context, u string, tree bool) Result {
	if f.Cache.Cached(u) {
		return Result{Outcome: counters.RsyncSucceeded}
	}

	dest, err := uri.ToPath(u, f.UnauthRoot)
	if err != nil {
		f.Cache.Insert(u)
		return Result{Outcome: counters.RsyncFailed, Err: err}
	}

	args := []string{"--update", "--times", "--copy-links", "--itemize-changes"}
	if tree {
		args = append(args, "--recursive", "--delete")
	}
	args = append(args, u, dest)

	result := f.run(ctx, args)
	f.Cache.Insert(u)
	return result
}

// run executes the configured program with args, draining its merged
// stdout/stderr line-by-line on a goroutine — the one asynchronous
// boundary spec.md §5 allows, and the only suspension point in an
// otherwise single-threaded core.
func (f *Fetcher) run(ctx context.Context, args []string) Result {
	runCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, f.Program, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var lines []string
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		io.Copy(io.Discard, pr)
	}()

	startErr := cmd.Start()
	if startErr != nil {
		pw.Close()
		<-drained
		return Result{Outcome: counters.RsyncFailed, Err: startErr}
	}

	waitErr := cmd.Wait()
	pw.Close()
	<-drained

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Outcome: counters.RsyncTimedOut, Lines: lines, Err: runCtx.Err()}
	}
	if waitErr != nil {
		return Result{Outcome: counters.RsyncFailed, Lines: lines, Err: waitErr}
	}
	return Result{Outcome: counters.RsyncSucceeded, Lines: lines}
}
