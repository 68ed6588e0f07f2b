/*
Package fetchcache implements the prefix-deduplicating fetch cache of
spec.md §4.4, plus the two small auxiliary caches spec.md §3/§4.7
describe: a set of URIs whose stale CRL or stale manifest has already
been warned about once, and a "needs recheck" tag per certificate URI
that records whether its last acceptance came from the backup tree.

Follows the plain "map guarded by a mutex" shape common to small
in-process trackers; the longest-prefix walk itself is new, grounded
directly on spec.md §4.4.
*/
package fetchcache
