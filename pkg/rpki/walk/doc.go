/*
Package walk is the walk engine of spec.md §4.11: an explicit stack of
frames, each driven through initial/rsync/ready/current/backup/done by
repeated Step calls rather than recursion, so the only suspension point
in a sweep is the fetcher's subprocess drain (pkg/rpki/fetch).
*/
package walk
