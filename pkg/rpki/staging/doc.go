/*
Package staging implements the three-root filesystem staging protocol of
spec.md §4.13: unauthenticated/ (raw fetched files), authenticated/
(objects accepted this run), and old_authenticated/ (objects accepted
last run, kept as a fallback source).

Built from mkdir-then-write install helpers and os.RemoveAll cleanup,
generalized into the rotate/install/prune protocol spec.md §4.13
describes.
*/
package staging
