/*
Package history is a supplemental, non-validating side-channel: it
persists a summary of each completed run so the CLI can show trend lines
("rcynic history") without re-parsing old XML summaries.

A single bbolt-backed store: one bucket, JSON values keyed by a UUID,
db.Update/db.View transactions. Nothing in
pkg/rpki consults this store when making accept/reject decisions, so it
cannot affect the idempotence law in spec.md §8.
*/
package history
