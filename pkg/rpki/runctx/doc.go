/*
Package runctx wires one run's collaborators — staging roots, fetcher,
caches, policy, counters, and the event bus — into a single value passed
explicitly to the walk engine, instead of any of it living behind a
process-global. It also owns the two concerns spec.md §1 calls out as
external to the core: the process-level lock file and running a sweep
over every configured trust anchor start to finish.
*/
package runctx
