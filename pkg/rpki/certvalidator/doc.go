/*
Package certvalidator implements check_cert, spec.md §4.12: it prefers
an already-installed certificate, and otherwise tries the current
source then the backup source, each run through the full verification
engine with the caller's chain. Acceptance installs the file and
toggles the backup recheck tag so a later run retries a cert accepted
only from backup.
*/
package certvalidator
