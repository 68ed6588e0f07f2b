/*
Package trustanchor resolves configured trust anchors, spec.md §6, to an
initial certificate for the walk engine: either a local DER file loaded
directly, or a trust anchor locator (TAL) naming an rsync URI and an
expected SubjectPublicKeyInfo, fetched and checked against that key.
*/
package trustanchor
