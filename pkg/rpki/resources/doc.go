/*
Package resources implements the RFC 3779 resource sets (IPv4, IPv6, and
AS-number extensions) used by the verification engine (spec.md §4.6) and
the ROA validator (spec.md §4.9) to check that a subject's resources nest
inside its issuer's.

No example in the retrieved corpus parses RFC 3779 extensions, so this
package is built on the standard library alone: net/netip for IP
prefixes, math/big for AS ranges wide enough to hold the full 32-bit
number space without sign trouble.
*/
package resources
