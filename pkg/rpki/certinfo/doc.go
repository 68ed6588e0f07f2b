/*
Package certinfo implements the certificate parser of spec.md §4.3: it
walks a decoded certificate's Basic Constraints, AIA, SIA, and CRLDP
extensions and reduces them to the handful of fields the rest of the
validator actually consults (whether the subject is a CA, its source
URI, and the repository/manifest/CRL/issuer URIs), setting flags on
the result (MalformedCRLDP, URITooLong) for malformed shapes rather than
failing outright.
*/
package certinfo
