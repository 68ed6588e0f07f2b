/*
Package verify is the verification engine of spec.md §4.6: a profile
gate (the RPKI certificate-profile rules that run before any
cryptographic check), followed by crypto/x509.Certificate.Verify
configured with the explicit issuer chain, an independent CRL revocation
check (the standard library's Verify has no CRL-check hook), and an
RFC 3779 resource-nesting check via pkg/rpki/resources.

Built on x509.CertPool and x509.VerifyOptions, generalized from a single
fixed CA into chain-of-arbitrary-depth verification with the RPKI
profile and RFC 3779 layered on top.
*/
package verify
