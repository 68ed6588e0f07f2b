/*
Package cms decodes the CMS SignedData wrapper (RFC 5652, profiled by RFC
6488) that carries every RPKI signed object: manifests, ROAs, and
Ghostbuster records. It verifies the enclosed signature against the
single embedded EE certificate without yet building or checking that
certificate's issuer chain — chain validation is the verification
engine's job (pkg/rpki/verify), run afterward with the walk stack's
accumulated issuer certificates.

No repository in the retrieved corpus parses CMS; go.mozilla.org/pkcs7,
used by the Authenticode verifier in the examples pack for the structurally
identical problem (PKCS#7/CMS SignedData signature verification against an
embedded certificate), is adopted here as the out-of-pack grounding for
that concern.
*/
package cms
