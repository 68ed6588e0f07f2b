/*
Package crl is the CRL validator of spec.md §4.7: given a CRL's URI and
its issuer, it tries the already-installed copy, then the freshly
fetched copy, then the backup copy, verifying the issuer's signature
(and, when supplied, a manifest-asserted hash) on the first one that
parses, and installing it into authenticated/ on success.
*/
package crl
