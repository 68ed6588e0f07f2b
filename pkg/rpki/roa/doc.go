/*
Package roa is the Route Origin Attestation validator of spec.md §4.9: it
decodes the CMS-wrapped ROA body, de-nests and canonicalizes its address
prefixes, validates the embedded EE certificate and the CRL it names, and
checks that the prefix set is nested inside the EE's RFC 3779 IP
resources before trusting the attestation.
*/
package roa
