/*
Package ghostbuster is the Ghostbusters record validator of spec.md
§4.10: the same CMS/EE/CRL validation skeleton as pkg/rpki/roa, but for
eContentType id-ct-rpkiGhostbusters. The vCard payload itself is carried
through verbatim and is not inspected.
*/
package ghostbuster
