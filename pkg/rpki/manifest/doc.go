/*
Package manifest is the manifest validator of spec.md §4.8: it decodes
the CMS-wrapped manifest body, validates its embedded EE certificate and
the CRL it names, and runs the full verification engine on the EE before
trusting the file listing.
*/
package manifest
