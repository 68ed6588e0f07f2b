/*
Package objreader is the object reader of spec.md §4.2: it streams a file
through a SHA-256 hash filter and decodes the bytes as a certificate, a
CRL, or a CMS-wrapped signed object, handing the caller both the decoded
value and the digest so callers that were given an expected hash (a
manifest entry, say) can compare without a second read.
*/
package objreader
