package trustanchor

import (
	"bufio"
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/fetch"
	"github.com/relyingparty/rcynic/pkg/rpki/objreader"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
)

// ErrEmptyTAL is returned when a TAL file has no URI line.
var ErrEmptyTAL = errors.New("trustanchor: empty TAL file")

// Anchor is a resolved trust anchor: its certificate and, for a
// TAL-resolved anchor, the URI it was fetched from.
type Anchor struct {
	URI  string
	Cert *x509.Certificate
}

// LoadLocalFile loads a local-certificate trust anchor, spec.md §6: a
// single DER-encoded CA certificate with no associated URI.
func LoadLocalFile(path string) (*Anchor, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trustanchor: reading %s: %w", path, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("trustanchor: parsing %s: %w", path, err)
	}
	return &Anchor{Cert: cert}, nil
}

// TAL is a parsed trust anchor locator: the rsync URI of the anchor
// certificate and its expected SubjectPublicKeyInfo.
type TAL struct {
	URI       string
	PublicKey []byte // DER-encoded SubjectPublicKeyInfo
}

// ParseTAL reads a TAL file: its first trimmed line is the anchor's
// rsync URI, and every subsequent non-blank line is base64, concatenated
// to recover the DER SubjectPublicKeyInfo.
func ParseTAL(r io.Reader) (*TAL, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var uri string
	var b64 strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if uri == "" {
			uri = line
			continue
		}
		b64.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trustanchor: reading TAL: %w", err)
	}
	if uri == "" {
		return nil, ErrEmptyTAL
	}

	spki, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return nil, fmt.Errorf("trustanchor: decoding TAL public key: %w", err)
	}

	return &TAL{URI: uri, PublicKey: spki}, nil
}

// Resolve fetches the TAL's anchor URI and checks the fetched
// certificate's public key against the TAL-bound key by value, spec.md
// §6's TAL acceptance rule.
func (t *TAL) Resolve(ctx context.Context, fetcher *fetch.Fetcher, roots staging.Roots) (*Anchor, counters.Outcome) {
	res := fetcher.File(ctx, t.URI)
	if res.Outcome != counters.RsyncSucceeded {
		return nil, res.Outcome
	}

	path, err := roots.UnauthPath(t.URI)
	if err != nil {
		return nil, counters.TALMismatch
	}
	cert, _, err := objreader.Certificate(path)
	if err != nil {
		return nil, counters.TALMismatch
	}

	if !bytes.Equal(cert.RawSubjectPublicKeyInfo, t.PublicKey) {
		return nil, counters.TALMismatch
	}

	return &Anchor{URI: t.URI, Cert: cert}, counters.ValidationOK
}
