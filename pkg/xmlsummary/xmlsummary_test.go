package xmlsummary

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRoundTripsRegistryState(t *testing.T) {
	registry := counters.NewRegistry()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	registry.Record("rpki.example.net", "rsync://rpki.example.net/repo/ta.cer", counters.CurrentCertAccepted, now)
	registry.Record("rpki.example.net", "rsync://rpki.example.net/repo/bad.roa", counters.ROADigestMismatch, now)
	registry.RecordFetch("rpki.example.net", counters.RsyncSucceeded)

	var buf bytes.Buffer
	err := Write(&buf, registry, "validator.example.org", "2026-01-02T03:04:05Z")
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, out, `reporting-hostname="validator.example.org"`)
	assert.Contains(t, out, `rcynic-version="dev"`)
	assert.Contains(t, out, `<label tag="validation_ok" kind="good"></label>`)
	assert.Contains(t, out, `hostname="rpki.example.net"`)
	assert.Contains(t, out, `<current_cert_accepted>1</current_cert_accepted>`)
	assert.Contains(t, out, `<roa_digest_mismatch>1</roa_digest_mismatch>`)
	assert.Contains(t, out, `<rsync_succeeded>1</rsync_succeeded>`)
	assert.Contains(t, out, `status="current_cert_accepted"`)
	assert.Contains(t, out, `rsync://rpki.example.net/repo/bad.roa`)

	// rsync_succeeded has no validation_status entry, spec.md §3/§8: it
	// counts a fetch, not a validation.
	assert.NotContains(t, out, `status="rsync_succeeded"`)
}

func TestWriteEmptyRegistry(t *testing.T) {
	registry := counters.NewRegistry()

	var buf bytes.Buffer
	err := Write(&buf, registry, "validator.example.org", "2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<rcynic-summary")
	assert.NotContains(t, buf.String(), "<host ")
}

func TestWriteFileStdout(t *testing.T) {
	registry := counters.NewRegistry()
	err := WriteFile("-", registry, "validator.example.org", "2026-01-02T03:04:05Z")
	require.NoError(t, err)
}

func TestWriteFileToPath(t *testing.T) {
	registry := counters.NewRegistry()
	registry.RecordFetch("rpki.example.net", counters.RsyncSucceeded)

	path := t.TempDir() + "/summary.xml"
	require.NoError(t, WriteFile(path, registry, "validator.example.org", "2026-01-02T03:04:05Z"))
}
