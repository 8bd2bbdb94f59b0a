package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestHashFile_MatchesSHA256(t *testing.T) {
	data := []byte("promissory note, page 1 of 3")
	path := writeTempFile(t, "note.pdf", data)

	engine := NewEngine()
	got, err := engine.HashFile(path)
	require.NoError(t, err)

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestHashFile_LargeFileChunked(t *testing.T) {
	// Bigger than one chunk so the copy loop runs more than once.
	data := make([]byte, hashChunkSize*3+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, "big.pdf", data)

	engine := NewEngine()
	got, err := engine.HashFile(path)
	require.NoError(t, err)

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestHashFile_Unreadable(t *testing.T) {
	engine := NewEngine()
	_, err := engine.HashFile("/nonexistent/path/doc.pdf")
	require.Error(t, err)

	var ioErr *resilience.IOFailure
	assert.True(t, errors.As(err, &ioErr))
}

func TestFingerprint_FullSignals(t *testing.T) {
	data := []byte("scanned bytes")
	path := writeTempFile(t, "w2.pdf", data)

	doc := &model.Document{
		ID:        "doc-1",
		Filename:  "w2.pdf",
		FilePath:  path,
		SizeBytes: int64(len(data)),
		PageCount: 2,
		Extraction: json.RawMessage(`{"employer": "Acme Corp", "wages": 55000}`),
	}

	engine := NewEngine()
	fp, err := engine.Fingerprint(doc)
	require.NoError(t, err)

	assert.Equal(t, "doc-1", fp.DocumentID)
	assert.NotEmpty(t, fp.ExactHash)
	assert.True(t, fp.HasContent())
	assert.Equal(t, 2, fp.Metadata.PageCount)
}

func TestFingerprint_NoExtraction(t *testing.T) {
	path := writeTempFile(t, "scan.pdf", []byte("raw"))
	doc := &model.Document{ID: "doc-2", FilePath: path, PageCount: 1}

	engine := NewEngine()
	fp, err := engine.Fingerprint(doc)
	require.NoError(t, err)
	assert.False(t, fp.HasContent(), "no extraction payload must yield no content hash")
}

func TestFingerprint_FallsBackToStoredHash(t *testing.T) {
	doc := &model.Document{ID: "doc-3", ExactHash: "abc123", PageCount: 4}

	engine := NewEngine()
	fp, err := engine.Fingerprint(doc)
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp.ExactHash)
}

func TestFingerprint_Deterministic(t *testing.T) {
	doc := &model.Document{
		ID:        "doc-4",
		ExactHash: "feed",
		Extraction: json.RawMessage(`{"loan_number": "LN-9", "borrower": {"name": "Alice"}}`),
	}

	engine := NewEngine()
	a, err := engine.Fingerprint(doc)
	require.NoError(t, err)
	b, err := engine.Fingerprint(doc)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintAll_CollectsFailuresWithoutAborting(t *testing.T) {
	good := writeTempFile(t, "ok.pdf", []byte("fine"))
	docs := []*model.Document{
		{ID: "ok", FilePath: good},
		{ID: "bad", FilePath: "/no/such/file.pdf"},
	}

	results := FingerprintAll(context.Background(), NewEngine(), docs, 2)
	require.Len(t, results, 2)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.DocumentID] = r
	}
	assert.NoError(t, byID["ok"].Err)
	assert.NotEmpty(t, byID["ok"].Fingerprint.ExactHash)
	assert.Error(t, byID["bad"].Err)
}
