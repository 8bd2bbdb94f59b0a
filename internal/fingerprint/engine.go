// Package fingerprint derives per-document identity signals: an exact byte
// hash, a normalized content fingerprint over extracted fields, and a
// page/size metadata tuple.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

// hashChunkSize bounds memory while hashing arbitrarily large files.
const hashChunkSize = 64 * 1024

// Engine computes fingerprints. It is stateless; methods are pure functions
// of document bytes and metadata and make no network calls.
type Engine struct{}

// NewEngine returns a fingerprint engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Fingerprint projects one document into its identity signals. The exact
// hash is read from the file at doc.FilePath when present; otherwise the
// hash previously persisted on the document is used. A document with
// neither yields an IOFailure, which callers skip and report rather than
// aborting the batch.
func (e *Engine) Fingerprint(doc *model.Document) (model.Fingerprint, error) {
	fp := model.Fingerprint{
		DocumentID: doc.ID,
		Metadata: model.MetadataKey{
			PageCount: doc.PageCount,
			SizeKB:    doc.SizeKB(),
		},
	}

	switch {
	case doc.FilePath != "":
		hash, err := e.HashFile(doc.FilePath)
		if err != nil {
			return model.Fingerprint{}, err
		}
		fp.ExactHash = hash
	case doc.ExactHash != "":
		fp.ExactHash = doc.ExactHash
	default:
		return model.Fingerprint{}, &resilience.IOFailure{
			Path: doc.Filename,
			Err:  eris.New("no file path and no stored hash"),
		}
	}

	sig, err := ContentSignature(doc.Extraction)
	if err != nil {
		// A malformed extraction payload degrades the document to the
		// byte/metadata tiers instead of failing it.
		return fp, nil
	}
	if sig != "" {
		fp.ContentSignature = sig
		fp.ContentHash = hashString(sig)
	}

	return fp, nil
}

// HashFile computes the SHA-256 of a file's full byte stream, reading in
// fixed-size chunks.
func (e *Engine) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &resilience.IOFailure{Path: path, Err: err}
	}
	defer f.Close()

	return e.HashReader(f, path)
}

// HashReader computes the SHA-256 of a byte stream. The path is used only
// for error reporting.
func (e *Engine) HashReader(r io.Reader, path string) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", &resilience.IOFailure{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
