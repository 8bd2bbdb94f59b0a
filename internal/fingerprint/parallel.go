package fingerprint

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// Result pairs a fingerprint (or its failure) with its document.
type Result struct {
	DocumentID  string
	Fingerprint model.Fingerprint
	Err         error
}

// FingerprintAll fingerprints a document set on a worker pool bounded by
// concurrency. Fingerprinting is stateless per document; the only suspension
// point is file I/O. Per-document failures are returned in the results, not
// propagated - a skipped file never aborts the batch.
func FingerprintAll(ctx context.Context, engine *Engine, docs []*model.Document, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = 8
	}

	results := make([]Result, len(docs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for i, doc := range docs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				mu.Lock()
				results[i] = Result{DocumentID: doc.ID, Err: err}
				mu.Unlock()
				return nil
			}

			fp, err := engine.Fingerprint(doc)
			if err != nil {
				zap.L().Warn("fingerprint: skipping unreadable document",
					zap.String("document_id", doc.ID),
					zap.String("filename", doc.Filename),
					zap.Error(err),
				)
			}
			mu.Lock()
			results[i] = Result{DocumentID: doc.ID, Fingerprint: fp, Err: err}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}
