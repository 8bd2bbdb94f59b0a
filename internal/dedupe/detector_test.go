package dedupe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgepoint-lending/docresolve/internal/config"
	"github.com/ridgepoint-lending/docresolve/internal/fingerprint"
	"github.com/ridgepoint-lending/docresolve/internal/model"
)

func defaultDetector() *Detector {
	return NewDetector(config.DedupeConfig{
		SimilarityLow:    0.40,
		SimilarityMedium: 0.60,
		SimilarityHigh:   0.80,
	})
}

func fpResult(id, exact, content, sig string, pages int, sizeKB float64) fingerprint.Result {
	return fingerprint.Result{
		DocumentID: id,
		Fingerprint: model.Fingerprint{
			DocumentID:       id,
			ExactHash:        exact,
			ContentHash:      content,
			ContentSignature: sig,
			Metadata:         model.MetadataKey{PageCount: pages, SizeKB: sizeKB},
		},
	}
}

func TestDetect_ExactTier(t *testing.T) {
	docs := []*model.Document{
		{ID: "a", Filename: "A.pdf"},
		{ID: "b", Filename: "B.pdf"},
		{ID: "c", Filename: "C.pdf"},
	}
	results := []fingerprint.Result{
		fpResult("a", "h1", "", "", 1, 10),
		fpResult("b", "h1", "", "", 1, 10),
		fpResult("c", "h2", "", "", 1, 12),
	}

	report := defaultDetector().Detect("loan-1", docs, results)

	exact := report.GroupsByTier(model.TierExact)
	require.Len(t, exact, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, exact[0].DocumentIDs)

	// Exact duplicates never also appear as similar pairs.
	assert.Empty(t, report.GroupsByTier(model.TierSimilar))
}

func TestDetect_ContentTierExcludesExactMembers(t *testing.T) {
	docs := []*model.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	results := []fingerprint.Result{
		fpResult("a", "h1", "c1", "", 1, 10),
		fpResult("b", "h1", "c1", "", 1, 10), // exact dup of a
		fpResult("c", "h3", "c9", "", 1, 11), // content dup of d, different bytes
		fpResult("d", "h4", "c9", "", 1, 11),
	}

	report := defaultDetector().Detect("loan-1", docs, results)

	content := report.GroupsByTier(model.TierContent)
	require.Len(t, content, 1)
	assert.ElementsMatch(t, []string{"c", "d"}, content[0].DocumentIDs)
}

func TestDetect_NullContentHashExcludedFromContentTier(t *testing.T) {
	docs := []*model.Document{{ID: "a"}, {ID: "b"}}
	results := []fingerprint.Result{
		fpResult("a", "h1", "", "", 1, 10),
		fpResult("b", "h2", "", "", 2, 20),
	}

	report := defaultDetector().Detect("loan-1", docs, results)
	assert.Empty(t, report.GroupsByTier(model.TierContent))
}

func TestDetect_MetadataTier(t *testing.T) {
	docs := []*model.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	results := []fingerprint.Result{
		// Same shape, different content: flagged.
		fpResult("a", "h1", "", "", 3, 150.25),
		fpResult("b", "h2", "", "", 3, 150.25),
		// Same shape AND same exact hash: already an exact group, not metadata.
		fpResult("c", "h9", "", "", 5, 99.10),
		fpResult("d", "h9", "", "", 5, 99.10),
	}

	report := defaultDetector().Detect("loan-1", docs, results)

	meta := report.GroupsByTier(model.TierMetadata)
	require.Len(t, meta, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, meta[0].DocumentIDs)
	require.Len(t, report.GroupsByTier(model.TierExact), 1)
}

func TestDetect_SimilarTierBandsAndBuckets(t *testing.T) {
	docs := []*model.Document{
		{ID: "a", DocumentType: "w2", PageCount: 1},
		{ID: "b", DocumentType: "w2", PageCount: 1},
		{ID: "x", DocumentType: "paystub", PageCount: 1}, // different bucket
	}
	// a and b share 3 of 4 tokens => union 5, intersection 3, score 0.6? no:
	// tokens a: {t1,t2,t3,t4}, b: {t1,t2,t3,t5} -> intersection 3, union 5 = 0.6.
	results := []fingerprint.Result{
		fpResult("a", "h1", "ca", "t1:v|t2:v|t3:v|t4:v", 1, 10),
		fpResult("b", "h2", "cb", "t1:v|t2:v|t3:v|t5:v", 1, 10.5),
		fpResult("x", "h3", "cx", "t1:v|t2:v|t3:v|t4:v", 1, 10),
	}

	report := defaultDetector().Detect("loan-1", docs, results)

	similar := report.GroupsByTier(model.TierSimilar)
	require.Len(t, similar, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, similar[0].DocumentIDs)
	assert.InDelta(t, 0.6, similar[0].Score, 0.001)
	assert.Equal(t, model.BandMedium, similar[0].Band)
}

func TestDetect_SkippedDocumentsReported(t *testing.T) {
	docs := []*model.Document{{ID: "a", Filename: "a.pdf"}, {ID: "bad", Filename: "bad.pdf"}}
	results := []fingerprint.Result{
		fpResult("a", "h1", "", "", 1, 10),
		{DocumentID: "bad", Err: errors.New("unreadable")},
	}

	report := defaultDetector().Detect("loan-1", docs, results)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "bad", report.Skipped[0].DocumentID)
	assert.Equal(t, "bad.pdf", report.Skipped[0].Filename)
}

func TestDetect_Recommendations(t *testing.T) {
	docs := []*model.Document{{ID: "a"}, {ID: "b"}}
	results := []fingerprint.Result{
		fpResult("a", "h1", "", "", 1, 10),
		fpResult("b", "h1", "", "", 1, 10),
	}

	report := defaultDetector().Detect("loan-1", docs, results)
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, "keep_one", report.Recommendations[0].Action)
}

func TestJaccard_Symmetric(t *testing.T) {
	a := map[string]bool{"x": true, "y": true, "z": true}
	b := map[string]bool{"y": true, "z": true, "w": true}
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
}

func TestJaccard_SelfSimilarityIsOne(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	assert.Equal(t, 1.0, Jaccard(a, a))
}

func TestJaccard_EmptySets(t *testing.T) {
	a := map[string]bool{"x": true}
	assert.Equal(t, 0.0, Jaccard(a, nil))
	assert.Equal(t, 0.0, Jaccard(nil, a))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}
