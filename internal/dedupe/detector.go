// Package dedupe partitions a loan's document set into duplicate tiers:
// exact byte hash, content fingerprint, metadata shape, and near-duplicate
// similarity. Tiers are evaluated in order and are mutually exclusive per
// pair. The detector only classifies; it never deletes files.
package dedupe

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/config"
	"github.com/ridgepoint-lending/docresolve/internal/fingerprint"
	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// Detector runs the four-tier duplicate analysis for one loan's corpus.
type Detector struct {
	cfg config.DedupeConfig
}

// NewDetector creates a detector with the given similarity thresholds.
func NewDetector(cfg config.DedupeConfig) *Detector {
	if cfg.SimilarityLow <= 0 {
		cfg.SimilarityLow = 0.40
	}
	if cfg.SimilarityMedium <= 0 {
		cfg.SimilarityMedium = 0.60
	}
	if cfg.SimilarityHigh <= 0 {
		cfg.SimilarityHigh = 0.80
	}
	return &Detector{cfg: cfg}
}

// Detect consumes fingerprint results for an entire loan and produces the
// duplicate report. Documents whose fingerprinting failed are reported as
// skipped, never dropped silently.
func (d *Detector) Detect(loanID string, docs []*model.Document, results []fingerprint.Result) *model.DuplicateReport {
	report := &model.DuplicateReport{
		LoanID:         loanID,
		TotalDocuments: len(docs),
		CountsByTier:   make(map[model.DuplicateTier]int),
	}

	docsByID := make(map[string]*model.Document, len(docs))
	for _, doc := range docs {
		docsByID[doc.ID] = doc
	}

	var fps []model.Fingerprint
	for _, r := range results {
		if r.Err != nil {
			doc := docsByID[r.DocumentID]
			skipped := model.SkippedDocument{DocumentID: r.DocumentID, Reason: r.Err.Error()}
			if doc != nil {
				skipped.Filename = doc.Filename
			}
			report.Skipped = append(report.Skipped, skipped)
			continue
		}
		fps = append(fps, r.Fingerprint)
	}

	// Stable input order keeps group membership deterministic.
	sort.Slice(fps, func(i, j int) bool { return fps[i].DocumentID < fps[j].DocumentID })

	grouped := make(map[string]bool) // settled by exact or content tier

	// Tier 1: exact byte hash.
	for _, group := range groupBy(fps, nil, func(fp model.Fingerprint) string { return fp.ExactHash }) {
		report.Groups = append(report.Groups, model.DuplicateGroup{
			Tier:        model.TierExact,
			DocumentIDs: group,
		})
		markAll(grouped, group)
	}

	// Tier 2: content fingerprint. Byte-different re-scans with identical
	// extracted content land here.
	for _, group := range groupBy(fps, grouped, func(fp model.Fingerprint) string { return fp.ContentHash }) {
		report.Groups = append(report.Groups, model.DuplicateGroup{
			Tier:        model.TierContent,
			DocumentIDs: group,
		})
		markAll(grouped, group)
	}

	// Tier 3: metadata shape. Same page count and rounded size but not one
	// shared exact hash - candidates for review, not auto-merge.
	for _, group := range d.metadataGroups(fps, grouped) {
		report.Groups = append(report.Groups, model.DuplicateGroup{
			Tier:        model.TierMetadata,
			DocumentIDs: group,
		})
	}

	// Tier 4: Jaccard similarity over content-signature tokens, restricted
	// to the same coarse semantic bucket (asserted type + page count).
	report.Groups = append(report.Groups, d.similarPairs(fps, docsByID, grouped)...)

	for _, g := range report.Groups {
		report.CountsByTier[g.Tier]++
	}
	report.Recommendations = buildRecommendations(report.Groups)

	zap.L().Info("dedupe: detection complete",
		zap.String("loan_id", loanID),
		zap.Int("documents", len(docs)),
		zap.Int("exact", report.CountsByTier[model.TierExact]),
		zap.Int("content", report.CountsByTier[model.TierContent]),
		zap.Int("metadata", report.CountsByTier[model.TierMetadata]),
		zap.Int("similar", report.CountsByTier[model.TierSimilar]),
		zap.Int("skipped", len(report.Skipped)),
	)

	return report
}

// groupBy buckets fingerprints by key, skipping empty keys and documents
// already settled, and returns buckets of size >= 2.
func groupBy(fps []model.Fingerprint, settled map[string]bool, key func(model.Fingerprint) string) [][]string {
	buckets := make(map[string][]string)
	var order []string
	for _, fp := range fps {
		if settled[fp.DocumentID] {
			continue
		}
		k := key(fp)
		if k == "" {
			continue
		}
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], fp.DocumentID)
	}

	var groups [][]string
	for _, k := range order {
		if len(buckets[k]) >= 2 {
			groups = append(groups, buckets[k])
		}
	}
	return groups
}

// metadataGroups finds same-shape buckets whose members do NOT all share one
// exact hash.
func (d *Detector) metadataGroups(fps []model.Fingerprint, settled map[string]bool) [][]string {
	type bucket struct {
		ids    []string
		hashes map[string]bool
	}
	buckets := make(map[string]*bucket)
	var order []string
	for _, fp := range fps {
		if settled[fp.DocumentID] {
			continue
		}
		k := fp.Metadata.String()
		b, seen := buckets[k]
		if !seen {
			b = &bucket{hashes: make(map[string]bool)}
			buckets[k] = b
			order = append(order, k)
		}
		b.ids = append(b.ids, fp.DocumentID)
		b.hashes[fp.ExactHash] = true
	}

	var groups [][]string
	for _, k := range order {
		b := buckets[k]
		if len(b.ids) >= 2 && len(b.hashes) > 1 {
			groups = append(groups, b.ids)
		}
	}
	return groups
}

// similarPairs emits a similar-tier pair for every same-bucket pairing that
// scores at or above the low threshold. Pairs already settled by the exact
// or content tiers are skipped, keeping tiers mutually exclusive per pair.
func (d *Detector) similarPairs(fps []model.Fingerprint, docs map[string]*model.Document, settled map[string]bool) []model.DuplicateGroup {
	// Coarse semantic buckets: same asserted type and page count.
	buckets := make(map[string][]model.Fingerprint)
	var order []string
	for _, fp := range fps {
		if settled[fp.DocumentID] || !fp.HasContent() {
			continue
		}
		doc := docs[fp.DocumentID]
		if doc == nil {
			continue
		}
		k := fmt.Sprintf("%s/%d", doc.DocumentType, doc.PageCount)
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], fp)
	}

	var pairs []model.DuplicateGroup
	for _, k := range order {
		members := buckets[k]
		for i := 0; i < len(members); i++ {
			tokensI := fingerprint.SignatureTokens(members[i].ContentSignature)
			for j := i + 1; j < len(members); j++ {
				score := Jaccard(tokensI, fingerprint.SignatureTokens(members[j].ContentSignature))
				band := model.BandForScore(score, d.cfg.SimilarityLow, d.cfg.SimilarityMedium, d.cfg.SimilarityHigh)
				if band == "" {
					continue
				}
				pairs = append(pairs, model.DuplicateGroup{
					Tier:        model.TierSimilar,
					DocumentIDs: []string{members[i].DocumentID, members[j].DocumentID},
					Score:       score,
					Band:        band,
				})
			}
		}
	}
	return pairs
}

func markAll(set map[string]bool, ids []string) {
	for _, id := range ids {
		set[id] = true
	}
}

func buildRecommendations(groups []model.DuplicateGroup) []model.Recommendation {
	var recs []model.Recommendation
	for _, g := range groups {
		rec := model.Recommendation{Tier: g.Tier, DocumentIDs: g.DocumentIDs}
		switch g.Tier {
		case model.TierExact:
			rec.Action = "keep_one"
			rec.Detail = "byte-identical files; keep one, discard the rest"
		case model.TierContent:
			rec.Action = "keep_one"
			rec.Detail = "different bytes, identical extracted content; keep one"
		case model.TierMetadata:
			rec.Action = "review"
			rec.Detail = "same page count and size, different content; manual review"
		case model.TierSimilar:
			rec.Action = "review"
			rec.Detail = fmt.Sprintf("%s similarity %.2f; version-resolver review", g.Band, g.Score)
		}
		recs = append(recs, rec)
	}
	return recs
}
