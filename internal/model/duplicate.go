package model

// DuplicateTier identifies which detection level flagged a group.
type DuplicateTier string

const (
	TierExact    DuplicateTier = "exact"
	TierContent  DuplicateTier = "content"
	TierMetadata DuplicateTier = "metadata"
	TierSimilar  DuplicateTier = "similar"
)

// SimilarityBand buckets a Jaccard score for review triage.
type SimilarityBand string

const (
	BandHigh   SimilarityBand = "high"   // >= 0.80
	BandMedium SimilarityBand = "medium" // >= 0.60
	BandLow    SimilarityBand = "low"    // >= 0.40
)

// BandForScore maps a similarity score to its band. Scores below the low
// threshold are not reported and yield "".
func BandForScore(score, low, medium, high float64) SimilarityBand {
	switch {
	case score >= high:
		return BandHigh
	case score >= medium:
		return BandMedium
	case score >= low:
		return BandLow
	}
	return ""
}

// DuplicateGroup is a set of two or more documents asserted to be duplicates
// at one tier. Score and Band are set only for the similar tier.
type DuplicateGroup struct {
	Tier        DuplicateTier  `json:"tier"`
	DocumentIDs []string       `json:"document_ids"`
	Score       float64        `json:"score,omitempty"`
	Band        SimilarityBand `json:"band,omitempty"`
}

// Recommendation is the suggested remediation for one duplicate group.
type Recommendation struct {
	Tier        DuplicateTier `json:"tier"`
	DocumentIDs []string      `json:"document_ids"`
	Action      string        `json:"action"` // "keep_one" or "review"
	Detail      string        `json:"detail,omitempty"`
}

// SkippedDocument records a file the detector could not fingerprint.
type SkippedDocument struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
	Reason     string `json:"reason"`
}

// DuplicateReport is the full output of the multi-level duplicate detector.
// The detector only classifies; it never deletes files.
type DuplicateReport struct {
	LoanID          string                `json:"loan_id,omitempty"`
	Groups          []DuplicateGroup      `json:"groups"`
	Recommendations []Recommendation      `json:"recommendations"`
	Skipped         []SkippedDocument     `json:"skipped,omitempty"`
	TotalDocuments  int                   `json:"total_documents"`
	CountsByTier    map[DuplicateTier]int `json:"counts_by_tier"`
}

// GroupsByTier returns the groups flagged at the given tier.
func (r *DuplicateReport) GroupsByTier(tier DuplicateTier) []DuplicateGroup {
	var out []DuplicateGroup
	for _, g := range r.Groups {
		if g.Tier == tier {
			out = append(out, g)
		}
	}
	return out
}

// DuplicateIDs returns the set of document IDs caught by the exact or
// content tiers. These documents are settled by hashing and skip semantic
// grouping.
func (r *DuplicateReport) DuplicateIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, g := range r.Groups {
		if g.Tier != TierExact && g.Tier != TierContent {
			continue
		}
		for _, id := range g.DocumentIDs {
			ids[id] = true
		}
	}
	return ids
}
