package model

import "fmt"

// MetadataKey is the coarse identity tuple used for the metadata duplicate
// tier: page count plus size in KB rounded to two decimals.
type MetadataKey struct {
	PageCount int     `json:"page_count"`
	SizeKB    float64 `json:"size_kb"`
}

// String renders the key in a stable, map-friendly form.
func (k MetadataKey) String() string {
	return fmt.Sprintf("%d:%.2f", k.PageCount, k.SizeKB)
}

// Fingerprint is a pure projection of one Document into its identity
// signals. It is derived, never stored independently.
type Fingerprint struct {
	DocumentID string      `json:"document_id"`
	ExactHash  string      `json:"exact_hash"`
	// ContentHash is "" when the document has no structured extraction yet;
	// such documents are excluded from content-tier comparison.
	ContentHash      string      `json:"content_hash,omitempty"`
	ContentSignature string      `json:"content_signature,omitempty"`
	Metadata         MetadataKey `json:"metadata"`
}

// HasContent reports whether the fingerprint carries a content signal.
func (f Fingerprint) HasContent() bool {
	return f.ContentHash != ""
}
