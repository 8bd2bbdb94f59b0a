// Package oracle defines the classification capability the semantic
// grouping coordinator consumes: given a window of candidate documents plus
// accumulated cluster context, propose variant clusters. The production
// implementation calls Anthropic; tests inject deterministic stubs.
package oracle

import (
	"context"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// CandidateDocument is one document summarized for the oracle.
type CandidateDocument struct {
	ID             string            `json:"id"`
	Filename       string            `json:"filename"`
	AssertedType   string            `json:"asserted_type"`
	PageCount      int               `json:"page_count"`
	SignatureHints map[string]string `json:"signature_hints,omitempty"`
}

// ClassifyRequest is one batch window sent to the oracle. FrozenSummary is
// read-only context describing clusters that can no longer change;
// TailContext replays the still-open clusters the oracle may extend.
type ClassifyRequest struct {
	BatchIndex    int
	WindowIDs     []string
	FrozenSummary string
	TailContext   []model.VersionCluster
	Candidates    []CandidateDocument
	// Strict requests a shorter, schema-only response after a parse failure.
	Strict bool
}

// Oracle proposes variant clusters for a batch of documents.
type Oracle interface {
	Classify(ctx context.Context, req ClassifyRequest) (*model.ClassificationJudgment, error)
}
