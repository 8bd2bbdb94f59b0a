package grouping

import (
	"encoding/json"
	"sort"

	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/oracle"
)

// bytesPerToken is the size proxy used to estimate prompt tokens from
// serialized candidate bytes. Intentionally conservative.
const bytesPerToken = 4

// perDocOverheadTokens accounts for JSON punctuation and prompt framing
// around each candidate.
const perDocOverheadTokens = 24

// candidate summarizes a document for the oracle and carries its position
// in the deterministic order.
type candidate struct {
	doc *model.Document
	pos int
	est int // estimated prompt tokens
}

// sortDocuments orders documents by the stable batching key: filename, then
// id to break ties. The position of each document in this order defines the
// freeze boundary between batches.
func sortDocuments(docs []*model.Document) []*model.Document {
	sorted := append([]*model.Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Filename != sorted[j].Filename {
			return sorted[i].Filename < sorted[j].Filename
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// buildCandidates projects sorted documents into oracle candidates with
// token estimates.
func buildCandidates(sorted []*model.Document) []candidate {
	out := make([]candidate, len(sorted))
	for i, doc := range sorted {
		c := toCandidateDocument(doc)
		est := perDocOverheadTokens
		if raw, err := json.Marshal(c); err == nil {
			est += len(raw) / bytesPerToken
		}
		out[i] = candidate{doc: doc, pos: i, est: est}
	}
	return out
}

// splitIntoBatches accumulates candidates into windows bounded by the token
// budget. A single oversized candidate still gets its own batch; batching
// must never drop a document.
func splitIntoBatches(cands []candidate, tokenBudget int) [][]candidate {
	if tokenBudget <= 0 {
		tokenBudget = 60000
	}

	var batches [][]candidate
	var current []candidate
	used := 0
	for _, c := range cands {
		if len(current) > 0 && used+c.est > tokenBudget {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, c)
		used += c.est
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// toCandidateDocument builds the oracle-facing summary of one document.
func toCandidateDocument(doc *model.Document) oracle.CandidateDocument {
	hints := make(map[string]string)
	for _, key := range []string{
		model.MetaHasSignature,
		model.MetaDocumentDate,
		model.MetaVersionIndicator,
		model.MetaCompleteness,
		model.MetaBorrowerName,
	} {
		if v := doc.Meta(key); v != "" {
			hints[key] = v
		}
	}
	return oracle.CandidateDocument{
		ID:             doc.ID,
		Filename:       doc.Filename,
		AssertedType:   doc.DocumentType,
		PageCount:      doc.PageCount,
		SignatureHints: hints,
	}
}

// candidateIDs extracts the window's document ids.
func candidateIDs(cands []candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.doc.ID
	}
	return ids
}
