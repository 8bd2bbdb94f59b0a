package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

const groupingSystemPrompt = `You analyze mortgage-loan document inventories and identify sets of files that are different states of the same logical document (signed vs unsigned, preliminary vs final, dated revisions, revised copies, incomplete vs complete).

Group only documents of the same asserted type. Respond with a single valid JSON object:
{"clusters": [{"member_ids": ["<id>", ...], "group_type": "<signed_unsigned|preliminary_final|chronological|revised|incomplete_complete>", "justification": "<short reason>"}], "ungrouped": ["<id>", ...]}

Every candidate document id must appear exactly once, either in one cluster or in ungrouped. A cluster needs at least two members.`

const strictInstruction = `Your previous response could not be parsed. Respond with ONLY the JSON object, no prose, no markdown fences, justifications at most eight words.`

// buildUserPrompt renders one batch window for the oracle.
func buildUserPrompt(req ClassifyRequest) (string, error) {
	var b strings.Builder

	if req.FrozenSummary != "" {
		fmt.Fprintf(&b, "Already finalized (do not repeat or modify): %s\n\n", req.FrozenSummary)
	}

	if len(req.TailContext) > 0 {
		tail, err := json.Marshal(tailForPrompt(req.TailContext))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Open clusters from earlier batches. You may extend them with new members or return them unchanged; include every one of them in your response:\n%s\n\n", tail)
	}

	candidates, err := json.Marshal(req.Candidates)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "Candidate documents (batch %d):\n%s\n", req.BatchIndex, candidates)

	if req.Strict {
		b.WriteString("\n" + strictInstruction + "\n")
	}

	return b.String(), nil
}

// promptCluster is the wire shape for replayed tail clusters.
type promptCluster struct {
	MemberIDs     []string        `json:"member_ids"`
	GroupType     model.GroupType `json:"group_type"`
	Justification string          `json:"justification,omitempty"`
}

func tailForPrompt(tail []model.VersionCluster) []promptCluster {
	out := make([]promptCluster, len(tail))
	for i, c := range tail {
		out[i] = promptCluster{
			MemberIDs:     c.DocumentIDs,
			GroupType:     c.GroupType,
			Justification: c.Justification,
		}
	}
	return out
}
