package grouping

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

// validateClusters applies the boundary invariants to oracle-proposed
// clusters. Invalid proposals are dropped with a warning (never a crash);
// internally inconsistent clusters are kept but flagged low confidence.
// Members of dropped clusters come back with a per-document reason so the
// caller can report them ungrouped instead of losing them.
func validateClusters(proposed []model.VersionCluster, docs map[string]*model.Document) (valid []model.VersionCluster, rejected map[string]string) {
	rejected = make(map[string]string)

	for _, c := range proposed {
		types := make(map[string]bool)
		unknown := false
		for _, id := range c.DocumentIDs {
			doc, ok := docs[id]
			if !ok {
				unknown = true
				break
			}
			types[doc.DocumentType] = true
		}

		if unknown {
			dropCluster(c, &resilience.InvalidClusterProposal{Reason: "references unknown document"}, knownMembers(c, docs), rejected)
			continue
		}

		if len(types) > 1 {
			dropCluster(c, &resilience.InvalidClusterProposal{Reason: "cluster mixed document types"}, c.DocumentIDs, rejected)
			continue
		}

		for tp := range types {
			c.DocumentType = tp
		}
		c.Confidence = clusterConfidence(c, docs)
		valid = append(valid, c)
	}
	return valid, rejected
}

func dropCluster(c model.VersionCluster, perr *resilience.InvalidClusterProposal, members []string, rejected map[string]string) {
	zap.L().Warn("grouping: dropping cluster proposal",
		zap.Strings("member_ids", c.DocumentIDs),
		zap.String("group_type", string(c.GroupType)),
		zap.Error(perr),
	)
	for _, id := range members {
		rejected[id] = "rejected: " + perr.Reason
	}
}

// clusterConfidence flags internal inconsistency signals: a chronological
// cluster whose members carry no extractable dates, or a signed/unsigned
// cluster whose members all report the same signature flag.
func clusterConfidence(c model.VersionCluster, docs map[string]*model.Document) model.ClusterConfidence {
	switch c.GroupType {
	case model.GroupChronological:
		anyDate := false
		for _, id := range c.DocumentIDs {
			if doc := docs[id]; doc != nil && !doc.DocumentDate().IsZero() {
				anyDate = true
				break
			}
		}
		if !anyDate {
			return model.ConfidenceLow
		}
	case model.GroupSignedUnsigned:
		flags := make(map[bool]bool)
		for _, id := range c.DocumentIDs {
			if doc := docs[id]; doc != nil {
				flags[doc.HasSignature()] = true
			}
		}
		if len(flags) == 1 {
			return model.ConfidenceLow
		}
	}
	return model.ConfidenceNormal
}

// dedupeOverlapping keeps exactly one cluster per identical member-set,
// chosen by group-type priority, then by larger member count. Member-set
// identity ignores order.
func dedupeOverlapping(clusters []model.VersionCluster) []model.VersionCluster {
	best := make(map[string]model.VersionCluster)
	var order []string
	for _, c := range clusters {
		key := memberSetKey(c.DocumentIDs)
		current, seen := best[key]
		if !seen {
			best[key] = c
			order = append(order, key)
			continue
		}
		if c.GroupType.Priority() > current.GroupType.Priority() ||
			(c.GroupType.Priority() == current.GroupType.Priority() && len(c.DocumentIDs) > len(current.DocumentIDs)) {
			best[key] = c
		}
	}

	out := make([]model.VersionCluster, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func memberSetKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func knownMembers(c model.VersionCluster, docs map[string]*model.Document) []string {
	var out []string
	for _, id := range c.DocumentIDs {
		if _, ok := docs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
