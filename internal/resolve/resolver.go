// Package resolve selects the canonical member of each variant cluster and
// labels the rest superseded. Resolution is a pure function of the cluster
// and its documents: the same inputs always produce the same labels, so
// re-running a resolution is safe.
package resolve

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/fingerprint"
	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// Resolver applies the canonical-version sort to clusters.
type Resolver struct {
	tuning Tuning
}

// NewResolver creates a resolver with the given tuning tables.
func NewResolver(tuning Tuning) *Resolver {
	return &Resolver{tuning: tuning}
}

// Resolve labels every member of a cluster. Members are partitioned by
// counterparty first: a cluster mixing unrelated borrowers produces one
// canonical document per borrower, never a single global winner. Statuses
// follow the cluster's provenance: hash-derived groups yield unique and
// duplicate, semantic groups yield master and superseded.
func (r *Resolver) Resolve(cluster model.VersionCluster, docs map[string]*model.Document) ([]model.ResolutionResult, error) {
	members := make([]*model.Document, 0, len(cluster.DocumentIDs))
	for _, id := range cluster.DocumentIDs {
		doc, ok := docs[id]
		if !ok {
			return nil, eris.Errorf("resolve: cluster references unknown document %s", id)
		}
		members = append(members, doc)
	}

	if len(members) == 0 {
		return nil, nil
	}
	if len(members) == 1 {
		return []model.ResolutionResult{soleResult(members[0], "sole member of its group")}, nil
	}

	partitions := partitionByCounterparty(members)

	var results []model.ResolutionResult
	for _, part := range partitions {
		if len(part) == 1 {
			results = append(results, soleResult(part[0], "sole document for its counterparty"))
			continue
		}
		results = append(results, r.resolvePartition(cluster, part)...)
	}

	zap.L().Debug("resolve: cluster resolved",
		zap.String("group_type", string(cluster.GroupType)),
		zap.Int("members", len(members)),
		zap.Int("partitions", len(partitions)),
	)
	return results, nil
}

// resolvePartition ranks one counterparty's members and labels them.
func (r *Resolver) resolvePartition(cluster model.VersionCluster, part []*model.Document) []model.ResolutionResult {
	keys := make([]sortKey, len(part))
	for i, doc := range part {
		keys[i] = r.keyFor(doc)
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].ranksAbove(keys[j]) })

	winnerStatus, loserStatus := model.StatusMaster, model.StatusSuperseded
	loserVerb := "superseded by"
	if cluster.Source == model.SourceHash {
		winnerStatus, loserStatus = model.StatusUnique, model.StatusDuplicate
		loserVerb = "duplicate of"
	}

	winner := keys[0]
	results := make([]model.ResolutionResult, 0, len(keys))
	results = append(results, model.ResolutionResult{
		DocumentID:      winner.id,
		Status:          winnerStatus,
		IsLatestVersion: true,
		Reason:          r.winnerReason(winner, keys[1]),
	})
	for _, k := range keys[1:] {
		results = append(results, model.ResolutionResult{
			DocumentID:      k.id,
			Status:          loserStatus,
			IsLatestVersion: false,
			Reason:          fmt.Sprintf("%s %s", loserVerb, winner.id),
		})
	}
	return results
}

// sortKey is the descending ranking tuple. Signature presence outranks
// everything else, so a signed document always beats an unsigned one
// regardless of dates.
type sortKey struct {
	signed       bool
	versionScore int
	date         time.Time
	completeness int
	pageCount    int
	id           string

	versionWord      string
	completenessWord string
}

func (r *Resolver) keyFor(doc *model.Document) sortKey {
	return sortKey{
		signed:           doc.HasSignature(),
		versionScore:     r.tuning.VersionScore(doc.Meta(model.MetaVersionIndicator)),
		date:             doc.DocumentDate(),
		completeness:     r.tuning.CompletenessScore(doc.Meta(model.MetaCompleteness)),
		pageCount:        doc.PageCount,
		id:               doc.ID,
		versionWord:      r.tuning.VersionWord(doc.Meta(model.MetaVersionIndicator)),
		completenessWord: normalizeKeyword(doc.Meta(model.MetaCompleteness)),
	}
}

// ranksAbove reports whether a outranks b. An unparsable date is the zero
// time, so it loses to any parsed date. Full ties break ascending by
// identifier to keep the outcome deterministic.
func (a sortKey) ranksAbove(b sortKey) bool {
	if a.signed != b.signed {
		return a.signed
	}
	if a.versionScore != b.versionScore {
		return a.versionScore > b.versionScore
	}
	if !a.date.Equal(b.date) {
		return a.date.After(b.date)
	}
	if a.completeness != b.completeness {
		return a.completeness > b.completeness
	}
	if a.pageCount != b.pageCount {
		return a.pageCount > b.pageCount
	}
	return a.id < b.id
}

// winnerReason assembles the audit reason from the winner's non-default
// discriminating fields. It is reproducible from the sort key alone.
func (r *Resolver) winnerReason(winner, runnerUp sortKey) string {
	var parts []string
	if winner.signed {
		parts = append(parts, "signed")
	}
	if winner.versionScore != versionPriorityUnset && winner.versionWord != "" {
		parts = append(parts, winner.versionWord)
	}
	if !winner.date.IsZero() {
		parts = append(parts, "dated "+winner.date.Format("2006-01-02"))
	}
	if winner.completeness != completenessUnknown && winner.completenessWord != "" {
		parts = append(parts, winner.completenessWord)
	}
	if len(parts) == 0 {
		if winner.pageCount != runnerUp.pageCount {
			parts = append(parts, fmt.Sprintf("%d pages", winner.pageCount))
		} else {
			parts = append(parts, "first by identifier order")
		}
	}
	return "canonical: " + strings.Join(parts, ", ")
}

func soleResult(doc *model.Document, reason string) model.ResolutionResult {
	return model.ResolutionResult{
		DocumentID:      doc.ID,
		Status:          model.StatusUnique,
		IsLatestVersion: true,
		Reason:          reason,
	}
}

// partitionByCounterparty buckets members by the normalized borrower name.
// Documents with no asserted counterparty share one bucket. Buckets are
// returned in a deterministic order.
func partitionByCounterparty(members []*model.Document) [][]*model.Document {
	buckets := make(map[string][]*model.Document)
	var order []string
	for _, doc := range members {
		key := fingerprint.NormalizeFieldName(doc.BorrowerName())
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], doc)
	}
	sort.Strings(order)

	out := make([][]*model.Document, 0, len(order))
	for _, key := range order {
		out = append(out, buckets[key])
	}
	return out
}
