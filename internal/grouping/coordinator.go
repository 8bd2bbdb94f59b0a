// Package grouping drives the batched conversation with the classification
// oracle that discovers variant clusters among documents the hash tiers did
// not settle. Batches are issued strictly sequentially: each window's prompt
// depends on the accumulated cluster state of every prior window.
package grouping

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/config"
	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/oracle"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

// Coordinator partitions a document set into variant clusters via the
// oracle, enforcing batch continuity and the no-document-dropped guarantee.
type Coordinator struct {
	cfg config.GroupingConfig
	ocl oracle.Oracle
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg config.GroupingConfig, ocl oracle.Oracle) *Coordinator {
	if cfg.PageCeiling <= 0 {
		cfg.PageCeiling = 100
	}
	if cfg.MaxTailClusters <= 0 {
		cfg.MaxTailClusters = 20
	}
	if cfg.MaxShrinks <= 0 {
		cfg.MaxShrinks = 3
	}
	return &Coordinator{cfg: cfg, ocl: ocl}
}

// GroupVariants discovers variant clusters across the document set. The
// union of returned cluster members and ungrouped documents always equals
// the input set: no document is silently dropped. Only a context error
// aborts the run; oracle failures degrade to ungrouped windows.
func (c *Coordinator) GroupVariants(ctx context.Context, docs []*model.Document) ([]model.VersionCluster, []model.UngroupedDoc, error) {
	docsByID := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		docsByID[d.ID] = d
	}

	ungrouped := make(map[string]string) // id -> reason

	eligible := c.filterOversized(docs, ungrouped)
	if len(eligible) == 0 {
		return nil, finalizeUngrouped(ungrouped, nil), nil
	}

	sorted := sortDocuments(eligible)
	pos := make(map[string]int, len(sorted))
	for i, d := range sorted {
		pos[d.ID] = i
	}

	cands := buildCandidates(sorted)
	batches := splitIntoBatches(cands, c.cfg.BatchTokenBudget)

	zap.L().Info("grouping: starting oracle conversation",
		zap.Int("documents", len(sorted)),
		zap.Int("batches", len(batches)),
	)

	state := clusterState{}
	horizon := 0
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		// Clusters untouched by the previous window are settled; freeze
		// them before building this window's prompt.
		state = state.partition(horizon, pos, c.cfg.MaxTailClusters)
		state = c.processWindow(ctx, state, i, batch, docsByID, ungrouped, c.cfg.MaxShrinks)
		horizon = batch[0].pos
	}

	// A cluster that never grew past one member is not a variant group;
	// its document falls through to the ungrouped set below.
	var clusters []model.VersionCluster
	for _, cl := range dedupeOverlapping(state.all()) {
		if len(cl.DocumentIDs) >= 2 {
			clusters = append(clusters, cl)
		}
	}

	// Coverage: anything neither clustered nor already ungrouped gets an
	// explicit ungrouped entry, and a clustered document never stays in the
	// ungrouped set.
	clustered := make(map[string]bool)
	for _, cl := range clusters {
		for _, id := range cl.DocumentIDs {
			clustered[id] = true
			delete(ungrouped, id)
		}
	}
	for _, d := range docs {
		if !clustered[d.ID] {
			if _, ok := ungrouped[d.ID]; !ok {
				ungrouped[d.ID] = "no variant relationship found"
			}
		}
	}

	return clusters, finalizeUngrouped(ungrouped, clustered), nil
}

// processWindow runs the retry/shrink policy for one window and returns the
// updated state. Order of escalation: plain call, stricter-prompt call,
// halve the window and process each half sequentially, and finally report
// the window's documents as ungrouped with the error reason.
func (c *Coordinator) processWindow(ctx context.Context, state clusterState, batchIdx int, cands []candidate, docsByID map[string]*model.Document, ungrouped map[string]string, shrinksLeft int) clusterState {
	judgment, err := c.classifyOnce(ctx, state, batchIdx, cands, false)
	if err != nil && resilience.IsRetryableOracleErr(err) && ctx.Err() == nil {
		zap.L().Warn("grouping: retrying window with strict instruction",
			zap.Int("batch", batchIdx),
			zap.Int("window_size", len(cands)),
			zap.Error(err),
		)
		judgment, err = c.classifyOnce(ctx, state, batchIdx, cands, true)
	}

	if err != nil {
		if resilience.IsRetryableOracleErr(err) && len(cands) > 1 && shrinksLeft > 0 && ctx.Err() == nil {
			zap.L().Warn("grouping: halving failed window",
				zap.Int("batch", batchIdx),
				zap.Int("window_size", len(cands)),
				zap.Int("shrinks_left", shrinksLeft),
			)
			mid := len(cands) / 2
			state = c.processWindow(ctx, state, batchIdx, cands[:mid], docsByID, ungrouped, shrinksLeft-1)
			return c.processWindow(ctx, state, batchIdx, cands[mid:], docsByID, ungrouped, shrinksLeft-1)
		}

		// Persistent failure on a minimal window: surface a partial result
		// instead of aborting the run.
		zap.L().Error("grouping: window failed permanently",
			zap.Int("batch", batchIdx),
			zap.Int("window_size", len(cands)),
			zap.Error(err),
		)
		for _, cand := range cands {
			ungrouped[cand.doc.ID] = "classification failed: " + err.Error()
		}
		return state
	}

	valid, rejected := validateClusters(judgment.Clusters, docsByID)
	for id, reason := range rejected {
		ungrouped[id] = reason
	}
	for _, id := range judgment.Ungrouped {
		if _, ok := docsByID[id]; ok {
			ungrouped[id] = "oracle: no variant relationship found"
		}
	}

	return c.mergeJudgment(state, valid)
}

// classifyOnce issues a single oracle call for the window.
func (c *Coordinator) classifyOnce(ctx context.Context, state clusterState, batchIdx int, cands []candidate, strict bool) (*model.ClassificationJudgment, error) {
	docs := make([]oracle.CandidateDocument, len(cands))
	for i, cand := range cands {
		docs[i] = toCandidateDocument(cand.doc)
	}
	return c.ocl.Classify(ctx, oracle.ClassifyRequest{
		BatchIndex:    batchIdx,
		WindowIDs:     candidateIDs(cands),
		FrozenSummary: state.frozenSummary(),
		TailContext:   state.tail,
		Candidates:    docs,
		Strict:        strict,
	})
}

// mergeJudgment replaces the tail wholesale with the judgment's clusters.
// Members already settled in a frozen cluster are stripped from new
// proposals, and a replayed tail cluster the oracle silently omitted is
// carried forward unchanged - earlier results are never lost to a
// forgetful response.
func (c *Coordinator) mergeJudgment(state clusterState, judged []model.VersionCluster) clusterState {
	frozenIDs := make(map[string]bool)
	for _, fc := range state.frozen {
		for _, id := range fc.DocumentIDs {
			frozenIDs[id] = true
		}
	}
	for i, cl := range judged {
		var kept []string
		for _, id := range cl.DocumentIDs {
			if !frozenIDs[id] {
				kept = append(kept, id)
			}
		}
		judged[i].DocumentIDs = kept
	}

	judgedIDs := make(map[string]bool)
	for _, cl := range judged {
		for _, id := range cl.DocumentIDs {
			judgedIDs[id] = true
		}
	}

	merged := judged
	for _, old := range state.tail {
		mentioned := false
		for _, id := range old.DocumentIDs {
			if judgedIDs[id] {
				mentioned = true
				break
			}
		}
		if !mentioned {
			merged = append(merged, old)
		}
	}

	return state.merge(merged)
}

// filterOversized drops documents whose page count exceeds the ceiling
// unless another document shares that exact page count - a large document
// that plausibly has versions is retained; a large singleton is noise.
func (c *Coordinator) filterOversized(docs []*model.Document, ungrouped map[string]string) []*model.Document {
	pageCounts := make(map[int]int)
	for _, d := range docs {
		pageCounts[d.PageCount]++
	}

	var eligible []*model.Document
	for _, d := range docs {
		if d.PageCount > c.cfg.PageCeiling && pageCounts[d.PageCount] < 2 {
			ungrouped[d.ID] = "excluded: page count exceeds ceiling"
			zap.L().Debug("grouping: excluding oversized singleton",
				zap.String("document_id", d.ID),
				zap.Int("page_count", d.PageCount),
			)
			continue
		}
		eligible = append(eligible, d)
	}
	return eligible
}

func finalizeUngrouped(reasons map[string]string, clustered map[string]bool) []model.UngroupedDoc {
	var out []model.UngroupedDoc
	for id, reason := range reasons {
		if clustered[id] {
			continue
		}
		out = append(out, model.UngroupedDoc{DocumentID: id, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}
