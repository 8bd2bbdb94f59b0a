package grouping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgepoint-lending/docresolve/internal/config"
	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/oracle"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

type stubOracle struct {
	calls    []oracle.ClassifyRequest
	classify func(req oracle.ClassifyRequest, call int) (*model.ClassificationJudgment, error)
}

func (s *stubOracle) Classify(_ context.Context, req oracle.ClassifyRequest) (*model.ClassificationJudgment, error) {
	s.calls = append(s.calls, req)
	return s.classify(req, len(s.calls))
}

func groupingConfig() config.GroupingConfig {
	return config.GroupingConfig{
		PageCeiling:      100,
		BatchTokenBudget: 60_000,
		MaxTailClusters:  20,
		MaxShrinks:       3,
	}
}

func doc(id, filename, docType string, pages int) *model.Document {
	return &model.Document{
		ID:           id,
		LoanID:       "LN-1001",
		Filename:     filename,
		DocumentType: docType,
		PageCount:    pages,
	}
}

// everyIDCovered asserts that cluster members and ungrouped entries together
// cover exactly the input documents.
func everyIDCovered(t *testing.T, docs []*model.Document, clusters []model.VersionCluster, ungrouped []model.UngroupedDoc) {
	t.Helper()

	seen := make(map[string]int)
	for _, c := range clusters {
		for _, id := range c.DocumentIDs {
			seen[id]++
		}
	}
	for _, u := range ungrouped {
		seen[u.DocumentID]++
	}

	for _, d := range docs {
		assert.Equalf(t, 1, seen[d.ID], "document %s must appear exactly once", d.ID)
		delete(seen, d.ID)
	}
	assert.Empty(t, seen, "no unknown document IDs in output")
}

func TestGroupVariants_ClustersAndUngrouped(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "note_draft.pdf", "promissory_note", 5),
		doc("doc-b", "note_signed.pdf", "promissory_note", 5),
		doc("doc-c", "appraisal.pdf", "appraisal", 30),
	}

	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, _ int) (*model.ClassificationJudgment, error) {
		return &model.ClassificationJudgment{
			Clusters: []model.VersionCluster{{
				GroupType:     model.GroupSignedUnsigned,
				DocumentIDs:   []string{"doc-a", "doc-b"},
				Justification: "signed and unsigned copies of the same note",
				Source:        model.SourceSemantic,
			}},
			Ungrouped: []string{"doc-c"},
		}, nil
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)

	require.Len(t, clusters, 1)
	assert.Equal(t, model.GroupSignedUnsigned, clusters[0].GroupType)
	assert.Equal(t, "promissory_note", clusters[0].DocumentType)
	require.Len(t, ungrouped, 1)
	assert.Equal(t, "doc-c", ungrouped[0].DocumentID)
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_BatchingNeverDropsADocument(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a.pdf", "deed_of_trust", 12),
		doc("doc-b", "b.pdf", "deed_of_trust", 12),
		doc("doc-c", "c.pdf", "appraisal", 30),
		doc("doc-d", "d.pdf", "appraisal", 31),
		doc("doc-e", "e.pdf", "hud1", 3),
	}

	// Oracle that groups nothing at all.
	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, _ int) (*model.ClassificationJudgment, error) {
		return &model.ClassificationJudgment{Ungrouped: req.WindowIDs}, nil
	}}

	cfg := groupingConfig()
	cfg.BatchTokenBudget = 1 // one document per batch
	coord := NewCoordinator(cfg, ocl)

	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)
	assert.Len(t, ocl.calls, len(docs))
	assert.Empty(t, clusters)
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_FrozenClustersSurviveLaterBatches(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a_note.pdf", "promissory_note", 5),
		doc("doc-b", "b_note.pdf", "promissory_note", 5),
		doc("doc-c", "c_appraisal.pdf", "appraisal", 30),
		doc("doc-d", "d_appraisal.pdf", "appraisal", 30),
	}

	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, call int) (*model.ClassificationJudgment, error) {
		switch call {
		case 1:
			return &model.ClassificationJudgment{
				Clusters: []model.VersionCluster{{
					GroupType:   model.GroupPreliminaryFinal,
					DocumentIDs: []string{"doc-a"},
				}},
				Ungrouped: nil,
			}, nil
		case 2:
			return &model.ClassificationJudgment{
				Clusters: []model.VersionCluster{{
					GroupType:   model.GroupPreliminaryFinal,
					DocumentIDs: []string{"doc-a", "doc-b"},
				}},
			}, nil
		default:
			// Later batches never mention the earlier cluster; it must
			// survive untouched.
			return &model.ClassificationJudgment{
				Clusters: []model.VersionCluster{{
					GroupType:   model.GroupRevised,
					DocumentIDs: []string{"doc-c", "doc-d"},
				}},
			}, nil
		}
	}}

	cfg := groupingConfig()
	cfg.BatchTokenBudget = 1
	coord := NewCoordinator(cfg, ocl)

	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)

	byKey := make(map[string]model.VersionCluster)
	for _, c := range clusters {
		byKey[memberSetKey(c.DocumentIDs)] = c
	}
	noteCluster, ok := byKey[memberSetKey([]string{"doc-a", "doc-b"})]
	require.True(t, ok, "note cluster from earlier batches must survive")
	assert.Equal(t, model.GroupPreliminaryFinal, noteCluster.GroupType)

	_, ok = byKey[memberSetKey([]string{"doc-c", "doc-d"})]
	assert.True(t, ok)
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_ShrinkRecoversFullCoverage(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a.pdf", "promissory_note", 5),
		doc("doc-b", "b.pdf", "promissory_note", 5),
		doc("doc-c", "c.pdf", "promissory_note", 5),
		doc("doc-d", "d.pdf", "promissory_note", 5),
	}

	// The full window fails twice (plain then strict), each half succeeds.
	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, _ int) (*model.ClassificationJudgment, error) {
		if len(req.Candidates) == 4 {
			return nil, &resilience.OracleParseFailure{Detail: "truncated response"}
		}
		if len(req.Candidates) == 2 {
			return &model.ClassificationJudgment{
				Clusters: []model.VersionCluster{{
					GroupType:   model.GroupRevised,
					DocumentIDs: []string{req.Candidates[0].ID, req.Candidates[1].ID},
				}},
			}, nil
		}
		return &model.ClassificationJudgment{Ungrouped: req.WindowIDs}, nil
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)

	// 1 plain + 1 strict on the full window, then one call per half.
	assert.Len(t, ocl.calls, 4)
	assert.False(t, ocl.calls[0].Strict)
	assert.True(t, ocl.calls[1].Strict)
	require.Len(t, clusters, 2)
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_PersistentFailureSurfacesPartialResult(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a.pdf", "promissory_note", 5),
		doc("doc-b", "b.pdf", "promissory_note", 5),
	}

	ocl := &stubOracle{classify: func(oracle.ClassifyRequest, int) (*model.ClassificationJudgment, error) {
		return nil, &resilience.OracleParseFailure{Detail: "not json"}
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err, "oracle failure degrades, it does not abort the run")
	assert.Empty(t, clusters)
	require.Len(t, ungrouped, 2)
	for _, u := range ungrouped {
		assert.Contains(t, u.Reason, "classification failed")
	}
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_OversizedSingletonExcluded(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "servicing_file.pdf", "servicing_file", 480),
		doc("doc-b", "appraisal_v1.pdf", "appraisal", 120),
		doc("doc-c", "appraisal_v2.pdf", "appraisal", 120),
	}

	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, _ int) (*model.ClassificationJudgment, error) {
		assert.NotContains(t, req.WindowIDs, "doc-a")
		return &model.ClassificationJudgment{
			Clusters: []model.VersionCluster{{
				GroupType:   model.GroupRevised,
				DocumentIDs: []string{"doc-b", "doc-c"},
			}},
		}, nil
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)

	require.Len(t, ungrouped, 1)
	assert.Equal(t, "doc-a", ungrouped[0].DocumentID)
	assert.Contains(t, ungrouped[0].Reason, "page count exceeds ceiling")
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_OversizedPairRetained(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "big_v1.pdf", "servicing_file", 480),
		doc("doc-b", "big_v2.pdf", "servicing_file", 480),
	}

	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, _ int) (*model.ClassificationJudgment, error) {
		return &model.ClassificationJudgment{
			Clusters: []model.VersionCluster{{
				GroupType:   model.GroupRevised,
				DocumentIDs: []string{"doc-a", "doc-b"},
			}},
		}, nil
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_MixedTypeClusterRejected(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a.pdf", "promissory_note", 5),
		doc("doc-b", "b.pdf", "appraisal", 30),
	}

	ocl := &stubOracle{classify: func(oracle.ClassifyRequest, int) (*model.ClassificationJudgment, error) {
		return &model.ClassificationJudgment{
			Clusters: []model.VersionCluster{{
				GroupType:   model.GroupRevised,
				DocumentIDs: []string{"doc-a", "doc-b"},
			}},
		}, nil
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)
	assert.Empty(t, clusters)
	require.Len(t, ungrouped, 2)
	for _, u := range ungrouped {
		assert.Contains(t, u.Reason, "mixed document types")
	}
	everyIDCovered(t, docs, clusters, ungrouped)
}

func TestGroupVariants_ContextCancelAborts(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a.pdf", "promissory_note", 5),
		doc("doc-b", "b.pdf", "promissory_note", 5),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, _ int) (*model.ClassificationJudgment, error) {
		return &model.ClassificationJudgment{Ungrouped: req.WindowIDs}, nil
	}}

	coord := NewCoordinator(groupingConfig(), ocl)
	_, _, err := coord.GroupVariants(ctx, docs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupVariants_TailReplayedToNextBatch(t *testing.T) {
	docs := []*model.Document{
		doc("doc-a", "a_note.pdf", "promissory_note", 5),
		doc("doc-b", "b_note.pdf", "promissory_note", 5),
	}

	ocl := &stubOracle{classify: func(req oracle.ClassifyRequest, call int) (*model.ClassificationJudgment, error) {
		if call == 1 {
			return &model.ClassificationJudgment{
				Clusters: []model.VersionCluster{{
					GroupType:   model.GroupPreliminaryFinal,
					DocumentIDs: []string{"doc-a"},
				}},
			}, nil
		}
		require.Len(t, req.TailContext, 1)
		assert.Equal(t, []string{"doc-a"}, req.TailContext[0].DocumentIDs)
		return &model.ClassificationJudgment{
			Clusters: []model.VersionCluster{{
				GroupType:   model.GroupPreliminaryFinal,
				DocumentIDs: []string{"doc-a", "doc-b"},
			}},
		}, nil
	}}

	cfg := groupingConfig()
	cfg.BatchTokenBudget = 1
	coord := NewCoordinator(cfg, ocl)

	clusters, ungrouped, err := coord.GroupVariants(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"doc-a", "doc-b"}, clusters[0].DocumentIDs)
	everyIDCovered(t, docs, clusters, ungrouped)
}
