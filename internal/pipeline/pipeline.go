// Package pipeline orchestrates a resolution run: fingerprint, duplicate
// detection, semantic grouping, and version resolution, with phase tracking
// and an atomically committed label set.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/config"
	"github.com/ridgepoint-lending/docresolve/internal/dedupe"
	"github.com/ridgepoint-lending/docresolve/internal/fingerprint"
	"github.com/ridgepoint-lending/docresolve/internal/grouping"
	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/oracle"
	"github.com/ridgepoint-lending/docresolve/internal/resolve"
	"github.com/ridgepoint-lending/docresolve/internal/store"
)

// Pipeline runs the four resolution phases for one loan corpus.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	engine   *fingerprint.Engine
	detector *dedupe.Detector
	coord    *grouping.Coordinator
	resolver *resolve.Resolver
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, ocl oracle.Oracle, tuning resolve.Tuning) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		engine:   fingerprint.NewEngine(),
		detector: dedupe.NewDetector(cfg.Dedupe),
		coord:    grouping.NewCoordinator(cfg.Grouping, ocl),
		resolver: resolve.NewResolver(tuning),
	}
}

// Run executes a full resolution run for a loan. It holds the loan's run
// lock for the duration; recovered per-document failures land in the
// report's error list rather than aborting.
func (p *Pipeline) Run(ctx context.Context, loanID string) (*model.RunReport, error) {
	log := zap.L().With(zap.String("loan_id", loanID))

	if err := p.store.AcquireRunLock(ctx, loanID); err != nil {
		return nil, eris.Wrap(err, "pipeline: acquire run lock")
	}
	defer func() {
		if err := p.store.ReleaseRunLock(context.WithoutCancel(ctx), loanID); err != nil {
			log.Warn("pipeline: failed to release run lock", zap.Error(err))
		}
	}()

	run, err := p.store.CreateRun(ctx, loanID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting resolution run")

	report := &model.RunReport{RunID: run.ID, LoanID: loanID}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() error) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		fnErr := fn()
		duration := time.Since(start).Milliseconds()

		result := &model.PhaseResult{Name: name, Duration: duration, Status: model.PhaseStatusComplete}
		if fnErr != nil {
			result.Status = model.PhaseStatusFailed
			result.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if completeErr := p.store.CompletePhase(ctx, phase.ID, result); completeErr != nil {
				log.Warn("pipeline: failed to complete phase", zap.Error(completeErr))
			}
		}
		report.Phases = append(report.Phases, *result)
		return fnErr
	}

	fail := func(err error) (*model.RunReport, error) {
		setStatus(model.RunStatusFailed)
		return nil, err
	}

	// Phase 1: fingerprint.
	setStatus(model.RunStatusFingerprinting)
	var docs []*model.Document
	var fpResults []fingerprint.Result
	err = trackPhase("fingerprint", func() error {
		listed, listErr := p.store.ListDocuments(ctx, loanID)
		if listErr != nil {
			return eris.Wrap(listErr, "pipeline: list documents")
		}
		docs = listed
		if err := p.loadExtractions(ctx, docs); err != nil {
			return err
		}

		fpResults = fingerprint.FingerprintAll(ctx, p.engine, docs, p.cfg.Fingerprint.Concurrency)
		for _, res := range fpResults {
			if res.Err != nil {
				report.Errors = append(report.Errors, model.RunError{
					Stage: "fingerprint", DocumentID: res.DocumentID, Message: res.Err.Error(),
				})
				continue
			}
			if err := p.store.SetFingerprint(ctx, res.Fingerprint); err != nil {
				report.Errors = append(report.Errors, model.RunError{
					Stage: "fingerprint", DocumentID: res.DocumentID, Message: err.Error(),
				})
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	report.TotalInput = len(docs)

	// Phase 2: duplicate detection.
	setStatus(model.RunStatusDeduplicating)
	var dupReport *model.DuplicateReport
	err = trackPhase("dedupe", func() error {
		dupReport = p.detector.Detect(loanID, docs, fpResults)
		return nil
	})
	if err != nil {
		return fail(err)
	}
	report.Duplicates = dupReport
	report.Skipped = dupReport.Skipped

	// Phase 3: semantic grouping over the hash survivors.
	setStatus(model.RunStatusGrouping)
	var clusters []model.VersionCluster
	var ungrouped []model.UngroupedDoc
	err = trackPhase("grouping", func() error {
		survivors := groupingInput(docs, dupReport)
		var groupErr error
		clusters, ungrouped, groupErr = p.coord.GroupVariants(ctx, survivors)
		return groupErr
	})
	if err != nil {
		return fail(err)
	}
	report.Ungrouped = ungrouped

	// Phase 4: resolve every cluster, then singletons, then commit.
	setStatus(model.RunStatusResolving)
	err = trackPhase("resolve", func() error {
		allClusters := append(hashClusters(dupReport), clusters...)
		report.Clusters = allClusters

		docsByID := make(map[string]*model.Document, len(docs))
		for _, d := range docs {
			docsByID[d.ID] = d
		}

		outcomes, resolveErr := p.resolver.ResolveAll(ctx, allClusters, docsByID, p.cfg.Resolve.Concurrency)
		if resolveErr != nil {
			return eris.Wrap(resolveErr, "pipeline: resolve clusters")
		}

		var results []model.ResolutionResult
		for _, out := range outcomes {
			if out.Err != nil {
				report.Errors = append(report.Errors, model.RunError{
					Stage: "resolve", Message: out.Err.Error(),
				})
				continue
			}
			results = append(results, out.Results...)
		}

		results = append(results, standaloneResults(docs, results, dupReport)...)
		sort.Slice(results, func(i, j int) bool { return results[i].DocumentID < results[j].DocumentID })
		report.Resolved = results

		if err := p.store.CommitResolutions(ctx, results); err != nil {
			return eris.Wrap(err, "pipeline: commit resolutions")
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	report.CompletedAt = time.Now().UTC()
	if err := p.store.SaveRunReport(ctx, run.ID, report); err != nil {
		return fail(eris.Wrap(err, "pipeline: save run report"))
	}

	log.Info("pipeline: resolution run complete",
		zap.Int("documents", report.TotalInput),
		zap.Int("clusters", len(report.Clusters)),
		zap.Int("resolved", len(report.Resolved)),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// loadExtractions fetches structured extraction payloads for documents whose
// rows were listed without one.
func (p *Pipeline) loadExtractions(ctx context.Context, docs []*model.Document) error {
	for _, doc := range docs {
		if len(doc.Extraction) > 0 {
			continue
		}
		payload, err := p.store.GetStructuredExtraction(ctx, doc.ID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: load extraction %s", doc.ID)
		}
		doc.Extraction = payload
	}
	return nil
}

// groupingInput returns the documents eligible for semantic grouping:
// everything except fingerprint failures and members of exact or content
// duplicate groups, which hashing already settled.
func groupingInput(docs []*model.Document, dupReport *model.DuplicateReport) []*model.Document {
	settled := dupReport.DuplicateIDs()
	skipped := make(map[string]bool, len(dupReport.Skipped))
	for _, s := range dupReport.Skipped {
		skipped[s.DocumentID] = true
	}

	var out []*model.Document
	for _, d := range docs {
		if settled[d.ID] || skipped[d.ID] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// hashClusters converts exact and content duplicate groups into clusters for
// the resolver. Their provenance makes the resolver emit unique/duplicate
// labels instead of master/superseded.
func hashClusters(dupReport *model.DuplicateReport) []model.VersionCluster {
	var out []model.VersionCluster
	for _, tier := range []model.DuplicateTier{model.TierExact, model.TierContent} {
		for _, g := range dupReport.GroupsByTier(tier) {
			justification := "identical bytes"
			if tier == model.TierContent {
				justification = "identical extracted content"
			}
			out = append(out, model.VersionCluster{
				DocumentIDs:   g.DocumentIDs,
				Justification: justification,
				Source:        model.SourceHash,
				Confidence:    model.ConfidenceNormal,
			})
		}
	}
	return out
}

// standaloneResults labels every document that landed in no cluster and was
// not skipped: with nothing to compare against, it is unique and latest.
func standaloneResults(docs []*model.Document, resolved []model.ResolutionResult, dupReport *model.DuplicateReport) []model.ResolutionResult {
	covered := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		covered[r.DocumentID] = true
	}
	for _, s := range dupReport.Skipped {
		covered[s.DocumentID] = true
	}

	var out []model.ResolutionResult
	for _, d := range docs {
		if covered[d.ID] {
			continue
		}
		out = append(out, model.ResolutionResult{
			DocumentID:      d.ID,
			Status:          model.StatusUnique,
			IsLatestVersion: true,
			Reason:          "no duplicate or variant found",
		})
	}
	return out
}
