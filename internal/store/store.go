// Package store persists the document corpus and resolution runs. Two
// implementations exist: PostgreSQL via pgxpool for shared deployments and
// SQLite via modernc.org/sqlite for local single-operator use.
package store

import (
	"context"
	"encoding/json"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	LoanID string          `json:"loan_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
// The engine never creates or deletes document rows outside of manifest
// import; resolution only updates labels on existing rows.
type Store interface {
	// Documents
	ListDocuments(ctx context.Context, loanID string) ([]*model.Document, error)
	GetStructuredExtraction(ctx context.Context, documentID string) (json.RawMessage, error)
	SetFingerprint(ctx context.Context, fp model.Fingerprint) error
	// SetResolution atomically labels one document. Overwriting an existing
	// terminal status with a different label fails with
	// resilience.ErrResolutionConflict; rewriting the same label is a no-op.
	SetResolution(ctx context.Context, res model.ResolutionResult) error
	CommitResolutions(ctx context.Context, results []model.ResolutionResult) error
	BulkImportDocuments(ctx context.Context, docs []*model.Document) (int64, error)

	// Runs
	CreateRun(ctx context.Context, loanID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveRunReport(ctx context.Context, runID string, report *model.RunReport) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Run lock: at most one resolution run per loan at a time.
	AcquireRunLock(ctx context.Context, loanID string) error
	ReleaseRunLock(ctx context.Context, loanID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
