package model

import "time"

// ResolutionResult is the final label for one document: its terminal status,
// the latest-version flag, and a short reproducible audit reason.
type ResolutionResult struct {
	DocumentID      string         `json:"document_id"`
	Status          DocumentStatus `json:"status"`
	IsLatestVersion bool           `json:"is_latest_version"`
	Reason          string         `json:"reason"`
}

// RunStatus tracks a resolution run's lifecycle.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusFingerprinting RunStatus = "fingerprinting"
	RunStatusDeduplicating  RunStatus = "deduplicating"
	RunStatusGrouping       RunStatus = "grouping"
	RunStatusResolving      RunStatus = "resolving"
	RunStatusComplete       RunStatus = "complete"
	RunStatusFailed         RunStatus = "failed"
)

// Run is one resolution run over a loan's corpus.
type Run struct {
	ID        string     `json:"id"`
	LoanID    string     `json:"loan_id"`
	Status    RunStatus  `json:"status"`
	Report    *RunReport `json:"report,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PhaseStatus tracks a single pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records the outcome of one pipeline phase.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// RunPhase is a persisted phase row attached to a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// RunError records a recovered, non-fatal failure surfaced in the report.
type RunError struct {
	Stage      string `json:"stage"`
	DocumentID string `json:"document_id,omitempty"`
	Message    string `json:"message"`
}

// RunReport is the full output of one resolution run. Every input document
// lands in exactly one of Resolved, Skipped, or Ungrouped - no class is
// silently dropped.
type RunReport struct {
	RunID       string             `json:"run_id"`
	LoanID      string             `json:"loan_id"`
	Duplicates  *DuplicateReport   `json:"duplicates,omitempty"`
	Clusters    []VersionCluster   `json:"clusters,omitempty"`
	Resolved    []ResolutionResult `json:"resolved"`
	Skipped     []SkippedDocument  `json:"skipped,omitempty"`
	Ungrouped   []UngroupedDoc     `json:"ungrouped,omitempty"`
	Errors      []RunError         `json:"errors,omitempty"`
	Phases      []PhaseResult      `json:"phases,omitempty"`
	TotalInput  int                `json:"total_input"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
}
