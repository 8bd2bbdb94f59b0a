package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	loan_id           TEXT NOT NULL,
	filename          TEXT NOT NULL,
	file_path         TEXT,
	size_bytes        INTEGER NOT NULL DEFAULT 0,
	page_count        INTEGER NOT NULL DEFAULT 0,
	document_type     TEXT,
	exact_hash        TEXT,
	content_hash      TEXT,
	extraction        TEXT,
	metadata          TEXT,
	status            TEXT NOT NULL DEFAULT 'pending',
	is_latest_version INTEGER NOT NULL DEFAULT 0,
	reason            TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_loan_id ON documents(loan_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_exact_hash ON documents(exact_hash);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	loan_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_loan_id ON runs(loan_id);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);

CREATE TABLE IF NOT EXISTS run_locks (
	loan_id   TEXT PRIMARY KEY,
	locked_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteDocumentSelect = `SELECT id, loan_id, filename, file_path, size_bytes, page_count, document_type, exact_hash, content_hash, extraction, metadata, status, is_latest_version, created_at, updated_at FROM documents`

func (s *SQLiteStore) ListDocuments(ctx context.Context, loanID string) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx, sqliteDocumentSelect+` WHERE loan_id = ? ORDER BY filename, id`, loanID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents %s", loanID)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func scanSQLiteDocument(rows *sql.Rows) (*model.Document, error) {
	var d model.Document
	var filePath, docType, exactHash, contentHash, extraction, metadata sql.NullString
	var latest int

	err := rows.Scan(&d.ID, &d.LoanID, &d.Filename, &filePath, &d.SizeBytes, &d.PageCount,
		&docType, &exactHash, &contentHash, &extraction, &metadata,
		&d.Status, &latest, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}

	d.FilePath = filePath.String
	d.DocumentType = docType.String
	d.ExactHash = exactHash.String
	d.ContentHash = contentHash.String
	d.IsLatestVersion = latest != 0
	if extraction.Valid && extraction.String != "" {
		d.Extraction = json.RawMessage(extraction.String)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &d.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal document metadata")
		}
	}
	return &d, nil
}

func (s *SQLiteStore) GetStructuredExtraction(ctx context.Context, documentID string) (json.RawMessage, error) {
	var extraction sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT extraction FROM documents WHERE id = ?`, documentID).Scan(&extraction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: document not found: %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extraction %s", documentID)
	}
	if !extraction.Valid || extraction.String == "" {
		return nil, nil
	}
	return json.RawMessage(extraction.String), nil
}

func (s *SQLiteStore) SetFingerprint(ctx context.Context, fp model.Fingerprint) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET exact_hash = ?, content_hash = ?, updated_at = ? WHERE id = ?`,
		fp.ExactHash, fp.ContentHash, time.Now().UTC(), fp.DocumentID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set fingerprint %s", fp.DocumentID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: document not found: %s", fp.DocumentID)
	}
	return nil
}

const sqliteSetResolutionSQL = `UPDATE documents SET status = ?, is_latest_version = ?, reason = ?, updated_at = ? WHERE id = ? AND (status = 'pending' OR (status = ? AND is_latest_version = ?))`

func resolutionArgs(res model.ResolutionResult, now time.Time) []any {
	latest := 0
	if res.IsLatestVersion {
		latest = 1
	}
	return []any{string(res.Status), latest, res.Reason, now, res.DocumentID, string(res.Status), latest}
}

func (s *SQLiteStore) SetResolution(ctx context.Context, res model.ResolutionResult) error {
	result, err := s.db.ExecContext(ctx, sqliteSetResolutionSQL, resolutionArgs(res, time.Now().UTC())...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set resolution %s", res.DocumentID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.resolutionConflict(ctx, res.DocumentID)
	}
	return nil
}

func (s *SQLiteStore) resolutionConflict(ctx context.Context, documentID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Errorf("sqlite: document not found: %s", documentID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check resolution status %s", documentID)
	}
	return eris.Wrapf(resilience.ErrResolutionConflict, "document %s already resolved as %s", documentID, status)
}

func (s *SQLiteStore) CommitResolutions(ctx context.Context, results []model.ResolutionResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin resolutions tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, res := range results {
		result, err := tx.ExecContext(ctx, sqliteSetResolutionSQL, resolutionArgs(res, now)...)
		if err != nil {
			return eris.Wrapf(err, "sqlite: commit resolution %s", res.DocumentID)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			return eris.Wrapf(resilience.ErrResolutionConflict, "document %s already resolved", res.DocumentID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit resolutions tx")
}

func (s *SQLiteStore) BulkImportDocuments(ctx context.Context, docs []*model.Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import tx")
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO documents (id, loan_id, filename, file_path, size_bytes, page_count, document_type, exact_hash, content_hash, extraction, metadata, status, is_latest_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			loan_id = excluded.loan_id, filename = excluded.filename, file_path = excluded.file_path,
			size_bytes = excluded.size_bytes, page_count = excluded.page_count, document_type = excluded.document_type,
			metadata = excluded.metadata`

	var count int64
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		status := doc.Status
		if status == "" {
			status = model.StatusPending
		}

		var metadata any
		if doc.Metadata != nil {
			b, err := json.Marshal(doc.Metadata)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal metadata %s", doc.ID)
			}
			metadata = string(b)
		}

		var extraction any
		if len(doc.Extraction) > 0 {
			extraction = string(doc.Extraction)
		}

		latest := 0
		if doc.IsLatestVersion {
			latest = 1
		}

		if _, err := tx.ExecContext(ctx, upsert,
			doc.ID, doc.LoanID, doc.Filename, doc.FilePath, doc.SizeBytes, doc.PageCount,
			doc.DocumentType, doc.ExactHash, doc.ContentHash, extraction, metadata,
			string(status), latest,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import document %s", doc.ID)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import tx")
	}
	return count, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, loanID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, loan_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, loanID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		LoanID:    loanID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) SaveRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save run report %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var report sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, loan_id, status, report, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.LoanID, &r.Status, &report, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	if report.Valid && report.String != "" {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(report.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, loan_id, status, report, created_at, updated_at FROM runs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.LoanID != "" {
		query += ` AND loan_id = ?`
		args = append(args, filter.LoanID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var report sql.NullString

		if err := rows.Scan(&r.ID, &r.LoanID, &r.Status, &report, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if report.Valid && report.String != "" {
			r.Report = &model.RunReport{}
			if err := json.Unmarshal([]byte(report.String), r.Report); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase %s", name)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

// AcquireRunLock inserts a lock row for the loan; a second concurrent run
// fails on the primary-key conflict.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context, loanID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_locks (loan_id, locked_at) VALUES (?, ?)`,
		loanID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: acquire run lock %s", loanID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("a resolution run is already in progress for loan %s", loanID)
	}
	return nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, loanID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE loan_id = ?`, loanID)
	return eris.Wrapf(err, "sqlite: release run lock %s", loanID)
}
