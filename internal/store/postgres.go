package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ridgepoint-lending/docresolve/internal/db"
	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. Statement
// preparation is left to pgx's per-connection statement cache.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., manifest import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	loan_id           TEXT NOT NULL,
	filename          TEXT NOT NULL,
	file_path         TEXT,
	size_bytes        BIGINT NOT NULL DEFAULT 0,
	page_count        INTEGER NOT NULL DEFAULT 0,
	document_type     TEXT,
	exact_hash        TEXT,
	content_hash      TEXT,
	extraction        JSONB,
	metadata          JSONB,
	status            TEXT NOT NULL DEFAULT 'pending',
	is_latest_version BOOLEAN NOT NULL DEFAULT false,
	reason            TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_loan_id ON documents(loan_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_exact_hash ON documents(exact_hash);
CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	loan_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_loan_id ON runs(loan_id);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);

CREATE TABLE IF NOT EXISTS run_locks (
	loan_id   TEXT PRIMARY KEY,
	locked_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, loanID string) ([]*model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, loan_id, filename, file_path, size_bytes, page_count, document_type, exact_hash, content_hash, extraction, metadata, status, is_latest_version, created_at, updated_at FROM documents WHERE loan_id = $1 ORDER BY filename, id`,
		loanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents %s", loanID)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	var filePath, docType, exactHash, contentHash *string
	var extraction, metadata *[]byte

	err := row.Scan(&d.ID, &d.LoanID, &d.Filename, &filePath, &d.SizeBytes, &d.PageCount,
		&docType, &exactHash, &contentHash, &extraction, &metadata,
		&d.Status, &d.IsLatestVersion, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}

	if filePath != nil {
		d.FilePath = *filePath
	}
	if docType != nil {
		d.DocumentType = *docType
	}
	if exactHash != nil {
		d.ExactHash = *exactHash
	}
	if contentHash != nil {
		d.ContentHash = *contentHash
	}
	if extraction != nil {
		d.Extraction = json.RawMessage(*extraction)
	}
	if metadata != nil {
		if err := json.Unmarshal(*metadata, &d.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal document metadata")
		}
	}
	return &d, nil
}

func (s *PostgresStore) GetStructuredExtraction(ctx context.Context, documentID string) (json.RawMessage, error) {
	var extraction *[]byte
	err := s.pool.QueryRow(ctx, `SELECT extraction FROM documents WHERE id = $1`, documentID).Scan(&extraction)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: document not found: %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extraction %s", documentID)
	}
	if extraction == nil {
		return nil, nil
	}
	return json.RawMessage(*extraction), nil
}

func (s *PostgresStore) SetFingerprint(ctx context.Context, fp model.Fingerprint) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET exact_hash = $1, content_hash = $2, updated_at = $3 WHERE id = $4`,
		fp.ExactHash, fp.ContentHash, time.Now().UTC(), fp.DocumentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set fingerprint %s", fp.DocumentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: document not found: %s", fp.DocumentID)
	}
	return nil
}

const setResolutionSQL = `UPDATE documents SET status = $1, is_latest_version = $2, reason = $3, updated_at = $4 WHERE id = $5 AND (status = 'pending' OR (status = $1 AND is_latest_version = $2))`

func (s *PostgresStore) SetResolution(ctx context.Context, res model.ResolutionResult) error {
	tag, err := s.pool.Exec(ctx, setResolutionSQL,
		string(res.Status), res.IsLatestVersion, res.Reason, time.Now().UTC(), res.DocumentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set resolution %s", res.DocumentID)
	}
	if tag.RowsAffected() == 0 {
		return s.resolutionConflict(ctx, res.DocumentID)
	}
	return nil
}

// resolutionConflict distinguishes a missing row from a row already holding
// a different terminal label.
func (s *PostgresStore) resolutionConflict(ctx context.Context, documentID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, documentID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("postgres: document not found: %s", documentID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check resolution status %s", documentID)
	}
	return eris.Wrapf(resilience.ErrResolutionConflict, "document %s already resolved as %s", documentID, status)
}

// CommitResolutions applies a full result set in one transaction: either
// every document is labeled or none is.
func (s *PostgresStore) CommitResolutions(ctx context.Context, results []model.ResolutionResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin resolutions tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, res := range results {
		tag, err := tx.Exec(ctx, setResolutionSQL,
			string(res.Status), res.IsLatestVersion, res.Reason, now, res.DocumentID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: commit resolution %s", res.DocumentID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(resilience.ErrResolutionConflict, "document %s already resolved", res.DocumentID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit resolutions tx")
}

var documentColumns = []string{
	"id", "loan_id", "filename", "file_path", "size_bytes", "page_count",
	"document_type", "exact_hash", "content_hash", "extraction", "metadata",
	"status", "is_latest_version",
}

// documentImportUpdateCols restricts what a re-import may overwrite: the
// manifest inventory columns only. Fingerprints and resolution labels are
// owned by the pipeline and survive re-import untouched.
var documentImportUpdateCols = []string{
	"loan_id", "filename", "file_path", "size_bytes", "page_count",
	"document_type", "metadata",
}

// BulkImportDocuments upserts a manifest of documents keyed by id, so
// re-importing the same manifest is safe.
func (s *PostgresStore) BulkImportDocuments(ctx context.Context, docs []*model.Document) (int64, error) {
	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		status := doc.Status
		if status == "" {
			status = model.StatusPending
		}

		var metadata []byte
		if doc.Metadata != nil {
			b, err := json.Marshal(doc.Metadata)
			if err != nil {
				return 0, eris.Wrapf(err, "postgres: marshal metadata %s", doc.ID)
			}
			metadata = b
		}

		rows = append(rows, []any{
			doc.ID, doc.LoanID, doc.Filename, doc.FilePath, doc.SizeBytes, doc.PageCount,
			doc.DocumentType, doc.ExactHash, doc.ContentHash, []byte(doc.Extraction), metadata,
			string(status), doc.IsLatestVersion,
		})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "documents",
		Columns:      documentColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   documentImportUpdateCols,
	}, rows)
}

func (s *PostgresStore) CreateRun(ctx context.Context, loanID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, loan_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, loanID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		LoanID:    loanID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run report %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var reportNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, loan_id, status, report, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.LoanID, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if reportNull != nil {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(*reportNull, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, loan_id, status, report, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.LoanID != "" {
		query += fmt.Sprintf(` AND loan_id = $%d`, argIdx)
		args = append(args, filter.LoanID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var reportNull *[]byte

		if err := rows.Scan(&r.ID, &r.LoanID, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if reportNull != nil {
			r.Report = &model.RunReport{}
			if err := json.Unmarshal(*reportNull, r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase %s", name)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

// AcquireRunLock inserts a lock row for the loan; a second concurrent run
// fails on the primary-key conflict. The lock must live in a row, not a
// session-scoped advisory lock: the pool hands acquire and release to
// different connections, and an advisory lock only unlocks on the session
// that took it.
func (s *PostgresStore) AcquireRunLock(ctx context.Context, loanID string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO run_locks (loan_id, locked_at) VALUES ($1, $2) ON CONFLICT (loan_id) DO NOTHING`,
		loanID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: acquire run lock %s", loanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("a resolution run is already in progress for loan %s", loanID)
	}
	return nil
}

func (s *PostgresStore) ReleaseRunLock(ctx context.Context, loanID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM run_locks WHERE loan_id = $1`, loanID)
	return eris.Wrapf(err, "postgres: release run lock %s", loanID)
}
