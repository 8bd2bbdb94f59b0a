package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgepoint-lending/docresolve/internal/model"
	"github.com/ridgepoint-lending/docresolve/internal/resilience"
)

func strPtr(s string) *string { return &s }

func bytesPtr(s string) *[]byte {
	b := []byte(s)
	return &b
}

func testTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, loan_id, status, report, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetFingerprint(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET exact_hash = \$1, content_hash = \$2`).
		WithArgs("abc", "def", pgxmock.AnyArg(), "doc-a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetFingerprint(context.Background(), model.Fingerprint{
		DocumentID: "doc-a", ExactHash: "abc", ContentHash: "def",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetResolution_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET status = \$1`).
		WithArgs("superseded", false, "superseded by doc-b", pgxmock.AnyArg(), "doc-a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1`).
		WithArgs("doc-a").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("master"))

	err := s.SetResolution(context.Background(), model.ResolutionResult{
		DocumentID: "doc-a",
		Status:     model.StatusSuperseded,
		Reason:     "superseded by doc-b",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrResolutionConflict)
	assert.Contains(t, err.Error(), "master")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetResolution_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET status = \$1`).
		WithArgs("unique", true, "sole member of its group", pgxmock.AnyArg(), "doc-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1`).
		WithArgs("doc-missing").
		WillReturnError(pgx.ErrNoRows)

	err := s.SetResolution(context.Background(), model.ResolutionResult{
		DocumentID:      "doc-missing",
		Status:          model.StatusUnique,
		IsLatestVersion: true,
		Reason:          "sole member of its group",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "LN-1001", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "LN-1001")
	require.NoError(t, err)
	assert.Equal(t, "LN-1001", run.LoanID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRunLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_locks`).
		WithArgs("LN-1001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AcquireRunLock(context.Background(), "LN-1001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRunLock_Held(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_locks`).
		WithArgs("LN-1001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.AcquireRunLock(context.Background(), "LN-1001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseRunLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM run_locks`).
		WithArgs("LN-1001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.ReleaseRunLock(context.Background(), "LN-1001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The lock must survive pooled-connection churn: acquire and release act on
// the run_locks row, never on session state, so a lock released after a run
// is immediately reacquirable no matter which connection serves each call.
func TestPostgresStore_RunLock_ReacquirableAfterRelease(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO run_locks`).
		WithArgs("LN-1001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM run_locks`).
		WithArgs("LN-1001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO run_locks`).
		WithArgs("LN-1001", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AcquireRunLock(ctx, "LN-1001"))
	require.NoError(t, s.ReleaseRunLock(ctx, "LN-1001"))
	require.NoError(t, s.AcquireRunLock(ctx, "LN-1001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDocuments(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "loan_id", "filename", "file_path", "size_bytes", "page_count",
		"document_type", "exact_hash", "content_hash", "extraction", "metadata",
		"status", "is_latest_version", "created_at", "updated_at",
	}).AddRow(
		"doc-a", "LN-1001", "a.pdf", strPtr("/mnt/loans/a.pdf"), int64(2048), 4,
		strPtr("promissory_note"), strPtr("abc"), nil, bytesPtr(`{"loan_number":"LN-1001"}`), bytesPtr(`{"borrower_name":"Alice"}`),
		model.StatusPending, false, testTime(), testTime(),
	)

	mock.ExpectQuery(`SELECT id, loan_id, filename, .* FROM documents WHERE loan_id = \$1`).
		WithArgs("LN-1001").
		WillReturnRows(rows)

	docs, err := s.ListDocuments(context.Background(), "LN-1001")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.pdf", docs[0].Filename)
	assert.Equal(t, "abc", docs[0].ExactHash)
	assert.Empty(t, docs[0].ContentHash)
	assert.Equal(t, "Alice", docs[0].BorrowerName())
	assert.NoError(t, mock.ExpectationsWereMet())
}
