package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "documents", []string{"id", "filename"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"documents"}, []string{"id", "filename"}).WillReturnResult(2)

	rows := [][]any{{"doc-a", "a.pdf"}, {"doc-b", "b.pdf"}}
	n, err := CopyFrom(context.Background(), mock, "documents", []string{"id", "filename"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"documents"}, []string{"id", "filename"}).
		WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"doc-a", "a.pdf"}}
	_, err = CopyFrom(context.Background(), mock, "documents", []string{"id", "filename"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO documents")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "documents"}, [][]any{{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "documents",
		Columns: []string{"id"},
	}, [][]any{{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMergeSQL_DefaultsToAllNonKeyColumns(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "documents",
		Columns:      []string{"id", "filename", "status"},
		ConflictKeys: []string{"id"},
	}
	sql := mergeSQL(cfg, "_stage_documents")
	assert.Contains(t, sql, `INSERT INTO "documents" ("id", "filename", "status")`)
	assert.Contains(t, sql, `FROM "_stage_documents"`)
	assert.Contains(t, sql, `ON CONFLICT ("id") DO UPDATE SET "filename" = EXCLUDED."filename", "status" = EXCLUDED."status"`)
}

func TestMergeSQL_RestrictedUpdateColumns(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "documents",
		Columns:      []string{"id", "filename", "status"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"filename"},
	}
	sql := mergeSQL(cfg, "_stage_documents")
	assert.Contains(t, sql, `DO UPDATE SET "filename" = EXCLUDED."filename"`)
	assert.NotContains(t, sql, `"status" = EXCLUDED`)
}

func TestMergeSQL_EmptyUpdateSetDoesNothingOnConflict(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "documents",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}
	sql := mergeSQL(cfg, "_stage_documents")
	assert.Contains(t, sql, `ON CONFLICT ("id") DO NOTHING`)
}

func TestStagingTable(t *testing.T) {
	assert.Equal(t, "_stage_documents", stagingTable("documents"))
	assert.Equal(t, "_stage_loans_documents", stagingTable("loans.documents"))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"documents", `"documents"`},
		{"loans.documents", `"loans"."documents"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "loan_id", "filename"`, quoteAndJoin([]string{"id", "loan_id", "filename"}))
}
