package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "job_rankings",
		Columns:      []string{"dedup_key", "rank_score"},
		ConflictKeys: []string{"dedup_key"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "job_rankings",
		ConflictKeys: []string{"dedup_key"},
	}, [][]any{{"k", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "job_rankings",
		Columns: []string{"dedup_key", "rank_score"},
	}, [][]any{{"k", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_RowWidthMismatch(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "job_rankings",
		Columns:      []string{"dedup_key", "rank_score"},
		ConflictKeys: []string{"dedup_key"},
	}, [][]any{{"k"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 1 values, want 2")
}

func TestBulkUpsert_CopiesAndMerges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"dedup_key", "rank_score"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_job_rankings"}, append(cols, "_ord")).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "job_rankings",
		Columns:      cols,
		ConflictKeys: []string{"dedup_key"},
	}, [][]any{{"a", 10.0}, {"b", 20.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpsertSQL(t *testing.T) {
	got := buildUpsertSQL(UpsertConfig{
		Table:        "public.job_rankings",
		Columns:      []string{"dedup_key", "rank_score"},
		ConflictKeys: []string{"dedup_key"},
	}, "_tmp_upsert_public_job_rankings")

	assert.Equal(t,
		`INSERT INTO "public"."job_rankings" ("dedup_key", "rank_score") SELECT DISTINCT ON ("dedup_key") "dedup_key", "rank_score" FROM "_tmp_upsert_public_job_rankings" ORDER BY "dedup_key", _ord DESC ON CONFLICT ("dedup_key") DO UPDATE SET "rank_score" = EXCLUDED."rank_score"`,
		got)

	nothing := buildUpsertSQL(UpsertConfig{
		Table:        "companies",
		Columns:      []string{"company_key"},
		ConflictKeys: []string{"company_key"},
	}, "_tmp")
	assert.Contains(t, nothing, "ON CONFLICT (\"company_key\") DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.job_rankings", `"public"."job_rankings"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"dedup_key", "rank_score", "ranked_at"`, quoteAndJoin([]string{"dedup_key", "rank_score", "ranked_at"}))
}
