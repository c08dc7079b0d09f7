package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobs-etl/internal/identity"
	"github.com/sells-group/jobs-etl/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

// upsertArgs matches the 17 parameters of upsertPostingSQL.
func upsertArgs() []any {
	args := make([]any, 17)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_UpsertPosting_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	observed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO job_postings AS p .* ON CONFLICT \(dedup_key\) DO UPDATE SET .*GREATEST\(p.last_seen_at, EXCLUDED.last_seen_at\).*RETURNING \(xmax = 0\)`).
		WithArgs("k1", "Analyst", "Acme", "Berlin",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			observed).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	inserted, err := s.UpsertPosting(context.Background(), "k1", ingest("Acme", "Analyst", "Berlin"), observed)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPosting_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO job_postings`).
		WithArgs(upsertArgs()...).
		WillReturnError(errors.New("conn reset"))

	_, err := s.UpsertPosting(context.Background(), "k1", ingest("Acme", "Analyst", "Berlin"), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert posting k1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPosting_ReplayKeepsCounters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`times_seen = p.times_seen \+ CASE WHEN EXCLUDED.last_seen_at > p.last_seen_at THEN 1 ELSE 0 END, ` +
		`revision = p.revision \+ CASE WHEN \( EXCLUDED.job_title, .* \) IS DISTINCT FROM \( p.job_title, .* \) THEN 1 ELSE 0 END RETURNING`).
		WithArgs(upsertArgs()...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	inserted, err := s.UpsertPosting(context.Background(), "k1", ingest("Acme", "Analyst", "Berlin"), time.Now())
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPosting_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM job_postings p WHERE p.dedup_key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetPosting(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionSeniority(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE job_postings SET seniority_status = \$1.*revision = revision \+ 1 WHERE dedup_key = \$4 AND seniority_status = 'not_tried'`).
		WithArgs("upgraded", "senior", pgxmock.AnyArg(), "k1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE job_postings SET seniority_status`).
		WithArgs("failed_to_upgrade", "unknown", pgxmock.AnyArg(), "k2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.TransitionSeniority(context.Background(), "k1", model.StatusUpgraded, model.SenioritySenior, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionSeniority(context.Background(), "k2", model.StatusFailedToUpgrade, model.SeniorityUnknown, "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TransitionSeniority(context.Background(), "k3", model.StatusNotTried, model.SeniorityUnknown, "v1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_VerifyAtomicUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SHOW server_version_num`).
		WillReturnRows(pgxmock.NewRows([]string{"server_version_num"}).AddRow("160002"))
	require.NoError(t, s.VerifyAtomicUpsert(context.Background()))

	mock.ExpectQuery(`SHOW server_version_num`).
		WillReturnRows(pgxmock.NewRows([]string{"server_version_num"}).AddRow("90406"))
	err := s.VerifyAtomicUpsert(context.Background())
	var ce *model.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "90406")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveCompany_CAS(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WITH resolved AS \( UPDATE companies SET .* WHERE company_key = \$6 AND attempts = \$7 AND match_status <> 'matched' RETURNING company_key \), `+
		`touched AS \( UPDATE job_postings SET revision = revision \+ 1 WHERE \$1::jsonb IS NOT NULL AND company_key IN \(SELECT company_key FROM resolved\) \)`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "no_match_found", pgxmock.AnyArg(), pgxmock.AnyArg(), "ck", 2).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`WITH resolved AS`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "matched", pgxmock.AnyArg(), pgxmock.AnyArg(), "ck", 3).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := s.ResolveCompany(context.Background(), "ck", 2, model.NoMatch(0.3), nil, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ResolveCompany(context.Background(), "ck", 3, model.Matched("Acme", 1), &model.CompanyProfile{Name: "Acme"}, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureCompanies_LinksByDedupKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	name := "Acme\u00a0Corp"
	companyKey := identity.CompanyKey(name)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT dedup_key, company_name FROM job_postings WHERE company_key IS NULL`).
		WillReturnRows(pgxmock.NewRows([]string{"dedup_key", "company_name"}).
			AddRow("k1", name).
			AddRow("k2", "acme corp"))
	mock.ExpectExec(`INSERT INTO companies`).
		WithArgs(companyKey, name, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE job_postings SET company_key = \$1, revision = revision \+ 1 WHERE dedup_key = \$2 AND company_key IS NULL`).
		WithArgs(companyKey, "k1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO companies`).
		WithArgs(companyKey, "acme corp", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`UPDATE job_postings SET company_key = \$1`).
		WithArgs(companyKey, "k2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	linked, created, err := s.EnsureCompanies(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)
	assert.Equal(t, 1, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PendingCompanies_RetryWindow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM companies WHERE enriched_at IS NULL OR \(match_status = 'no_match_found' AND enriched_at <= \$1\) ORDER BY created_at, company_key LIMIT \$2`).
		WithArgs(now.Add(-24*time.Hour), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"company_key", "company_name", "profile", "enriched_at", "match_status", "match_name", "match_score", "attempts", "created_at",
		}).AddRow("ck", "Acme", []byte(nil), (*time.Time)(nil), "not_attempted", (*string)(nil), (*float64)(nil), 0, now))

	got, err := s.PendingCompanies(context.Background(), 10, model.RetryPolicy{After: 24 * time.Hour}, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme", got[0].DisplayName)
	assert.True(t, got[0].Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRankings_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_job_rankings"},
		[]string{"dedup_key", "rank_score", "rank_explain", "profile_hash", "ranked_at", "posting_revision", "_ord"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "job_rankings"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.SaveRankings(context.Background(), []model.RankedPosting{{
		Key:             "k1",
		Score:           64.25,
		Explain:         map[model.Feature]float64{model.FeatureTitleKeywords: 1},
		ProfileHash:     "h",
		RankedAt:        time.Now(),
		PostingRevision: 3,
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT summary FROM etl_runs WHERE true AND operation = \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("merge", 100).
		WillReturnRows(pgxmock.NewRows([]string{"summary"}).
			AddRow([]byte(`{"run_id":"r1","operation":"merge","status":"complete","inserted":4}`)))

	runs, err := s.ListRuns(context.Background(), RunFilter{Operation: model.OpMerge})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
