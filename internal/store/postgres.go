package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobs-etl/internal/db"
	"github.com/sells-group/jobs-etl/internal/identity"
	"github.com/sells-group/jobs-etl/internal/model"
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

// minServerVersion is the first Postgres release with INSERT ... ON CONFLICT.
const minServerVersion = 90500

// NewPostgres creates a PostgresStore with a connection pool.
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

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS job_postings (
	dedup_key          TEXT PRIMARY KEY,
	job_title          TEXT NOT NULL,
	company_name       TEXT NOT NULL,
	location           TEXT NOT NULL,
	remote_type        TEXT,
	employment_type    TEXT,
	company_size       TEXT,
	salary_min         DOUBLE PRECISION,
	salary_max         DOUBLE PRECISION,
	currency           TEXT,
	description        TEXT,
	source             TEXT,
	provider_job_id    TEXT,
	job_url            TEXT,
	posted_at          TIMESTAMPTZ,
	skills_raw         JSONB,
	seniority_level    TEXT NOT NULL DEFAULT 'unknown',
	seniority_status   TEXT NOT NULL DEFAULT 'not_tried'
		CHECK (seniority_status IN ('not_tried', 'upgraded', 'failed_to_upgrade')),
	seniority_taxonomy TEXT,
	skills             JSONB,
	skills_enriched_at TIMESTAMPTZ,
	company_key        TEXT,
	first_seen_at      TIMESTAMPTZ NOT NULL,
	last_seen_at       TIMESTAMPTZ NOT NULL,
	times_seen         INTEGER NOT NULL DEFAULT 1,
	revision           BIGINT NOT NULL DEFAULT 1,
	CHECK (first_seen_at <= last_seen_at)
);

CREATE INDEX IF NOT EXISTS idx_job_postings_seniority_status ON job_postings(seniority_status);
CREATE INDEX IF NOT EXISTS idx_job_postings_skills_pending ON job_postings(first_seen_at) WHERE skills_enriched_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_job_postings_company_key ON job_postings(company_key);

CREATE TABLE IF NOT EXISTS companies (
	company_key  TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	profile      JSONB,
	enriched_at  TIMESTAMPTZ,
	match_status TEXT NOT NULL DEFAULT 'not_attempted',
	match_name   TEXT,
	match_score  DOUBLE PRECISION,
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_pending ON companies(created_at) WHERE enriched_at IS NULL;

CREATE TABLE IF NOT EXISTS job_rankings (
	dedup_key    TEXT PRIMARY KEY REFERENCES job_postings(dedup_key),
	rank_score   DOUBLE PRECISION NOT NULL CHECK (rank_score >= 0 AND rank_score <= 100),
	rank_explain JSONB NOT NULL,
	profile_hash TEXT NOT NULL,
	ranked_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	posting_revision BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_job_rankings_score ON job_rankings(rank_score DESC);

CREATE TABLE IF NOT EXISTS etl_runs (
	run_id      TEXT PRIMARY KEY,
	operation   TEXT NOT NULL,
	status      TEXT NOT NULL,
	dry_run     BOOLEAN NOT NULL DEFAULT false,
	summary     JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_etl_runs_started_at ON etl_runs(started_at DESC);
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

// VerifyAtomicUpsert checks that the server supports INSERT ... ON CONFLICT,
// which UpsertPosting relies on for per-key atomicity.
func (s *PostgresStore) VerifyAtomicUpsert(ctx context.Context) error {
	var raw string
	if err := s.pool.QueryRow(ctx, `SHOW server_version_num`).Scan(&raw); err != nil {
		return eris.Wrap(err, "postgres: read server version")
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return eris.Wrapf(err, "postgres: parse server version %q", raw)
	}
	if v < minServerVersion {
		return &model.ConfigurationError{
			Setting: "store.database_url",
			Reason:  fmt.Sprintf("server version %d does not support atomic upsert (need >= %d)", v, minServerVersion),
		}
	}
	return nil
}

const upsertPostingSQL = `
INSERT INTO job_postings AS p (
	dedup_key, job_title, company_name, location,
	remote_type, employment_type, company_size,
	salary_min, salary_max, currency, description,
	source, provider_job_id, job_url, posted_at, skills_raw,
	first_seen_at, last_seen_at, times_seen, revision, seniority_level, seniority_status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17, 1, 1, 'unknown', 'not_tried')
ON CONFLICT (dedup_key) DO UPDATE SET
	job_title       = EXCLUDED.job_title,
	company_name    = EXCLUDED.company_name,
	location        = EXCLUDED.location,
	remote_type     = COALESCE(EXCLUDED.remote_type, p.remote_type),
	employment_type = COALESCE(EXCLUDED.employment_type, p.employment_type),
	company_size    = COALESCE(EXCLUDED.company_size, p.company_size),
	salary_min      = COALESCE(EXCLUDED.salary_min, p.salary_min),
	salary_max      = COALESCE(EXCLUDED.salary_max, p.salary_max),
	currency        = COALESCE(EXCLUDED.currency, p.currency),
	description     = COALESCE(EXCLUDED.description, p.description),
	source          = COALESCE(EXCLUDED.source, p.source),
	provider_job_id = COALESCE(EXCLUDED.provider_job_id, p.provider_job_id),
	job_url         = COALESCE(EXCLUDED.job_url, p.job_url),
	posted_at       = COALESCE(EXCLUDED.posted_at, p.posted_at),
	skills_raw      = COALESCE(EXCLUDED.skills_raw, p.skills_raw),
	last_seen_at    = GREATEST(p.last_seen_at, EXCLUDED.last_seen_at),
	times_seen      = p.times_seen + CASE WHEN EXCLUDED.last_seen_at > p.last_seen_at THEN 1 ELSE 0 END,
	revision        = p.revision + CASE WHEN (
		EXCLUDED.job_title, EXCLUDED.company_name, EXCLUDED.location,
		COALESCE(EXCLUDED.remote_type, p.remote_type),
		COALESCE(EXCLUDED.employment_type, p.employment_type),
		COALESCE(EXCLUDED.company_size, p.company_size),
		COALESCE(EXCLUDED.salary_min, p.salary_min),
		COALESCE(EXCLUDED.salary_max, p.salary_max),
		COALESCE(EXCLUDED.currency, p.currency),
		COALESCE(EXCLUDED.description, p.description),
		COALESCE(EXCLUDED.source, p.source),
		COALESCE(EXCLUDED.provider_job_id, p.provider_job_id),
		COALESCE(EXCLUDED.job_url, p.job_url),
		COALESCE(EXCLUDED.posted_at, p.posted_at),
		COALESCE(EXCLUDED.skills_raw, p.skills_raw)
	) IS DISTINCT FROM (
		p.job_title, p.company_name, p.location,
		p.remote_type, p.employment_type, p.company_size,
		p.salary_min, p.salary_max, p.currency, p.description,
		p.source, p.provider_job_id, p.job_url, p.posted_at, p.skills_raw
	) THEN 1 ELSE 0 END
RETURNING (xmax = 0) AS inserted`

// UpsertPosting inserts or coalesces one posting in a single statement.
// Enrichment columns are never part of the update set. Replaying an
// observation changes neither times_seen nor revision.
func (s *PostgresStore) UpsertPosting(ctx context.Context, key string, in model.IngestFields, observedAt time.Time) (bool, error) {
	skillsRaw, err := encodeList(in.SkillsRaw)
	if err != nil {
		return false, eris.Wrap(err, "postgres: encode skills_raw")
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, upsertPostingSQL,
		key, in.Title, in.CompanyName, in.Location,
		in.RemoteType, in.EmploymentType, in.CompanySize,
		in.SalaryMin, in.SalaryMax, in.Currency, in.Description,
		in.Source, in.ProviderJobID, in.JobURL, in.PostedAt, skillsRaw,
		observedAt.UTC(),
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert posting %s", key)
	}
	return inserted, nil
}

func (s *PostgresStore) GetPosting(ctx context.Context, key string) (*model.Posting, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM job_postings p WHERE p.dedup_key = $1`, key)
	p, err := scanPosting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get posting %s", key)
	}
	return p, nil
}

func (s *PostgresStore) CountPostings(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM job_postings`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count postings")
	}
	return n, nil
}

func (s *PostgresStore) PendingSeniority(ctx context.Context, limit int) ([]model.Posting, error) {
	return s.queryPostings(ctx, "pending seniority",
		`SELECT `+postingColumns+` FROM job_postings p
		WHERE p.seniority_status = 'not_tried'
		ORDER BY p.first_seen_at, p.dedup_key LIMIT $1`, pgLimit(limit))
}

func (s *PostgresStore) PendingSkills(ctx context.Context, limit int) ([]model.Posting, error) {
	return s.queryPostings(ctx, "pending skills",
		`SELECT `+postingColumns+` FROM job_postings p
		WHERE p.skills_enriched_at IS NULL
		ORDER BY p.first_seen_at, p.dedup_key LIMIT $1`, pgLimit(limit))
}

func (s *PostgresStore) queryPostings(ctx context.Context, op, query string, args ...any) ([]model.Posting, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", op)
}

// TransitionSeniority moves a posting out of not_tried. It reports false when
// another writer already resolved the posting.
func (s *PostgresStore) TransitionSeniority(ctx context.Context, key string, to model.EnrichmentStatus, level model.SeniorityLevel, taxonomy string) (bool, error) {
	if !to.Terminal() {
		return false, eris.Errorf("postgres: invalid transition not_tried -> %s", to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET seniority_status = $1, seniority_level = $2, seniority_taxonomy = $3,
			revision = revision + 1
		WHERE dedup_key = $4 AND seniority_status = 'not_tried'`,
		string(to), string(level), model.Str(taxonomy), key,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition seniority %s", key)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetSeniority returns postings resolved under another taxonomy to not_tried.
func (s *PostgresStore) ResetSeniority(ctx context.Context, taxonomy string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET seniority_status = 'not_tried', seniority_level = 'unknown', seniority_taxonomy = NULL,
			revision = revision + 1
		WHERE seniority_status <> 'not_tried' AND seniority_taxonomy IS DISTINCT FROM $1`,
		taxonomy,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset seniority")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SetSkills(ctx context.Context, key string, skills []string, at time.Time) (bool, error) {
	if skills == nil {
		skills = []string{}
	}
	data, err := json.Marshal(skills)
	if err != nil {
		return false, eris.Wrap(err, "postgres: encode skills")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET skills = $1, skills_enriched_at = $2, revision = revision + 1
		WHERE dedup_key = $3 AND skills_enriched_at IS NULL`,
		data, at.UTC(), key,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set skills %s", key)
	}
	return tag.RowsAffected() == 1, nil
}

// EnsureCompanies creates base company records for postings that are not yet
// linked to one and links them. Keys are derived in Go so they always agree
// with identity.CompanyKey.
func (s *PostgresStore) EnsureCompanies(ctx context.Context, now time.Time) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: begin ensure companies")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`SELECT dedup_key, company_name FROM job_postings
		WHERE company_key IS NULL ORDER BY first_seen_at, dedup_key`)
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: list unlinked postings")
	}
	type unlinked struct{ key, name string }
	pending, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (unlinked, error) {
		var u unlinked
		err := row.Scan(&u.key, &u.name)
		return u, err
	})
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: scan unlinked postings")
	}

	var linked, created int
	for _, u := range pending {
		companyKey := identity.CompanyKey(u.name)
		tag, err := tx.Exec(ctx,
			`INSERT INTO companies (company_key, company_name, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (company_key) DO NOTHING`,
			companyKey, u.name, now.UTC(),
		)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "postgres: insert company %s", companyKey)
		}
		created += int(tag.RowsAffected())

		tag, err = tx.Exec(ctx,
			`UPDATE job_postings SET company_key = $1, revision = revision + 1
			WHERE dedup_key = $2 AND company_key IS NULL`,
			companyKey, u.key,
		)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "postgres: link posting %s", u.key)
		}
		linked += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: commit ensure companies")
	}
	return linked, created, nil
}

func (s *PostgresStore) PendingCompanies(ctx context.Context, limit int, policy model.RetryPolicy, now time.Time) ([]model.CompanyRecord, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE enriched_at IS NULL`
	args := []any{}
	if policy.After > 0 {
		query += ` OR (match_status = 'no_match_found' AND enriched_at <= $1)`
		args = append(args, now.Add(-policy.After).UTC())
	}
	query += fmt.Sprintf(` ORDER BY created_at, company_key LIMIT $%d`, len(args)+1)
	args = append(args, pgLimit(limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending companies")
	}
	defer rows.Close()

	var out []model.CompanyRecord
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

// ResolveCompany records a search outcome. attempts is the value read with
// the record; a concurrent resolution bumps it and this call reports false.
// A new profile bumps the revision of every linked posting.
func (s *PostgresStore) ResolveCompany(ctx context.Context, key string, attempts int, outcome model.MatchOutcome, profile *model.CompanyProfile, now time.Time) (bool, error) {
	data, err := encodeProfile(profile)
	if err != nil {
		return false, eris.Wrap(err, "postgres: encode profile")
	}
	status, name, score := matchColumns(outcome)

	var resolved int
	err = s.pool.QueryRow(ctx,
		`WITH resolved AS (
			UPDATE companies SET profile = COALESCE($1, profile), enriched_at = $2,
				match_status = $3, match_name = $4, match_score = $5, attempts = attempts + 1
			WHERE company_key = $6 AND attempts = $7 AND match_status <> 'matched'
			RETURNING company_key
		), touched AS (
			UPDATE job_postings SET revision = revision + 1
			WHERE $1::jsonb IS NOT NULL AND company_key IN (SELECT company_key FROM resolved)
		)
		SELECT count(*) FROM resolved`,
		data, now.UTC(), status, name, score, key, attempts,
	).Scan(&resolved)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: resolve company %s", key)
	}
	return resolved == 1, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, key string) (*model.CompanyRecord, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE company_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", key)
	}
	return c, nil
}

func (s *PostgresStore) ListRankable(ctx context.Context, filter RankFilter) ([]model.RankablePosting, error) {
	query := `SELECT ` + postingColumns + `, ` + companyProfileColumns + `
		FROM job_postings p
		LEFT JOIN companies c ON c.company_key = p.company_key`
	args := []any{}
	if filter.OnlyUnranked {
		query += ` LEFT JOIN job_rankings r ON r.dedup_key = p.dedup_key
		WHERE r.dedup_key IS NULL OR r.profile_hash <> $1 OR r.posting_revision < p.revision`
		args = append(args, filter.ProfileHash)
	}
	query += fmt.Sprintf(` ORDER BY p.first_seen_at, p.dedup_key LIMIT $%d`, len(args)+1)
	args = append(args, pgLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rankable")
	}
	defer rows.Close()

	var out []model.RankablePosting
	for rows.Next() {
		var profile []byte
		p, err := scanPosting(rows, &profile)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rankable")
		}
		company, err := decodeProfile(profile)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: decode profile for %s", p.Key)
		}
		out = append(out, model.RankablePosting{Posting: *p, Company: company})
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rankable")
}

var rankingUpsert = db.UpsertConfig{
	Table:        "job_rankings",
	Columns:      []string{"dedup_key", "rank_score", "rank_explain", "profile_hash", "ranked_at", "posting_revision"},
	ConflictKeys: []string{"dedup_key"},
}

// SaveRankings writes rankings in one bulk upsert.
func (s *PostgresStore) SaveRankings(ctx context.Context, ranked []model.RankedPosting) (int64, error) {
	rows := make([][]any, 0, len(ranked))
	for _, r := range ranked {
		explain, err := json.Marshal(r.Explain)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode explain for %s", r.Key)
		}
		rows = append(rows, []any{r.Key, r.Score, explain, r.ProfileHash, r.RankedAt.UTC(), r.PostingRevision})
	}
	n, err := db.BulkUpsert(ctx, s.pool, rankingUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save rankings")
	}
	return n, nil
}

func (s *PostgresStore) GetRanking(ctx context.Context, key string) (*model.RankedPosting, error) {
	r, err := scanRanking(s.pool.QueryRow(ctx,
		`SELECT `+rankingColumns+` FROM job_rankings WHERE dedup_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ranking %s", key)
	}
	return r, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	var finished *time.Time
	if !summary.FinishedAt.IsZero() {
		f := summary.FinishedAt.UTC()
		finished = &f
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO etl_runs (run_id, operation, status, dry_run, summary, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, summary = EXCLUDED.summary, finished_at = EXCLUDED.finished_at`,
		summary.RunID, string(summary.Operation), string(summary.Status), summary.DryRun, data, summary.StartedAt.UTC(), finished,
	)
	return eris.Wrapf(err, "postgres: save run %s", summary.RunID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT summary FROM etl_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Operation != "" {
		query += fmt.Sprintf(` AND operation = $%d`, argIdx)
		args = append(args, string(filter.Operation))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
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

	var runs []model.RunSummary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var r model.RunSummary
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// pgLimit maps a non-positive limit to NULL, which Postgres treats as no limit.
func pgLimit(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
