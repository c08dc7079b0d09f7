package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/jobs-etl/internal/identity"
	"github.com/sells-group/jobs-etl/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. All access goes
// through a single connection, so read-modify-write transactions are
// serialized.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS job_postings (
	dedup_key          TEXT PRIMARY KEY,
	job_title          TEXT NOT NULL,
	company_name       TEXT NOT NULL,
	location           TEXT NOT NULL,
	remote_type        TEXT,
	employment_type    TEXT,
	company_size       TEXT,
	salary_min         REAL,
	salary_max         REAL,
	currency           TEXT,
	description        TEXT,
	source             TEXT,
	provider_job_id    TEXT,
	job_url            TEXT,
	posted_at          DATETIME,
	skills_raw         TEXT,
	seniority_level    TEXT NOT NULL DEFAULT 'unknown',
	seniority_status   TEXT NOT NULL DEFAULT 'not_tried'
		CHECK (seniority_status IN ('not_tried', 'upgraded', 'failed_to_upgrade')),
	seniority_taxonomy TEXT,
	skills             TEXT,
	skills_enriched_at DATETIME,
	company_key        TEXT,
	first_seen_at      DATETIME NOT NULL,
	last_seen_at       DATETIME NOT NULL,
	times_seen         INTEGER NOT NULL DEFAULT 1,
	revision           INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_job_postings_seniority_status ON job_postings(seniority_status);
CREATE INDEX IF NOT EXISTS idx_job_postings_company_key ON job_postings(company_key);

CREATE TABLE IF NOT EXISTS companies (
	company_key  TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	profile      TEXT,
	enriched_at  DATETIME,
	match_status TEXT NOT NULL DEFAULT 'not_attempted',
	match_name   TEXT,
	match_score  REAL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_rankings (
	dedup_key    TEXT PRIMARY KEY REFERENCES job_postings(dedup_key),
	rank_score   REAL NOT NULL CHECK (rank_score >= 0 AND rank_score <= 100),
	rank_explain TEXT NOT NULL,
	profile_hash TEXT NOT NULL,
	ranked_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	posting_revision INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS etl_runs (
	run_id      TEXT PRIMARY KEY,
	operation   TEXT NOT NULL,
	status      TEXT NOT NULL,
	dry_run     INTEGER NOT NULL DEFAULT 0,
	summary     TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_etl_runs_started_at ON etl_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// VerifyAtomicUpsert fails when the pool could hand out a second connection,
// which would let two read-coalesce-write transactions interleave.
func (s *SQLiteStore) VerifyAtomicUpsert(_ context.Context) error {
	if n := s.db.Stats().MaxOpenConnections; n != 1 {
		return &model.ConfigurationError{
			Setting: "store.driver",
			Reason:  "sqlite store must use a single connection for atomic upsert",
		}
	}
	return nil
}

// UpsertPosting reads the current row, coalesces in Go and writes it back in
// one transaction. A sighting counts towards times_seen only when it is newer
// than last_seen_at, and the revision moves only when a value changed, so
// replaying a batch leaves the row as it was.
func (s *SQLiteStore) UpsertPosting(ctx context.Context, key string, in model.IngestFields, observedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	observedAt = observedAt.UTC()
	existing, err := scanPosting(tx.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM job_postings p WHERE p.dedup_key = ?`, key))
	inserted := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
		inserted = true
		if err := writePosting(ctx, tx, sqliteInsertPosting, key, in, observedAt, observedAt, 1, 1); err != nil {
			return false, eris.Wrapf(err, "sqlite: insert posting %s", key)
		}
	case err != nil:
		return false, eris.Wrapf(err, "sqlite: read posting %s", key)
	default:
		merged := existing.Ingest.Coalesce(in)
		last, seen := existing.LastSeenAt, existing.TimesSeen
		if observedAt.After(last) {
			last = observedAt
			seen++
		}
		revision := existing.Revision
		if !merged.Equal(existing.Ingest) {
			revision++
		}
		if err := writePosting(ctx, tx, sqliteUpdatePosting, key, merged, existing.FirstSeenAt, last, seen, revision); err != nil {
			return false, eris.Wrapf(err, "sqlite: update posting %s", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit upsert")
	}
	return inserted, nil
}

const sqliteInsertPosting = `INSERT INTO job_postings (
	job_title, company_name, location, remote_type, employment_type, company_size,
	salary_min, salary_max, currency, description, source, provider_job_id, job_url,
	posted_at, skills_raw, first_seen_at, last_seen_at, times_seen, revision, dedup_key
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqliteUpdatePosting = `UPDATE job_postings SET
	job_title = ?, company_name = ?, location = ?, remote_type = ?, employment_type = ?, company_size = ?,
	salary_min = ?, salary_max = ?, currency = ?, description = ?, source = ?, provider_job_id = ?, job_url = ?,
	posted_at = ?, skills_raw = ?, first_seen_at = ?, last_seen_at = ?, times_seen = ?, revision = ?
WHERE dedup_key = ?`

func writePosting(ctx context.Context, tx *sql.Tx, query, key string, in model.IngestFields, first, last time.Time, seen int, revision int64) error {
	skillsRaw, err := encodeList(in.SkillsRaw)
	if err != nil {
		return err
	}
	var postedAt *time.Time
	if in.PostedAt != nil {
		t := in.PostedAt.UTC()
		postedAt = &t
	}
	_, err = tx.ExecContext(ctx, query,
		in.Title, in.CompanyName, in.Location, in.RemoteType, in.EmploymentType, in.CompanySize,
		in.SalaryMin, in.SalaryMax, in.Currency, in.Description, in.Source, in.ProviderJobID, in.JobURL,
		postedAt, nullableText(skillsRaw), first.UTC(), last.UTC(), seen, revision, key,
	)
	return err
}

func (s *SQLiteStore) GetPosting(ctx context.Context, key string) (*model.Posting, error) {
	p, err := scanPosting(s.db.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM job_postings p WHERE p.dedup_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get posting %s", key)
	}
	return p, nil
}

func (s *SQLiteStore) CountPostings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM job_postings`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count postings")
}

func (s *SQLiteStore) PendingSeniority(ctx context.Context, limit int) ([]model.Posting, error) {
	return s.queryPostings(ctx, "pending seniority",
		`SELECT `+postingColumns+` FROM job_postings p
		WHERE p.seniority_status = 'not_tried'
		ORDER BY p.first_seen_at, p.dedup_key LIMIT ?`, sqliteLimit(limit))
}

func (s *SQLiteStore) PendingSkills(ctx context.Context, limit int) ([]model.Posting, error) {
	return s.queryPostings(ctx, "pending skills",
		`SELECT `+postingColumns+` FROM job_postings p
		WHERE p.skills_enriched_at IS NULL
		ORDER BY p.first_seen_at, p.dedup_key LIMIT ?`, sqliteLimit(limit))
}

func (s *SQLiteStore) queryPostings(ctx context.Context, op, query string, args ...any) ([]model.Posting, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", op)
}

func (s *SQLiteStore) TransitionSeniority(ctx context.Context, key string, to model.EnrichmentStatus, level model.SeniorityLevel, taxonomy string) (bool, error) {
	if !to.Terminal() {
		return false, eris.Errorf("sqlite: invalid transition not_tried -> %s", to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_postings SET seniority_status = ?, seniority_level = ?, seniority_taxonomy = ?,
			revision = revision + 1
		WHERE dedup_key = ? AND seniority_status = 'not_tried'`,
		string(to), string(level), model.Str(taxonomy), key,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition seniority %s", key)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) ResetSeniority(ctx context.Context, taxonomy string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_postings SET seniority_status = 'not_tried', seniority_level = 'unknown', seniority_taxonomy = NULL,
			revision = revision + 1
		WHERE seniority_status <> 'not_tried' AND seniority_taxonomy IS NOT ?`,
		taxonomy,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset seniority")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SetSkills(ctx context.Context, key string, skills []string, at time.Time) (bool, error) {
	if skills == nil {
		skills = []string{}
	}
	data, err := json.Marshal(skills)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: encode skills")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_postings SET skills = ?, skills_enriched_at = ?, revision = revision + 1
		WHERE dedup_key = ? AND skills_enriched_at IS NULL`,
		string(data), at.UTC(), key,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set skills %s", key)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) EnsureCompanies(ctx context.Context, now time.Time) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: begin ensure companies")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT dedup_key, company_name FROM job_postings WHERE company_key IS NULL ORDER BY first_seen_at, dedup_key`)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: list unlinked postings")
	}
	type unlinked struct{ key, name string }
	var pending []unlinked
	for rows.Next() {
		var u unlinked
		if err := rows.Scan(&u.key, &u.name); err != nil {
			rows.Close() //nolint:errcheck
			return 0, 0, eris.Wrap(err, "sqlite: scan unlinked posting")
		}
		pending = append(pending, u)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: iterate unlinked postings")
	}

	var linked, created int
	for _, u := range pending {
		companyKey := identity.CompanyKey(u.name)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO companies (company_key, company_name, created_at) VALUES (?, ?, ?)
			ON CONFLICT (company_key) DO NOTHING`,
			companyKey, u.name, now.UTC(),
		)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: insert company %s", companyKey)
		}
		n, _ := res.RowsAffected()
		created += int(n)

		res, err = tx.ExecContext(ctx,
			`UPDATE job_postings SET company_key = ?, revision = revision + 1
			WHERE dedup_key = ? AND company_key IS NULL`, companyKey, u.key)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: link posting %s", u.key)
		}
		n, _ = res.RowsAffected()
		linked += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: commit ensure companies")
	}
	return linked, created, nil
}

// PendingCompanies selects unresolved companies, plus no-match companies the
// retry policy makes eligible again.
func (s *SQLiteStore) PendingCompanies(ctx context.Context, limit int, policy model.RetryPolicy, now time.Time) ([]model.CompanyRecord, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE enriched_at IS NULL`
	if policy.After > 0 {
		query += ` OR match_status = 'no_match_found'`
	}
	query += ` ORDER BY created_at, company_key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CompanyRecord
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		if !policy.Eligible(c, now) {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func (s *SQLiteStore) ResolveCompany(ctx context.Context, key string, attempts int, outcome model.MatchOutcome, profile *model.CompanyProfile, now time.Time) (bool, error) {
	data, err := encodeProfile(profile)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: encode profile")
	}
	status, name, score := matchColumns(outcome)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin resolve company")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE companies SET profile = COALESCE(?, profile), enriched_at = ?,
			match_status = ?, match_name = ?, match_score = ?, attempts = attempts + 1
		WHERE company_key = ? AND attempts = ? AND match_status <> 'matched'`,
		nullableText(data), now.UTC(), status, name, score, key, attempts,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: resolve company %s", key)
	}
	ok, err := affectedOne(res)
	if err != nil || !ok {
		return false, err
	}
	if data != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE job_postings SET revision = revision + 1 WHERE company_key = ?`, key); err != nil {
			return false, eris.Wrapf(err, "sqlite: bump postings of %s", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit resolve company")
	}
	return true, nil
}

func (s *SQLiteStore) GetCompany(ctx context.Context, key string) (*model.CompanyRecord, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE company_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", key)
	}
	return c, nil
}

func (s *SQLiteStore) ListRankable(ctx context.Context, filter RankFilter) ([]model.RankablePosting, error) {
	query := `SELECT ` + postingColumns + `, ` + companyProfileColumns + `
		FROM job_postings p
		LEFT JOIN companies c ON c.company_key = p.company_key`
	var args []any
	if filter.OnlyUnranked {
		query += ` LEFT JOIN job_rankings r ON r.dedup_key = p.dedup_key
		WHERE r.dedup_key IS NULL OR r.profile_hash <> ? OR r.posting_revision < p.revision`
		args = append(args, filter.ProfileHash)
	}
	query += ` ORDER BY p.first_seen_at, p.dedup_key LIMIT ?`
	args = append(args, sqliteLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rankable")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RankablePosting
	for rows.Next() {
		var profile []byte
		p, err := scanPosting(rows, &profile)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rankable")
		}
		company, err := decodeProfile(profile)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode profile for %s", p.Key)
		}
		out = append(out, model.RankablePosting{Posting: *p, Company: company})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rankable")
}

func (s *SQLiteStore) SaveRankings(ctx context.Context, ranked []model.RankedPosting) (int64, error) {
	if len(ranked) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save rankings")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO job_rankings (`+rankingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO UPDATE SET
			rank_score = excluded.rank_score, rank_explain = excluded.rank_explain,
			profile_hash = excluded.profile_hash, ranked_at = excluded.ranked_at,
			posting_revision = excluded.posting_revision`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare save rankings")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range ranked {
		explain, err := json.Marshal(r.Explain)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode explain for %s", r.Key)
		}
		if _, err := stmt.ExecContext(ctx, r.Key, r.Score, string(explain), r.ProfileHash, r.RankedAt.UTC(), r.PostingRevision); err != nil {
			return 0, eris.Wrapf(err, "sqlite: save ranking %s", r.Key)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save rankings")
	}
	return n, nil
}

func (s *SQLiteStore) GetRanking(ctx context.Context, key string) (*model.RankedPosting, error) {
	r, err := scanRanking(s.db.QueryRowContext(ctx,
		`SELECT `+rankingColumns+` FROM job_rankings WHERE dedup_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ranking %s", key)
	}
	return r, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	var finished *time.Time
	if !summary.FinishedAt.IsZero() {
		f := summary.FinishedAt.UTC()
		finished = &f
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO etl_runs (run_id, operation, status, dry_run, summary, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, summary = excluded.summary, finished_at = excluded.finished_at`,
		summary.RunID, string(summary.Operation), string(summary.Status), summary.DryRun, string(data), summary.StartedAt.UTC(), finished,
	)
	return eris.Wrapf(err, "sqlite: save run %s", summary.RunID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT summary FROM etl_runs WHERE 1=1`
	var args []any

	if filter.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, string(filter.Operation))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.RunSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var r model.RunSummary
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// nullableText stores JSON payloads as TEXT, or NULL when absent.
func nullableText(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

// sqliteLimit maps a non-positive limit to -1, which SQLite treats as no limit.
func sqliteLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
