package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobs-etl/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Operation model.Operation `json:"operation,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// RankFilter selects postings for ranking. With OnlyUnranked set, postings
// already ranked under ProfileHash at their current revision are skipped.
type RankFilter struct {
	Limit        int
	OnlyUnranked bool
	ProfileHash  string
}

// Store defines the persistence interface for the consolidation pipeline.
// Ingest fields and enrichment fields are written through disjoint methods.
type Store interface {
	// Postings (ingest-owned)
	UpsertPosting(ctx context.Context, key string, in model.IngestFields, observedAt time.Time) (inserted bool, err error)
	GetPosting(ctx context.Context, key string) (*model.Posting, error)
	CountPostings(ctx context.Context) (int, error)

	// Postings (enrichment-owned)
	PendingSeniority(ctx context.Context, limit int) ([]model.Posting, error)
	TransitionSeniority(ctx context.Context, key string, to model.EnrichmentStatus, level model.SeniorityLevel, taxonomy string) (bool, error)
	ResetSeniority(ctx context.Context, taxonomy string) (int64, error)
	PendingSkills(ctx context.Context, limit int) ([]model.Posting, error)
	SetSkills(ctx context.Context, key string, skills []string, at time.Time) (bool, error)

	// Companies
	EnsureCompanies(ctx context.Context, now time.Time) (linked, created int, err error)
	PendingCompanies(ctx context.Context, limit int, policy model.RetryPolicy, now time.Time) ([]model.CompanyRecord, error)
	ResolveCompany(ctx context.Context, key string, attempts int, outcome model.MatchOutcome, profile *model.CompanyProfile, now time.Time) (bool, error)
	GetCompany(ctx context.Context, key string) (*model.CompanyRecord, error)

	// Rankings
	ListRankable(ctx context.Context, filter RankFilter) ([]model.RankablePosting, error)
	SaveRankings(ctx context.Context, ranked []model.RankedPosting) (int64, error)
	GetRanking(ctx context.Context, key string) (*model.RankedPosting, error)

	// Runs
	SaveRun(ctx context.Context, summary *model.RunSummary) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error)

	// Lifecycle
	VerifyAtomicUpsert(ctx context.Context) error
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// postingColumns is the column order shared by every posting SELECT.
const postingColumns = `p.dedup_key, p.job_title, p.company_name, p.location,
	p.remote_type, p.employment_type, p.company_size,
	p.salary_min, p.salary_max, p.currency, p.description,
	p.source, p.provider_job_id, p.job_url, p.posted_at, p.skills_raw,
	p.seniority_level, p.seniority_status, p.skills, p.skills_enriched_at, p.company_key,
	p.first_seen_at, p.last_seen_at, p.times_seen, p.revision`

// companyProfileColumns is appended to postingColumns when ranking.
const companyProfileColumns = `c.profile`

const rankingColumns = `dedup_key, rank_score, rank_explain, profile_hash, ranked_at, posting_revision`

const companyColumns = `company_key, company_name, profile, enriched_at, match_status, match_name, match_score, attempts, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanPosting(row scannable, extra ...any) (*model.Posting, error) {
	var p model.Posting
	var skillsRaw, skills []byte
	var level, status string

	dest := []any{
		&p.Key, &p.Ingest.Title, &p.Ingest.CompanyName, &p.Ingest.Location,
		&p.Ingest.RemoteType, &p.Ingest.EmploymentType, &p.Ingest.CompanySize,
		&p.Ingest.SalaryMin, &p.Ingest.SalaryMax, &p.Ingest.Currency, &p.Ingest.Description,
		&p.Ingest.Source, &p.Ingest.ProviderJobID, &p.Ingest.JobURL, &p.Ingest.PostedAt, &skillsRaw,
		&level, &status, &skills, &p.Enrichment.SkillsEnrichedAt, &p.Enrichment.CompanyKey,
		&p.FirstSeenAt, &p.LastSeenAt, &p.TimesSeen, &p.Revision,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if err := decodeList(skillsRaw, &p.Ingest.SkillsRaw); err != nil {
		return nil, eris.Wrapf(err, "store: decode skills_raw for %s", p.Key)
	}
	if err := decodeList(skills, &p.Enrichment.Skills); err != nil {
		return nil, eris.Wrapf(err, "store: decode skills for %s", p.Key)
	}
	st, err := model.ParseEnrichmentStatus(status)
	if err != nil {
		return nil, eris.Wrapf(err, "store: posting %s", p.Key)
	}
	p.Enrichment.SeniorityStatus = st
	p.Enrichment.SeniorityLevel = model.ParseSeniorityLevel(level)
	return &p, nil
}

func scanCompany(row scannable) (*model.CompanyRecord, error) {
	var c model.CompanyRecord
	var profile []byte
	var status string
	var name *string
	var score *float64

	if err := row.Scan(&c.Key, &c.DisplayName, &profile, &c.EnrichedAt, &status, &name, &score, &c.Attempts, &c.CreatedAt); err != nil {
		return nil, err
	}
	p, err := decodeProfile(profile)
	if err != nil {
		return nil, eris.Wrapf(err, "store: decode profile for %s", c.Key)
	}
	c.Profile = p
	c.Match = model.MatchOutcome{Status: model.ParseMatchStatus(status), Name: model.Deref(name)}
	if score != nil {
		c.Match.Score = *score
	}
	return &c, nil
}

func scanRanking(row scannable) (*model.RankedPosting, error) {
	var r model.RankedPosting
	var explain []byte
	if err := row.Scan(&r.Key, &r.Score, &explain, &r.ProfileHash, &r.RankedAt, &r.PostingRevision); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(explain, &r.Explain); err != nil {
		return nil, eris.Wrapf(err, "store: decode rank_explain for %s", r.Key)
	}
	return &r, nil
}

func encodeList(v []string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeList(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func encodeProfile(p *model.CompanyProfile) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func decodeProfile(data []byte) (*model.CompanyProfile, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p model.CompanyProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func matchColumns(o model.MatchOutcome) (status string, name *string, score *float64) {
	status = string(o.Status)
	if o.Status == "" {
		status = string(model.MatchNotAttempted)
	}
	if o.Status != model.MatchNotAttempted && o.Status != "" {
		s := o.Score
		score = &s
	}
	return status, model.Str(o.Name), score
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
