package model

import (
	"slices"
	"time"
)

// Remote types accepted on a normalized posting.
const (
	RemoteRemote  = "remote"
	RemoteHybrid  = "hybrid"
	RemoteOnsite  = "onsite"
	RemoteUnknown = "unknown"
)

// Employment types accepted on a normalized posting.
const (
	EmploymentFullTime = "full_time"
	EmploymentPartTime = "part_time"
	EmploymentContract = "contract"
	EmploymentIntern   = "intern"
	EmploymentTemp     = "temp"
	EmploymentUnknown  = "unknown"
)

// SizeUnknown is the company size bucket used when no size is known.
const SizeUnknown = "unknown"

// CompanySizeBuckets lists the valid company size buckets.
var CompanySizeBuckets = []string{"1-10", "11-50", "51-200", "201-500", "501-1000", "1001-5000", "5001+", SizeUnknown}

// RawPosting is a posting as delivered by a fetch collaborator, already mapped
// to canonical attribute names.
type RawPosting struct {
	Company        string     `json:"company" mapstructure:"company"`
	Title          string     `json:"job_title" mapstructure:"job_title"`
	Location       string     `json:"location" mapstructure:"location"`
	RemoteType     string     `json:"remote_type,omitempty" mapstructure:"remote_type"`
	EmploymentType string     `json:"contract_type,omitempty" mapstructure:"contract_type"`
	CompanySize    string     `json:"company_size,omitempty" mapstructure:"company_size"`
	SalaryMin      *float64   `json:"salary_min,omitempty" mapstructure:"salary_min"`
	SalaryMax      *float64   `json:"salary_max,omitempty" mapstructure:"salary_max"`
	Currency       string     `json:"salary_currency,omitempty" mapstructure:"salary_currency"`
	Description    string     `json:"description,omitempty" mapstructure:"description"`
	Skills         []string   `json:"skills_raw,omitempty" mapstructure:"skills_raw"`
	Source         string     `json:"source,omitempty" mapstructure:"source"`
	ProviderJobID  string     `json:"provider_job_id,omitempty" mapstructure:"provider_job_id"`
	JobURL         string     `json:"job_link,omitempty" mapstructure:"job_link"`
	PostedAt       *time.Time `json:"posted_at,omitempty" mapstructure:"posted_at"`
}

// Observation pairs a raw posting with the time it was observed in a run.
type Observation struct {
	Raw        RawPosting `json:"posting"`
	ObservedAt time.Time  `json:"observed_at"`
}

// IngestFields are the posting attributes owned by ingestion. The merge engine
// coalesces them on every observation. Nil pointers mean "not provided".
type IngestFields struct {
	Title          string     `json:"job_title"`
	CompanyName    string     `json:"company"`
	Location       string     `json:"location"`
	RemoteType     *string    `json:"remote_type,omitempty"`
	EmploymentType *string    `json:"employment_type,omitempty"`
	CompanySize    *string    `json:"company_size,omitempty"`
	SalaryMin      *float64   `json:"salary_min,omitempty"`
	SalaryMax      *float64   `json:"salary_max,omitempty"`
	Currency       *string    `json:"currency,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Source         *string    `json:"source,omitempty"`
	ProviderJobID  *string    `json:"provider_job_id,omitempty"`
	JobURL         *string    `json:"job_link,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	SkillsRaw      []string   `json:"skills_raw,omitempty"`
}

// Coalesce returns the result of merging incoming over f: every incoming
// value that is present wins, absent values keep the existing one. A populated
// field never regresses to empty.
func (f IngestFields) Coalesce(incoming IngestFields) IngestFields {
	out := f
	if incoming.Title != "" {
		out.Title = incoming.Title
	}
	if incoming.CompanyName != "" {
		out.CompanyName = incoming.CompanyName
	}
	if incoming.Location != "" {
		out.Location = incoming.Location
	}
	out.RemoteType = coalesce(incoming.RemoteType, f.RemoteType)
	out.EmploymentType = coalesce(incoming.EmploymentType, f.EmploymentType)
	out.CompanySize = coalesce(incoming.CompanySize, f.CompanySize)
	out.SalaryMin = coalesce(incoming.SalaryMin, f.SalaryMin)
	out.SalaryMax = coalesce(incoming.SalaryMax, f.SalaryMax)
	out.Currency = coalesce(incoming.Currency, f.Currency)
	out.Description = coalesce(incoming.Description, f.Description)
	out.Source = coalesce(incoming.Source, f.Source)
	out.ProviderJobID = coalesce(incoming.ProviderJobID, f.ProviderJobID)
	out.JobURL = coalesce(incoming.JobURL, f.JobURL)
	out.PostedAt = coalesce(incoming.PostedAt, f.PostedAt)
	if incoming.SkillsRaw != nil {
		out.SkillsRaw = incoming.SkillsRaw
	}
	return out
}

// Equal reports whether f and o hold the same values.
func (f IngestFields) Equal(o IngestFields) bool {
	return f.Title == o.Title && f.CompanyName == o.CompanyName && f.Location == o.Location &&
		equalPtr(f.RemoteType, o.RemoteType) &&
		equalPtr(f.EmploymentType, o.EmploymentType) &&
		equalPtr(f.CompanySize, o.CompanySize) &&
		equalPtr(f.SalaryMin, o.SalaryMin) &&
		equalPtr(f.SalaryMax, o.SalaryMax) &&
		equalPtr(f.Currency, o.Currency) &&
		equalPtr(f.Description, o.Description) &&
		equalPtr(f.Source, o.Source) &&
		equalPtr(f.ProviderJobID, o.ProviderJobID) &&
		equalPtr(f.JobURL, o.JobURL) &&
		equalTime(f.PostedAt, o.PostedAt) &&
		(f.SkillsRaw == nil) == (o.SkillsRaw == nil) && slices.Equal(f.SkillsRaw, o.SkillsRaw)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func coalesce[T any](incoming, existing *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}

// EnrichmentFields are the posting attributes owned by the enrichment tracker.
// Re-ingesting a posting never touches them.
type EnrichmentFields struct {
	SeniorityLevel   SeniorityLevel   `json:"seniority_level"`
	SeniorityStatus  EnrichmentStatus `json:"seniority_enrichment_status"`
	Skills           []string         `json:"skills,omitempty"`
	SkillsEnrichedAt *time.Time       `json:"skills_enriched_at,omitempty"`
	CompanyKey       *string          `json:"company_key,omitempty"`
}

// Posting is the canonical record for one real-world job posting.
type Posting struct {
	Key         string           `json:"dedup_key"`
	Ingest      IngestFields     `json:"ingest"`
	Enrichment  EnrichmentFields `json:"enrichment"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	LastSeenAt  time.Time        `json:"last_seen_at"`
	TimesSeen   int              `json:"times_seen"`
	// Revision increases whenever a field that feeds ranking changes.
	Revision int64 `json:"revision"`
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
