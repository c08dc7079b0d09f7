package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the current state of an ETL run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Operation names the stage a run executed.
type Operation string

const (
	OpMerge  Operation = "merge"
	OpEnrich Operation = "enrich"
	OpRank   Operation = "rank"
)

// Rejection describes one record the merge engine refused.
type Rejection struct {
	Index  int    `json:"index"`
	Key    string `json:"dedup_key,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// RunSummary holds the counters of a single merge, enrich or rank run.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Operation Operation `json:"operation"`
	Status    RunStatus `json:"status"`
	DryRun    bool      `json:"dry_run,omitempty"`

	Received   int         `json:"received"`
	Inserted   int         `json:"inserted"`
	Updated    int         `json:"updated"`
	Folded     int         `json:"folded"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"rejections,omitempty"`

	EnrichmentAttempted int `json:"enrichment_attempted"`
	EnrichmentSucceeded int `json:"enrichment_succeeded"`
	EnrichmentFailed    int `json:"enrichment_failed"`
	EnrichmentSkipped   int `json:"enrichment_skipped"`
	SkillsEnriched      int `json:"skills_enriched"`

	CompaniesLinked  int `json:"companies_linked"`
	CompaniesCreated int `json:"companies_created"`
	CompaniesMatched int `json:"companies_matched"`
	CompaniesNoMatch int `json:"companies_no_match"`
	CompanyErrors    int `json:"company_errors"`

	Ranked int `json:"ranked"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewRunSummary starts a summary for op with a fresh run ID.
func NewRunSummary(op Operation, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     uuid.NewString(),
		Operation: op,
		Status:    RunStatusRunning,
		StartedAt: startedAt,
	}
}

// Reject appends a rejection and bumps the counter.
func (s *RunSummary) Reject(r Rejection) {
	s.Rejected++
	s.Rejections = append(s.Rejections, r)
}

// Finish marks the summary complete, or failed when err is non-nil.
func (s *RunSummary) Finish(finishedAt time.Time, err error) {
	s.FinishedAt = finishedAt
	if err != nil {
		s.Status = RunStatusFailed
		s.Error = err.Error()
		return
	}
	s.Status = RunStatusComplete
}

// Duration returns the wall time of a finished run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
