package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestIngestFields_Coalesce(t *testing.T) {
	t.Parallel()

	existing := IngestFields{
		Title:       "Data Analyst",
		CompanyName: "Acme",
		Location:    "Berlin",
		SalaryMin:   ptr(50000.0),
		Description: ptr("old"),
		SkillsRaw:   []string{"sql"},
	}
	incoming := IngestFields{
		Title:       "Data Analyst",
		CompanyName: "Acme",
		Location:    "Berlin",
		SalaryMax:   ptr(70000.0),
		Description: ptr("new"),
	}

	got := existing.Coalesce(incoming)
	assert.Equal(t, 50000.0, *got.SalaryMin, "absent incoming keeps existing")
	assert.Equal(t, 70000.0, *got.SalaryMax)
	assert.Equal(t, "new", *got.Description, "present incoming wins")
	assert.Equal(t, []string{"sql"}, got.SkillsRaw)
	assert.Equal(t, "old", *existing.Description, "receiver not mutated")
}

func TestIngestFields_CoalesceEmptyIdentity(t *testing.T) {
	t.Parallel()

	got := IngestFields{Title: "A", CompanyName: "B", Location: "C"}.Coalesce(IngestFields{})
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, "B", got.CompanyName)
	assert.Equal(t, "C", got.Location)
}

func TestIngestFields_Equal(t *testing.T) {
	t.Parallel()

	posted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	base := IngestFields{
		Title: "Analyst", CompanyName: "Acme", Location: "Berlin",
		SalaryMin: ptr(50000.0), PostedAt: &posted, SkillsRaw: []string{"sql"},
	}
	same := base
	same.SalaryMin = ptr(50000.0)
	inBerlin := posted.In(time.FixedZone("CET", 3600))
	same.PostedAt = &inBerlin
	same.SkillsRaw = []string{"sql"}
	assert.True(t, base.Equal(same))
	assert.True(t, base.Equal(base.Coalesce(IngestFields{})))

	changed := base.Coalesce(IngestFields{SalaryMin: ptr(60000.0)})
	assert.False(t, base.Equal(changed))
	assert.False(t, base.Equal(base.Coalesce(IngestFields{Description: ptr("new")})))
	assert.False(t, base.Equal(base.Coalesce(IngestFields{SkillsRaw: []string{}})))
}

func TestRetryPolicy_Eligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)

	pending := &CompanyRecord{Key: "a"}
	noMatch := &CompanyRecord{Key: "b", EnrichedAt: &old, Match: NoMatch(0.6)}
	matched := &CompanyRecord{Key: "c", EnrichedAt: &old, Match: Matched("Acme", 0.95)}

	never := RetryPolicy{}
	assert.True(t, never.Eligible(pending, now))
	assert.False(t, never.Eligible(noMatch, now))
	assert.False(t, never.Eligible(matched, now))

	daily := RetryPolicy{After: 24 * time.Hour}
	assert.True(t, daily.Eligible(noMatch, now))
	assert.False(t, daily.Eligible(matched, now))

	weekly := RetryPolicy{After: 7 * 24 * time.Hour}
	assert.False(t, weekly.Eligible(noMatch, now))
}

func TestRankablePosting_EffectiveCompanySize(t *testing.T) {
	t.Parallel()

	r := &RankablePosting{Posting: Posting{Ingest: IngestFields{CompanySize: ptr("11-50")}}}
	assert.Equal(t, "11-50", r.EffectiveCompanySize())

	r.Company = &CompanyProfile{SizeBucket: "501-1000"}
	assert.Equal(t, "501-1000", r.EffectiveCompanySize())

	r.Company = &CompanyProfile{SizeBucket: SizeUnknown}
	assert.Equal(t, "11-50", r.EffectiveCompanySize())
}

func TestRunSummary_Lifecycle(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewRunSummary(OpMerge, start)
	require.Len(t, s.RunID, 36)
	assert.Equal(t, RunStatusRunning, s.Status)

	s.Reject(Rejection{Index: 2, Field: "company", Reason: "empty"})
	assert.Equal(t, 1, s.Rejected)

	s.Finish(start.Add(time.Minute), nil)
	assert.Equal(t, RunStatusComplete, s.Status)
	assert.Equal(t, time.Minute, s.Duration())

	f := NewRunSummary(OpRank, start)
	f.Finish(start, errors.New("boom"))
	assert.Equal(t, RunStatusFailed, f.Status)
	assert.Equal(t, "boom", f.Error)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	var err error = &ValidationError{Field: "job_title", Reason: "empty after normalization"}
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "validation: job_title: empty after normalization", err.Error())

	assert.Equal(t, "configuration: weights: negative", (&ConfigurationError{Setting: "weights", Reason: "negative"}).Error())
	assert.Equal(t, "configuration: no atomic upsert", (&ConfigurationError{Reason: "no atomic upsert"}).Error())

	_, ok := ParseFeature("salary_band")
	assert.True(t, ok)
	_, ok = ParseFeature("vibes")
	assert.False(t, ok)
}
