package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/jobs-etl/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	runs := []model.RunSummary{
		{
			RunID:      "abc12345-6789-0000-0000-000000000000",
			Operation:  model.OpMerge,
			Status:     model.RunStatusComplete,
			Received:   10,
			Inserted:   6,
			Updated:    3,
			StartedAt:  now,
			FinishedAt: now.Add(2 * time.Second),
		},
		{
			RunID:     "def12345-6789-0000-0000-000000000000",
			Operation: model.OpRank,
			Status:    model.RunStatusFailed,
			Ranked:    4,
			StartedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "OPERATION")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-")
	assert.Contains(t, out, "merge")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "2026-03-02 09:30")
}

func TestWritten(t *testing.T) {
	assert.Equal(t, 9, written(model.RunSummary{Operation: model.OpMerge, Inserted: 6, Updated: 3, Folded: 1}))
	assert.Equal(t, 5, written(model.RunSummary{Operation: model.OpEnrich, EnrichmentSucceeded: 2, SkillsEnriched: 2, CompaniesMatched: 1}))
	assert.Equal(t, 4, written(model.RunSummary{Operation: model.OpRank, Ranked: 4}))
	assert.Zero(t, written(model.RunSummary{}))
}

func TestFormatSummary(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := &model.RunSummary{
		RunID:      "r1",
		Operation:  model.OpMerge,
		Status:     model.RunStatusComplete,
		DryRun:     true,
		Received:   3,
		Inserted:   2,
		Rejected:   1,
		Rejections: []model.Rejection{{Index: 2, Field: "company", Reason: "empty after normalization"}},
		StartedAt:  now,
		FinishedAt: now.Add(1500 * time.Millisecond),
	}

	var buf bytes.Buffer
	formatSummary(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "r1 (merge)")
	assert.Contains(t, out, "Dry run:")
	assert.Contains(t, out, "Inserted:")
	assert.NotContains(t, out, "Updated:")
	assert.Contains(t, out, "rejected #2:")
	assert.Contains(t, out, "1.5s")
}

func TestFormatTop(t *testing.T) {
	var buf bytes.Buffer
	formatTop(&buf, []model.RankedPosting{{Key: "k1", Score: 87.5}})
	assert.Contains(t, buf.String(), "87.50")
	assert.Contains(t, buf.String(), "k1")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
