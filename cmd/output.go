package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sells-group/jobs-etl/internal/model"
)

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatSummary writes the non-zero counters of a run.
func formatSummary(out io.Writer, s *model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s (%s)\n", s.RunID, s.Operation)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", s.Status)
	if s.DryRun {
		_, _ = fmt.Fprintln(w, "Dry run:\tyes")
	}
	counters := []struct {
		label string
		n     int
	}{
		{"Received", s.Received},
		{"Inserted", s.Inserted},
		{"Updated", s.Updated},
		{"Folded", s.Folded},
		{"Rejected", s.Rejected},
		{"Seniority attempted", s.EnrichmentAttempted},
		{"Seniority upgraded", s.EnrichmentSucceeded},
		{"Seniority failed", s.EnrichmentFailed},
		{"Skipped", s.EnrichmentSkipped},
		{"Skills enriched", s.SkillsEnriched},
		{"Companies linked", s.CompaniesLinked},
		{"Companies created", s.CompaniesCreated},
		{"Companies matched", s.CompaniesMatched},
		{"Companies no match", s.CompaniesNoMatch},
		{"Company errors", s.CompanyErrors},
		{"Ranked", s.Ranked},
	}
	for _, c := range counters {
		if c.n != 0 {
			_, _ = fmt.Fprintf(w, "%s:\t%d\n", c.label, c.n)
		}
	}
	for _, r := range s.Rejections {
		_, _ = fmt.Fprintf(w, "  rejected #%d:\t%s %s\n", r.Index, r.Field, r.Reason)
	}
	if s.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", s.Error)
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.Duration().Round(time.Millisecond))
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOPERATION\tSTATUS\tRECEIVED\tWRITTEN\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---------\t------\t--------\t-------\t-------\t--------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.RunID),
			r.Operation,
			r.Status,
			r.Received,
			written(r),
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration().Round(time.Second),
		)
	}
	_ = w.Flush()
}

// written is the headline output count of a run for its operation.
func written(r model.RunSummary) int {
	switch r.Operation {
	case model.OpMerge:
		return r.Inserted + r.Updated
	case model.OpEnrich:
		return r.EnrichmentSucceeded + r.SkillsEnriched + r.CompaniesMatched
	case model.OpRank:
		return r.Ranked
	}
	return 0
}

// formatTop writes the highest ranked postings.
func formatTop(out io.Writer, ranked []model.RankedPosting) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCORE\tDEDUP_KEY")
	for _, r := range ranked {
		_, _ = fmt.Fprintf(w, "%.2f\t%s\n", r.Score, r.Key)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
