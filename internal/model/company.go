package model

import (
	"time"
)

// MatchStatus is the tag of a MatchOutcome.
type MatchStatus string

const (
	MatchNotAttempted MatchStatus = "not_attempted"
	MatchMatched      MatchStatus = "matched"
	MatchNoMatchFound MatchStatus = "no_match_found"
)

// MatchOutcome records how company resolution against the external search ended.
// Name is set only for MatchMatched; Score carries the matched or best score.
type MatchOutcome struct {
	Status MatchStatus `json:"status"`
	Name   string      `json:"name,omitempty"`
	Score  float64     `json:"score"`
}

// Matched returns an outcome for a candidate accepted by the matcher.
func Matched(name string, score float64) MatchOutcome {
	return MatchOutcome{Status: MatchMatched, Name: name, Score: score}
}

// NoMatch returns an outcome for a search where no candidate met the threshold.
// best is the highest score seen, 0 when there were no candidates.
func NoMatch(best float64) MatchOutcome {
	return MatchOutcome{Status: MatchNoMatchFound, Score: best}
}

// IsMatched reports whether the outcome carries an accepted candidate.
func (o MatchOutcome) IsMatched() bool {
	return o.Status == MatchMatched
}

// ParseMatchStatus converts a stored value into a MatchStatus.
func ParseMatchStatus(s string) MatchStatus {
	switch MatchStatus(s) {
	case MatchMatched, MatchNoMatchFound:
		return MatchStatus(s)
	default:
		return MatchNotAttempted
	}
}

// CompanyProfile holds the externally sourced company attributes.
type CompanyProfile struct {
	ExternalID   string   `json:"id,omitempty"`
	Name         string   `json:"name,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	ReviewCount  *int     `json:"review_count,omitempty"`
	SizeBucket   string   `json:"company_size,omitempty"`
	YearFounded  *int     `json:"year_founded,omitempty"`
	Industry     string   `json:"industry,omitempty"`
	Website      string   `json:"website,omitempty"`
	Headquarters string   `json:"headquarters_location,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// CompanyRecord is one employer known to the store. EnrichedAt is nil exactly
// when the company has not been resolved yet.
type CompanyRecord struct {
	Key         string          `json:"company_key"`
	DisplayName string          `json:"company_name"`
	Profile     *CompanyProfile `json:"profile,omitempty"`
	EnrichedAt  *time.Time      `json:"enriched_at,omitempty"`
	Match       MatchOutcome    `json:"match"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Pending reports whether the company still awaits resolution.
func (c *CompanyRecord) Pending() bool {
	return c.EnrichedAt == nil
}

// RetryPolicy controls whether companies that were searched without an
// accepted match are selected again. A zero After never retries.
type RetryPolicy struct {
	After time.Duration
}

// Eligible reports whether c should be selected for company resolution at now.
func (p RetryPolicy) Eligible(c *CompanyRecord, now time.Time) bool {
	if c.Pending() {
		return true
	}
	if p.After <= 0 || c.Match.Status != MatchNoMatchFound {
		return false
	}
	return !c.EnrichedAt.Add(p.After).After(now)
}
