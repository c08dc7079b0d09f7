package match

import (
	"go.uber.org/zap"

	"github.com/sells-group/jobs-etl/internal/model"
)

// DefaultThreshold is the minimum similarity for accepting a candidate.
const DefaultThreshold = 0.80

// Result is the best candidate found for a name. Profile is nil when there
// were no usable candidates.
type Result struct {
	Profile *model.CompanyProfile
	Score   float64
}

// Matcher picks the best external candidate for an employer name.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher, falling back to DefaultThreshold for values
// outside (0,1].
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match scores every candidate against name and returns the best one. Ties
// keep the earlier candidate. ok is true only when the best score reaches the
// threshold; the best result is returned either way.
func (m *Matcher) Match(name string, candidates []model.CompanyProfile) (Result, bool) {
	target := NormalizeCompanyName(name)
	var best Result
	if target == "" {
		return best, false
	}

	for i := range candidates {
		if candidates[i].Name == "" {
			continue
		}
		score := TokenSortRatio(target, NormalizeCompanyName(candidates[i].Name))
		if best.Profile == nil || score > best.Score {
			best = Result{Profile: &candidates[i], Score: score}
		}
	}

	if best.Profile == nil {
		return best, false
	}
	if best.Score < m.Threshold {
		zap.L().Debug("match: best candidate below threshold",
			zap.String("diagnostic", "ExternalMatchAmbiguous"),
			zap.String("company", name),
			zap.String("candidate", best.Profile.Name),
			zap.Float64("score", best.Score),
			zap.Float64("threshold", m.Threshold),
		)
		return best, false
	}
	return best, true
}

// Outcome converts a match result into the stored outcome.
func Outcome(r Result, ok bool) model.MatchOutcome {
	if ok {
		return model.Matched(r.Profile.Name, r.Score)
	}
	return model.NoMatch(r.Score)
}
