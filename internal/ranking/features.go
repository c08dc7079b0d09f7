package ranking

import (
	"math"
	"strings"

	"github.com/sells-group/jobs-etl/internal/identity"
	"github.com/sells-group/jobs-etl/internal/model"
)

// Scorer maps a posting and profile to a sub-score in [0,1].
type Scorer func(p *model.RankablePosting, prof *Profile) float64

// LocationSignal is what a Locator knows about a posting relative to home.
type LocationSignal struct {
	DistanceKM   *float64
	SameLocality bool
	SameRegion   bool
}

// Locator compares a posting location with the home location.
type Locator interface {
	Locate(location, home string) LocationSignal
}

// TextLocator compares comma-separated location parts. The first part is the
// locality and the last part the region or country. It never reports a
// distance.
type TextLocator struct{}

func (TextLocator) Locate(location, home string) LocationSignal {
	lp, hp := locationParts(location), locationParts(home)
	if len(lp) == 0 || len(hp) == 0 {
		return LocationSignal{}
	}
	sig := LocationSignal{SameLocality: lp[0] == hp[0]}
	if len(lp) > 1 && len(hp) > 1 {
		sig.SameRegion = lp[len(lp)-1] == hp[len(hp)-1]
	}
	sig.SameRegion = sig.SameRegion || sig.SameLocality
	return sig
}

func locationParts(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if n := identity.Normalize(part); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Scorers returns the scorer of every feature. loc may be nil, in which case
// TextLocator is used.
func Scorers(loc Locator) map[model.Feature]Scorer {
	if loc == nil {
		loc = TextLocator{}
	}
	return map[model.Feature]Scorer{
		model.FeatureTitleKeywords: TitleKeywords,
		model.FeatureSkillsOverlap: SkillsOverlap,
		model.FeatureLocationProximity: func(p *model.RankablePosting, prof *Profile) float64 {
			if prof.Location.Home == "" {
				return 0
			}
			return LocationProximity(loc.Locate(p.Ingest.Location, prof.Location.Home), prof.Location)
		},
		model.FeatureSalaryBand: SalaryBand,
		model.FeatureEmploymentType: func(p *model.RankablePosting, prof *Profile) float64 {
			return prof.EmploymentType.Score(model.Deref(p.Ingest.EmploymentType))
		},
		model.FeatureSeniorityMatch: func(p *model.RankablePosting, prof *Profile) float64 {
			return prof.Seniority.Score(string(p.Enrichment.SeniorityLevel))
		},
		model.FeatureRemoteType: func(p *model.RankablePosting, prof *Profile) float64 {
			return prof.RemoteType.Score(model.Deref(p.Ingest.RemoteType))
		},
		model.FeatureCompanySize: func(p *model.RankablePosting, prof *Profile) float64 {
			return prof.CompanySize.Score(p.EffectiveCompanySize())
		},
	}
}

// TitleKeywords is the fraction of profile keywords found in the title.
func TitleKeywords(p *model.RankablePosting, prof *Profile) float64 {
	title := strings.ToLower(p.Ingest.Title)
	if title == "" || len(prof.TitleKeywords) == 0 {
		return 0
	}
	matched := 0
	for _, kw := range prof.TitleKeywords {
		if strings.Contains(title, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(prof.TitleKeywords))
}

// SkillsOverlap is the weighted Jaccard similarity between the posting's
// extracted skills and the profile's skill sets.
func SkillsOverlap(p *model.RankablePosting, prof *Profile) float64 {
	if len(p.Enrichment.Skills) == 0 {
		return 0
	}
	sp := prof.Skills
	weight := make(map[string]float64)
	profile := make(map[string]bool)
	for _, s := range sp.NiceToHave {
		weight[s] = sp.NiceToHaveWeight
		profile[s] = true
	}
	for _, s := range sp.MustHave {
		weight[s] = sp.MustHaveWeight
		profile[s] = true
	}
	if len(profile) == 0 {
		return 0
	}

	posting := make(map[string]bool, len(p.Enrichment.Skills))
	for _, s := range p.Enrichment.Skills {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			posting[s] = true
		}
	}

	var inter, union float64
	for s := range profile {
		union += weight[s]
		if posting[s] {
			inter += weight[s]
		}
	}
	for s := range posting {
		if !profile[s] {
			union += sp.OtherWeight
		}
	}
	if union == 0 {
		return 0
	}
	return inter / union
}

// LocationProximity applies the proximity tiers to a location signal.
func LocationProximity(sig LocationSignal, lp LocationPreference) float64 {
	radius, region := 50.0, 0.5
	if lp.RadiusKM != nil {
		radius = *lp.RadiusKM
	}
	if lp.RegionCredit != nil {
		region = *lp.RegionCredit
	}
	switch {
	case sig.DistanceKM != nil && *sig.DistanceKM <= radius:
		return 1
	case sig.DistanceKM == nil && sig.SameLocality:
		return 1
	case sig.SameRegion:
		return region
	default:
		return 0
	}
}

// SalaryBand scores the posting salary range against the target band. A
// posting with no usable salary earns the configured unknown credit.
func SalaryBand(p *model.RankablePosting, prof *Profile) float64 {
	s := prof.Salary
	unknown := 0.5
	if s.UnknownCredit != nil {
		unknown = *s.UnknownCredit
	}

	if s.Min <= 0 && s.Max <= 0 {
		return unknown
	}
	lo, hi, ok := postingRange(p, s)
	if !ok {
		return unknown
	}

	upper := s.Max
	if upper <= 0 {
		upper = math.Inf(1)
	}
	var gap float64
	switch {
	case hi < s.Min:
		gap = s.Min - hi
	case lo > upper:
		gap = lo - upper
	default:
		return 1
	}
	score := 1 - gap/s.MaxGap
	if score < 0 {
		return 0
	}
	return score
}

// postingRange returns the posting salary range converted to the profile
// currency. A single bound is used for both ends.
func postingRange(p *model.RankablePosting, s SalaryPreference) (float64, float64, bool) {
	lo, hi := p.Ingest.SalaryMin, p.Ingest.SalaryMax
	if lo == nil && hi == nil {
		return 0, 0, false
	}
	if lo == nil {
		lo = hi
	}
	if hi == nil {
		hi = lo
	}

	rate := 1.0
	if cur := strings.ToUpper(model.Deref(p.Ingest.Currency)); cur != "" && cur != s.Currency {
		r, ok := s.CurrencyRates[cur]
		if !ok {
			return 0, 0, false
		}
		rate = r
	}
	return *lo * rate, *hi * rate, true
}

// Score rates a categorical value: preferred is 1, disfavored is 0, and
// unknown or merely acceptable values earn the partial credit.
func (c CategoricalPreference) Score(value string) float64 {
	partial := 0.5
	if c.PartialCredit != nil {
		partial = *c.PartialCredit
	}
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || v == "unknown" {
		return partial
	}
	for _, p := range c.Preferred {
		if p == v {
			return 1
		}
	}
	for _, d := range c.Disfavored {
		if d == v {
			return 0
		}
	}
	return partial
}
