package model

import (
	"time"
)

// Feature names one of the ranking sub-scores.
type Feature string

const (
	FeatureTitleKeywords     Feature = "title_keywords"
	FeatureSkillsOverlap     Feature = "skills_overlap"
	FeatureLocationProximity Feature = "location_proximity"
	FeatureSalaryBand        Feature = "salary_band"
	FeatureEmploymentType    Feature = "employment_type"
	FeatureSeniorityMatch    Feature = "seniority_match"
	FeatureRemoteType        Feature = "remote_type"
	FeatureCompanySize       Feature = "company_size"
)

// AllFeatures lists every feature in canonical order.
var AllFeatures = []Feature{
	FeatureTitleKeywords,
	FeatureSkillsOverlap,
	FeatureLocationProximity,
	FeatureSalaryBand,
	FeatureEmploymentType,
	FeatureSeniorityMatch,
	FeatureRemoteType,
	FeatureCompanySize,
}

// ParseFeature converts a name into a Feature.
func ParseFeature(s string) (Feature, bool) {
	for _, f := range AllFeatures {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// RankedPosting is the scoring result for one posting.
type RankedPosting struct {
	Key         string              `json:"dedup_key"`
	Score       float64             `json:"rank_score"`
	Explain     map[Feature]float64 `json:"rank_explain"`
	ProfileHash string              `json:"profile_hash"`
	RankedAt    time.Time           `json:"ranked_at"`
	// PostingRevision is the posting revision the score was computed from.
	PostingRevision int64 `json:"posting_revision"`
}

// RankablePosting is a posting joined with its linked company profile, the
// input the ranker scores.
type RankablePosting struct {
	Posting
	Company *CompanyProfile `json:"company,omitempty"`
}

// EffectiveCompanySize prefers the enriched company bucket over the ingest value.
func (r *RankablePosting) EffectiveCompanySize() string {
	if r.Company != nil && r.Company.SizeBucket != "" && r.Company.SizeBucket != SizeUnknown {
		return r.Company.SizeBucket
	}
	return Deref(r.Ingest.CompanySize)
}
