// Package ranking scores postings against a preference profile and records
// the contribution of every feature.
package ranking

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/jobs-etl/internal/model"
)

// DefaultWeights returns the weight of every feature used when the config
// has no weights section.
func DefaultWeights() map[model.Feature]float64 {
	return map[model.Feature]float64{
		model.FeatureTitleKeywords:     0.25,
		model.FeatureSkillsOverlap:     0.30,
		model.FeatureLocationProximity: 0.10,
		model.FeatureSalaryBand:        0.15,
		model.FeatureEmploymentType:    0.05,
		model.FeatureSeniorityMatch:    0.07,
		model.FeatureRemoteType:        0.04,
		model.FeatureCompanySize:       0.04,
	}
}

// CategoricalPreference scores a categorical posting value.
type CategoricalPreference struct {
	Preferred  []string `yaml:"preferred" json:"preferred"`
	Disfavored []string `yaml:"disfavored" json:"disfavored"`
	// PartialCredit applies to unknown values and values in neither list.
	PartialCredit *float64 `yaml:"partial_credit" json:"partial_credit"`
}

// SkillsPreference holds the skill sets and their weights.
type SkillsPreference struct {
	MustHave         []string `yaml:"must_have" json:"must_have"`
	NiceToHave       []string `yaml:"nice_to_have" json:"nice_to_have"`
	MustHaveWeight   float64  `yaml:"must_have_weight" json:"must_have_weight"`
	NiceToHaveWeight float64  `yaml:"nice_to_have_weight" json:"nice_to_have_weight"`
	OtherWeight      float64  `yaml:"other_weight" json:"other_weight"`
}

// LocationPreference describes the home location and proximity tiers.
type LocationPreference struct {
	Home         string   `yaml:"home" json:"home"`
	RadiusKM     *float64 `yaml:"radius_km" json:"radius_km"`
	RegionCredit *float64 `yaml:"region_credit" json:"region_credit"`
}

// SalaryPreference is the target salary band in Currency.
type SalaryPreference struct {
	Min           float64            `yaml:"min" json:"min"`
	Max           float64            `yaml:"max" json:"max"`
	Currency      string             `yaml:"currency" json:"currency"`
	MaxGap        float64            `yaml:"max_gap" json:"max_gap"`
	UnknownCredit *float64           `yaml:"unknown_credit" json:"unknown_credit"`
	CurrencyRates map[string]float64 `yaml:"currency_rates" json:"currency_rates"`
}

// Profile is the user preference data that drives the scorers.
type Profile struct {
	TitleKeywords  []string              `yaml:"title_keywords" json:"title_keywords"`
	Skills         SkillsPreference      `yaml:"skills" json:"skills"`
	Location       LocationPreference    `yaml:"location" json:"location"`
	Salary         SalaryPreference      `yaml:"salary" json:"salary"`
	EmploymentType CategoricalPreference `yaml:"employment_type" json:"employment_type"`
	RemoteType     CategoricalPreference `yaml:"remote_type" json:"remote_type"`
	Seniority      CategoricalPreference `yaml:"seniority" json:"seniority"`
	CompanySize    CategoricalPreference `yaml:"company_size" json:"company_size"`
}

// Config is a validated ranking configuration.
type Config struct {
	Features []model.Feature           `json:"features"`
	Weights  map[model.Feature]float64 `json:"weights"`
	Profile  Profile                   `json:"profile"`
}

type fileConfig struct {
	Features []string           `yaml:"features"`
	Weights  map[string]float64 `yaml:"weights"`
	Profile  *Profile           `yaml:"profile"`
}

// LoadConfig reads and validates a ranking YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ConfigurationError{Setting: "ranking.path", Reason: err.Error()}
	}
	return ParseConfig(data)
}

// ParseConfig validates ranking YAML. A missing weights section falls back to
// DefaultWeights with a warning. A weights section must name every configured
// feature, only known features, with non-negative values. Any violation is a
// *model.ConfigurationError.
func ParseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		return nil, &model.ConfigurationError{Setting: "ranking", Reason: "parse: " + err.Error()}
	}
	if fc.Profile == nil {
		return nil, &model.ConfigurationError{Setting: "ranking.profile", Reason: "section is required"}
	}

	cfg := &Config{Profile: *fc.Profile}

	cfg.Features = model.AllFeatures
	if len(fc.Features) > 0 {
		cfg.Features = nil
		seen := make(map[model.Feature]bool)
		for _, name := range fc.Features {
			f, ok := model.ParseFeature(name)
			if !ok {
				return nil, &model.ConfigurationError{Setting: "ranking.features", Reason: "unknown feature " + name}
			}
			if !seen[f] {
				seen[f] = true
				cfg.Features = append(cfg.Features, f)
			}
		}
	}

	weights, err := parseWeights(fc.Weights, cfg.Features)
	if err != nil {
		return nil, err
	}
	cfg.Weights = weights

	if err := cfg.Profile.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseWeights(raw map[string]float64, features []model.Feature) (map[model.Feature]float64, error) {
	if raw == nil {
		zap.L().Warn("ranking: no weights section, using defaults")
		def := DefaultWeights()
		out := make(map[model.Feature]float64, len(features))
		for _, f := range features {
			out[f] = def[f]
		}
		return out, nil
	}

	configured := make(map[model.Feature]bool, len(features))
	for _, f := range features {
		configured[f] = true
	}

	out := make(map[model.Feature]float64, len(raw))
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, ok := model.ParseFeature(name)
		if !ok || !configured[f] {
			return nil, &model.ConfigurationError{Setting: "ranking.weights." + name, Reason: "not a configured feature"}
		}
		if math.IsNaN(raw[name]) || math.IsInf(raw[name], 0) {
			return nil, &model.ConfigurationError{Setting: "ranking.weights." + name, Reason: "must be a finite number"}
		}
		if raw[name] < 0 {
			return nil, &model.ConfigurationError{Setting: "ranking.weights." + name, Reason: "must not be negative"}
		}
		out[f] = raw[name]
	}

	var missing []string
	for _, f := range features {
		if _, ok := out[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return nil, &model.ConfigurationError{Setting: "ranking.weights", Reason: "missing " + strings.Join(missing, ", ")}
	}

	var total float64
	for _, w := range out {
		total += w
	}
	if total < 0.95 || total > 1.05 {
		zap.L().Warn("ranking: weights do not sum to 1", zap.Float64("weights_sum", total))
	}
	return out, nil
}

func (p *Profile) normalize() error {
	p.TitleKeywords = lowerAll(p.TitleKeywords)
	p.Skills.MustHave = lowerAll(p.Skills.MustHave)
	p.Skills.NiceToHave = lowerAll(p.Skills.NiceToHave)
	if p.Skills.MustHaveWeight <= 0 {
		p.Skills.MustHaveWeight = 2.0
	}
	if p.Skills.NiceToHaveWeight <= 0 {
		p.Skills.NiceToHaveWeight = 1.0
	}
	if p.Skills.OtherWeight <= 0 {
		p.Skills.OtherWeight = 0.5
	}

	if p.Location.RadiusKM == nil {
		p.Location.RadiusKM = float64Ptr(50)
	}
	if r := *p.Location.RadiusKM; r < 0 || math.IsNaN(r) {
		return &model.ConfigurationError{Setting: "ranking.profile.location.radius_km", Reason: "must not be negative"}
	}
	if p.Location.RegionCredit == nil {
		p.Location.RegionCredit = float64Ptr(0.5)
	}
	if !unitInterval(*p.Location.RegionCredit) {
		return &model.ConfigurationError{Setting: "ranking.profile.location.region_credit", Reason: "must be within [0,1]"}
	}

	s := &p.Salary
	if s.Min < 0 || s.Max < 0 {
		return &model.ConfigurationError{Setting: "ranking.profile.salary", Reason: "bounds must not be negative"}
	}
	if s.Max > 0 && s.Min > s.Max {
		return &model.ConfigurationError{Setting: "ranking.profile.salary", Reason: "min is greater than max"}
	}
	if s.MaxGap <= 0 {
		s.MaxGap = 30000
	}
	if s.UnknownCredit == nil {
		s.UnknownCredit = float64Ptr(0.5)
	}
	if !unitInterval(*s.UnknownCredit) {
		return &model.ConfigurationError{Setting: "ranking.profile.salary.unknown_credit", Reason: "must be within [0,1]"}
	}
	s.Currency = strings.ToUpper(strings.TrimSpace(s.Currency))
	rates := make(map[string]float64, len(s.CurrencyRates))
	for code, rate := range s.CurrencyRates {
		if rate <= 0 {
			return &model.ConfigurationError{Setting: "ranking.profile.salary.currency_rates." + code, Reason: "must be positive"}
		}
		rates[strings.ToUpper(code)] = rate
	}
	s.CurrencyRates = rates

	for _, c := range []*CategoricalPreference{&p.EmploymentType, &p.RemoteType, &p.Seniority, &p.CompanySize} {
		if c.PartialCredit == nil {
			c.PartialCredit = float64Ptr(0.5)
		}
		if !unitInterval(*c.PartialCredit) {
			return &model.ConfigurationError{Setting: "ranking.profile", Reason: "partial_credit must be within [0,1]"}
		}
		c.Preferred = lowerAll(c.Preferred)
		c.Disfavored = lowerAll(c.Disfavored)
	}
	return nil
}

// Hash identifies the features, weights and profile that produced a score.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func float64Ptr(v float64) *float64 { return &v }

func unitInterval(v float64) bool { return v >= 0 && v <= 1 }
