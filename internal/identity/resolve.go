package identity

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/jobs-etl/internal/model"
)

var remoteAliases = map[string]string{
	"remote":    model.RemoteRemote,
	"hybrid":    model.RemoteHybrid,
	"onsite":    model.RemoteOnsite,
	"on-site":   model.RemoteOnsite,
	"on_site":   model.RemoteOnsite,
	"in-office": model.RemoteOnsite,
}

var employmentAliases = map[string]string{
	"full_time":  model.EmploymentFullTime,
	"full-time":  model.EmploymentFullTime,
	"fulltime":   model.EmploymentFullTime,
	"part_time":  model.EmploymentPartTime,
	"part-time":  model.EmploymentPartTime,
	"parttime":   model.EmploymentPartTime,
	"contract":   model.EmploymentContract,
	"contractor": model.EmploymentContract,
	"intern":     model.EmploymentIntern,
	"internship": model.EmploymentIntern,
	"temp":       model.EmploymentTemp,
	"temporary":  model.EmploymentTemp,
}

// Resolve validates a raw posting and turns it into a keyed posting carrying
// only ingest fields. Records with an empty company, title or location after
// normalization are rejected with a *model.ValidationError.
func Resolve(raw model.RawPosting) (*model.Posting, error) {
	if Normalize(raw.Company) == "" {
		return nil, &model.ValidationError{Field: "company", Reason: "empty after normalization"}
	}
	if Normalize(raw.Title) == "" {
		return nil, &model.ValidationError{Field: "job_title", Reason: "empty after normalization"}
	}
	if Normalize(raw.Location) == "" {
		return nil, &model.ValidationError{Field: "location", Reason: "empty after normalization"}
	}

	key := ResolveKey(raw.Company, raw.Title, raw.Location)
	log := zap.L().With(zap.String("dedup_key", key))

	in := model.IngestFields{
		Title:          strings.TrimSpace(raw.Title),
		CompanyName:    strings.TrimSpace(raw.Company),
		Location:       strings.TrimSpace(raw.Location),
		RemoteType:     normalizeEnum(log, "remote_type", raw.RemoteType, remoteAliases),
		EmploymentType: normalizeEnum(log, "contract_type", raw.EmploymentType, employmentAliases),
		CompanySize:    normalizeSize(log, raw.CompanySize),
		SalaryMin:      raw.SalaryMin,
		SalaryMax:      raw.SalaryMax,
		Description:    model.Str(strings.TrimSpace(raw.Description)),
		Source:         model.Str(strings.TrimSpace(raw.Source)),
		ProviderJobID:  model.Str(strings.TrimSpace(raw.ProviderJobID)),
		JobURL:         model.Str(strings.TrimSpace(raw.JobURL)),
		PostedAt:       raw.PostedAt,
		SkillsRaw:      cleanSkills(raw.Skills),
	}
	if c := strings.ToUpper(strings.TrimSpace(raw.Currency)); c != "" {
		in.Currency = &c
	}

	if in.SalaryMin != nil && in.SalaryMax != nil && *in.SalaryMin > *in.SalaryMax {
		log.Warn("identity: salary_min > salary_max, swapping",
			zap.Float64("salary_min", *in.SalaryMin),
			zap.Float64("salary_max", *in.SalaryMax),
		)
		in.SalaryMin, in.SalaryMax = in.SalaryMax, in.SalaryMin
	}

	return &model.Posting{
		Key:    key,
		Ingest: in,
		Enrichment: model.EnrichmentFields{
			SeniorityLevel:  model.SeniorityUnknown,
			SeniorityStatus: model.StatusNotTried,
		},
	}, nil
}

// normalizeEnum maps a provider value onto the closed set. Empty, "unknown"
// and unrecognized values come back nil so a later merge keeps what is known.
func normalizeEnum(log *zap.Logger, field, value string, aliases map[string]string) *string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || v == "unknown" {
		return nil
	}
	if canonical, ok := aliases[v]; ok {
		return &canonical
	}
	log.Warn("identity: unrecognized enum value", zap.String("field", field), zap.String("value", value))
	return nil
}

func normalizeSize(log *zap.Logger, value string) *string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || v == model.SizeUnknown {
		return nil
	}
	for _, b := range model.CompanySizeBuckets {
		if v == b {
			return &v
		}
	}
	log.Warn("identity: unrecognized company size", zap.String("value", value))
	return nil
}

func cleanSkills(raw []string) []string {
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
