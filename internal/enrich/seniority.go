package enrich

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/jobs-etl/internal/model"
)

var (
	levelPattern = regexp.MustCompile(`\bl([1-9][0-9]*)\b`)
	tokenSplit   = regexp.MustCompile(`[^a-z0-9]+`)

	executivePatterns = compileAll(`\bchief\b`, `\bvp\b`, `\bvice president\b`, `\bhead of\b`, `\bdirector\b`, `\bmanager\b`, `\badvanced\b`)
	internPattern     = regexp.MustCompile(`\binterns?\b`)

	// Checked in order; senior wins over intermediate in "Senior Intermediate".
	keywordFamilies = []struct {
		level    model.SeniorityLevel
		patterns []*regexp.Regexp
	}{
		{model.SenioritySenior, compileAll(`\bsenior\b`, `\bsr\b`, `\blead\b`, `\bprincipal\b`, `\bstaff\b`, `\barchitect\b`)},
		{model.SeniorityIntermediate, compileAll(`\bintermediate\b`, `\bmid-level\b`, `\bmid level\b`, `\bmid\b`)},
		{model.SeniorityJunior, compileAll(`\bjunior\b`, `\bjr\b`, `\bassociate\b`, `\bentry-level\b`, `\bentry level\b`, `\bentry\b`)},
	}
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// ExtractSeniority derives a seniority level from a job title. Rules are
// applied in order: roman numeral grades (I, II, III), L-levels (L4, L5+),
// executive titles, internships, then keyword families. A title with no
// signal is unknown.
func ExtractSeniority(title string) model.SeniorityLevel {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return model.SeniorityUnknown
	}

	if lvl, ok := romanGrade(t); ok {
		return lvl
	}

	if m := levelPattern.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch {
		case n >= 5:
			return model.SenioritySenior
		case n == 4:
			return model.SeniorityIntermediate
		}
	}

	if anyMatch(executivePatterns, t) {
		return model.SenioritySenior
	}
	if internPattern.MatchString(t) {
		return model.SeniorityJunior
	}

	for _, fam := range keywordFamilies {
		if anyMatch(fam.patterns, t) {
			return fam.level
		}
	}
	return model.SeniorityUnknown
}

// romanGrade looks for a standalone I, II or III token. The highest grade
// present wins.
func romanGrade(t string) (model.SeniorityLevel, bool) {
	found := 0
	for _, tok := range tokenSplit.Split(t, -1) {
		switch tok {
		case "iii":
			found = max(found, 3)
		case "ii":
			found = max(found, 2)
		case "i":
			found = max(found, 1)
		}
	}
	switch found {
	case 3:
		return model.SenioritySenior, true
	case 2:
		return model.SeniorityIntermediate, true
	case 1:
		return model.SeniorityJunior, true
	}
	return "", false
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
