// Package match resolves employer names against external search candidates.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists legal entity tokens dropped during name normalization.
// Dotted forms are compared after dots are removed.
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true,
	"llc": true, "ltd": true, "limited": true,
	"corp": true, "corporation": true, "co": true,
	"lp": true, "llp": true, "pc": true, "pllc": true, "plc": true,
	"gmbh": true, "ag": true, "sa": true, "sl": true, "srl": true,
}

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// NormalizeCompanyName folds accents, lower-cases, drops legal suffix tokens,
// spells out "&" and strips punctuation. A name made only of suffix tokens
// keeps them.
func NormalizeCompanyName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err == nil {
		name = folded
	}
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "&", " and ")
	// Dotted abbreviations like "s.a." collapse to one token.
	name = strings.ReplaceAll(name, ".", "")
	name = punctRe.ReplaceAllString(name, " ")

	tokens := strings.Fields(name)
	kept := tokens[:0:0]
	for _, tok := range tokens {
		if !legalSuffixes[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		kept = tokens
	}
	return strings.Join(kept, " ")
}
