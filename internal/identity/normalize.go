package identity

import (
	"crypto/md5" //nolint:gosec // dedup keys, not a security boundary
	"encoding/hex"
	"regexp"
	"strings"
)

var keyRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Normalize trims, collapses internal whitespace runs to a single space and
// lower-cases s. Any Unicode space counts as whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ResolveKey derives the dedup key for a posting: the hex MD5 of the
// normalized company, title and location joined with "|".
// It never rejects input; see CollisionRisk.
func ResolveKey(company, title, location string) string {
	return hashHex(Normalize(company) + "|" + Normalize(title) + "|" + Normalize(location))
}

// CompanyKey derives the key of a company record from its display name.
func CompanyKey(name string) string {
	return hashHex(Normalize(name))
}

// CollisionRisk reports whether at least two of the identity fields normalize
// to empty, which makes unrelated postings share a key.
func CollisionRisk(company, title, location string) bool {
	empty := 0
	for _, s := range []string{company, title, location} {
		if Normalize(s) == "" {
			empty++
		}
	}
	return empty >= 2
}

// ValidKey reports whether s has the shape of a dedup key.
func ValidKey(s string) bool {
	return keyRe.MatchString(s)
}

func hashHex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
