package model

import (
	"github.com/rotisserie/eris"
)

// EnrichmentStatus tracks a single enrichment dimension on a posting.
// Valid transitions are not_tried -> upgraded and not_tried -> failed_to_upgrade.
type EnrichmentStatus string

const (
	StatusNotTried        EnrichmentStatus = "not_tried"
	StatusUpgraded        EnrichmentStatus = "upgraded"
	StatusFailedToUpgrade EnrichmentStatus = "failed_to_upgrade"
)

// ParseEnrichmentStatus converts a stored value into an EnrichmentStatus.
// An empty value is treated as not_tried.
func ParseEnrichmentStatus(s string) (EnrichmentStatus, error) {
	switch EnrichmentStatus(s) {
	case "", StatusNotTried:
		return StatusNotTried, nil
	case StatusUpgraded:
		return StatusUpgraded, nil
	case StatusFailedToUpgrade:
		return StatusFailedToUpgrade, nil
	default:
		return "", eris.Errorf("model: unknown enrichment status %q", s)
	}
}

// Pending reports whether the record still needs enrichment.
func (s EnrichmentStatus) Pending() bool {
	return s == StatusNotTried
}

// Terminal reports whether the status is upgraded or failed_to_upgrade.
func (s EnrichmentStatus) Terminal() bool {
	return s == StatusUpgraded || s == StatusFailedToUpgrade
}

// Upgrade returns the status after a successful, more specific extraction.
func (s EnrichmentStatus) Upgrade() (EnrichmentStatus, error) {
	if s != StatusNotTried {
		return s, eris.Errorf("model: invalid transition %s -> %s", s, StatusUpgraded)
	}
	return StatusUpgraded, nil
}

// Fail returns the status after an extraction that found nothing more specific.
func (s EnrichmentStatus) Fail() (EnrichmentStatus, error) {
	if s != StatusNotTried {
		return s, eris.Errorf("model: invalid transition %s -> %s", s, StatusFailedToUpgrade)
	}
	return StatusFailedToUpgrade, nil
}

// Resolve picks the transition for an extraction outcome.
func (s EnrichmentStatus) Resolve(improved bool) (EnrichmentStatus, error) {
	if improved {
		return s.Upgrade()
	}
	return s.Fail()
}

// SeniorityLevel is the seniority label derived for a posting.
type SeniorityLevel string

const (
	SeniorityUnknown      SeniorityLevel = "unknown"
	SeniorityJunior       SeniorityLevel = "junior"
	SeniorityIntermediate SeniorityLevel = "intermediate"
	SeniorityMid          SeniorityLevel = SeniorityIntermediate
	SenioritySenior       SeniorityLevel = "senior"
)

// ParseSeniorityLevel converts a stored value into a SeniorityLevel.
// Empty and unrecognized values map to unknown.
func ParseSeniorityLevel(s string) SeniorityLevel {
	switch SeniorityLevel(s) {
	case SeniorityJunior, SeniorityIntermediate, SenioritySenior:
		return SeniorityLevel(s)
	default:
		return SeniorityUnknown
	}
}

// MoreSpecificThan reports whether l carries more information than current.
// Only a known level is more specific than unknown; known levels are peers.
func (l SeniorityLevel) MoreSpecificThan(current SeniorityLevel) bool {
	return current == SeniorityUnknown && l != SeniorityUnknown
}

// ResetForTaxonomy returns not_tried when a terminal status was reached under
// a different label taxonomy than current. Any other status is returned as is.
func (s EnrichmentStatus) ResetForTaxonomy(resolvedUnder, current string) EnrichmentStatus {
	if s.Terminal() && resolvedUnder != current {
		return StatusNotTried
	}
	return s
}
