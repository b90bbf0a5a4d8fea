package models

// SeverityLevel represents the canonical severity of a security finding.
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "critical"
	SeverityHigh     SeverityLevel = "high"
	SeverityMedium   SeverityLevel = "medium"
	SeverityLow      SeverityLevel = "low"
	SeverityInfo     SeverityLevel = "info"
)

// Weight returns a numeric weight for sorting and merge resolution
// (higher = more severe).
func (s SeverityLevel) Weight() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func (s SeverityLevel) String() string {
	return string(s)
}

// Max returns the more severe of s and other. Used when two tools disagree
// on a deduplicated finding's severity: the higher severity wins.
func (s SeverityLevel) Max(other SeverityLevel) SeverityLevel {
	if other.Weight() > s.Weight() {
		return other
	}
	return s
}

// MapSeverity normalises tool-specific severity strings to SeverityLevel.
// Unknown labels come back as info so nothing is silently dropped.
func MapSeverity(raw string) SeverityLevel {
	switch raw {
	case "CRITICAL", "critical":
		return SeverityCritical
	case "HIGH", "high", "ERROR", "error":
		return SeverityHigh
	case "MEDIUM", "medium", "MODERATE", "moderate", "WARNING", "warning":
		return SeverityMedium
	case "LOW", "low":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// MapCVSS maps a CVSS base score to the canonical severity. Tier lower bounds
// are inclusive: 9.0 is critical, 7.0 is high, 4.0 is medium, 0.1 is low and
// exactly 0.0 is info.
func MapCVSS(score float64) SeverityLevel {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score >= 0.1:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// AllSeverities lists the canonical tiers from most to least severe.
func AllSeverities() []SeverityLevel {
	return []SeverityLevel{
		SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo,
	}
}
