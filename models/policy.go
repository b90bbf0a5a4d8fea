package models

import "time"

// Gate statuses produced by policy evaluation.
const (
	GatePassed  = "passed"
	GateWarning = "warning"
	GateFailed  = "failed"
	// GateInconclusive marks runs whose scan did not fully complete
	// (run-level timeout). Never treated as a pass.
	GateInconclusive = "inconclusive"
)

// GatePolicy is a named, versioned release-gate configuration. Policies are
// referenced by runs, never embedded in them, so a policy edit shows up as a
// new version rather than rewriting history.
type GatePolicy struct {
	ID      int64  `json:"id"      db:"id"`
	Name    string `json:"name"    db:"name"`
	Version int    `json:"version" db:"version"`

	// MaxHigh is the blocking threshold for high findings (default 0).
	// Critical findings always block and have no threshold.
	MaxHigh int `json:"max_high" db:"max_high"`
	// WarnMedium is the warning threshold for medium findings.
	WarnMedium int `json:"warn_medium" db:"warn_medium"`

	// RequireRecentRun demands a qualifying completed run within
	// MaxRunAgeHours for the target commit/branch.
	RequireRecentRun bool `json:"require_recent_run" db:"require_recent_run"`
	MaxRunAgeHours   int  `json:"max_run_age_hours"  db:"max_run_age_hours"`

	// RequireProfile is the minimum profile depth (quick < standard < deep).
	RequireProfile string `json:"require_profile" db:"require_profile"`

	// AllowOverride permits an audited override action for failed verdicts.
	// It never changes the computed verdict itself.
	AllowOverride bool `json:"allow_override" db:"allow_override"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultGatePolicy returns the built-in policy used when none is configured:
// zero tolerance for high findings, warning at 10 mediums, no freshness or
// profile-depth requirement.
func DefaultGatePolicy() GatePolicy {
	return GatePolicy{
		Name:       "default",
		Version:    1,
		MaxHigh:    0,
		WarnMedium: 10,
	}
}

// GateOverride is an append-only audit record permitting a release action to
// proceed despite a failed verdict. The original verdict is never mutated.
type GateOverride struct {
	ID            int64     `json:"id"            db:"id"`
	RunID         string    `json:"run_id"        db:"run_id"`
	PolicyName    string    `json:"policy_name"   db:"policy_name"`
	PolicyVersion int       `json:"policy_version" db:"policy_version"`
	Actor         string    `json:"actor"         db:"actor"`
	Justification string    `json:"justification" db:"justification"`
	CreatedAt     time.Time `json:"created_at"    db:"created_at"`
}
