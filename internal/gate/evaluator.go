// Package gate computes release-gate verdicts from a run's finding summary
// and a named policy. Evaluation is a pure function of its inputs: no
// storage, no clocks, no side effects, so concurrent invocation is safe and
// repeated evaluation of the same inputs is reproducible.
package gate

import (
	"fmt"
	"time"

	"github.com/CosmoTheDev/scangate/internal/profiles"
	"github.com/CosmoTheDev/scangate/models"
)

// Input carries everything a verdict depends on. The caller resolves
// store-dependent facts (most recent qualifying run) before evaluating so
// Evaluate itself stays pure.
type Input struct {
	Summary models.FindingsSummary
	Status  models.RunStatus
	Profile string
	// ToolsExecuted counts the tools that actually ran to completion.
	// Zero means nothing scanned the target.
	ToolsExecuted int
	// RecentRunAt is the completion time of the most recent completed run
	// for the same target commit/branch (nil if none exists). Only
	// consulted when the policy requires run freshness.
	RecentRunAt *time.Time
	// Now anchors the freshness check.
	Now time.Time
}

// Verdict is the outcome of one policy evaluation.
type Verdict struct {
	Status string `json:"gate_status"`
	Reason string `json:"gate_reason"`
}

// Evaluate applies policy to in. Rules are checked in a fixed order and the
// first match wins:
//
//	inconclusive scan (run not completed, or zero tools executed)
//	missing recent qualifying run
//	profile below required depth
//	any critical finding (always blocks, no threshold)
//	high findings over the blocking threshold
//	medium findings over the warning threshold
//	passed
//
// Only a completed run can pass: cancelled, failed and timed-out runs have
// a summary computed over an incomplete finding set (or none at all), so
// their verdict is always inconclusive.
func Evaluate(in Input, policy models.GatePolicy) Verdict {
	switch in.Status {
	case models.RunCompleted:
	case models.RunTimeout:
		return Verdict{
			Status: models.GateInconclusive,
			Reason: "scan did not complete: run-level timeout elapsed before all tools returned",
		}
	default:
		return Verdict{
			Status: models.GateInconclusive,
			Reason: fmt.Sprintf("scan did not complete: run ended %s before a verdict could be computed", in.Status),
		}
	}
	if in.ToolsExecuted == 0 {
		return Verdict{
			Status: models.GateInconclusive,
			Reason: "zero tools executed: no scanner produced results for this target",
		}
	}

	if policy.RequireRecentRun {
		maxAge := time.Duration(policy.MaxRunAgeHours) * time.Hour
		if in.RecentRunAt == nil {
			return Verdict{
				Status: models.GateFailed,
				Reason: fmt.Sprintf("no recent qualifying run: none completed within the last %dh for this target", policy.MaxRunAgeHours),
			}
		}
		if age := in.Now.Sub(*in.RecentRunAt); age > maxAge {
			return Verdict{
				Status: models.GateFailed,
				Reason: fmt.Sprintf("no recent qualifying run: last completed %s ago, policy allows %dh", age.Round(time.Minute), policy.MaxRunAgeHours),
			}
		}
	}

	if policy.RequireProfile != "" {
		required := profiles.DepthOf(policy.RequireProfile)
		if got := profiles.DepthOf(in.Profile); got < required {
			return Verdict{
				Status: models.GateFailed,
				Reason: fmt.Sprintf("profile below required depth: run used %q, policy requires at least %q", in.Profile, policy.RequireProfile),
			}
		}
	}

	if in.Summary.Critical > 0 {
		return Verdict{
			Status: models.GateFailed,
			Reason: fmt.Sprintf("%d CRITICAL finding(s): critical findings always block release", in.Summary.Critical),
		}
	}
	if in.Summary.High > policy.MaxHigh {
		return Verdict{
			Status: models.GateFailed,
			Reason: fmt.Sprintf("%d HIGH finding(s) exceeds the allowed %d", in.Summary.High, policy.MaxHigh),
		}
	}
	if in.Summary.Medium > policy.WarnMedium {
		return Verdict{
			Status: models.GateWarning,
			Reason: fmt.Sprintf("%d MEDIUM finding(s) over the warning threshold of %d; release not blocked", in.Summary.Medium, policy.WarnMedium),
		}
	}

	return Verdict{
		Status: models.GatePassed,
		Reason: fmt.Sprintf("within policy %q v%d: %d finding(s), none over thresholds", policy.Name, policy.Version, in.Summary.Total()),
	}
}
