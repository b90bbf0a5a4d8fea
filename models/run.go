package models

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a SecurityRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a terminal state. Terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimeout, RunCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case RunPending:
		return next == RunQueued || next == RunCancelled || next == RunFailed
	case RunQueued:
		return next == RunRunning || next == RunCancelled || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunFailed || next == RunTimeout || next == RunCancelled
	}
	return false
}

// RunTarget identifies the repository snapshot a run scans.
// Immutable once the run starts.
type RunTarget struct {
	RepositoryPath string `json:"repository_path"`
	CommitRef      string `json:"commit_ref"`
	Branch         string `json:"branch"`
}

// FindingsSummary holds per-severity finding counts, computed once all
// adapters have returned and dedup has been applied.
type FindingsSummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Count returns the count for one severity tier.
func (fs FindingsSummary) Count(s SeverityLevel) int {
	switch s {
	case SeverityCritical:
		return fs.Critical
	case SeverityHigh:
		return fs.High
	case SeverityMedium:
		return fs.Medium
	case SeverityLow:
		return fs.Low
	case SeverityInfo:
		return fs.Info
	}
	return 0
}

// Total returns the total number of findings across all tiers.
func (fs FindingsSummary) Total() int {
	return fs.Critical + fs.High + fs.Medium + fs.Low + fs.Info
}

// Add increments the tier counter for sev.
func (fs *FindingsSummary) Add(sev SeverityLevel) {
	switch sev {
	case SeverityCritical:
		fs.Critical++
	case SeverityHigh:
		fs.High++
	case SeverityMedium:
		fs.Medium++
	case SeverityLow:
		fs.Low++
	default:
		fs.Info++
	}
}

// SecurityRun tracks one invocation of a scan profile against a target.
type SecurityRun struct {
	ID    int64  `json:"-"      db:"id"`
	RunID string `json:"run_id" db:"run_id"`

	RepositoryPath string `json:"repository_path" db:"repository_path"`
	CommitRef      string `json:"commit_ref"      db:"commit_ref"`
	Branch         string `json:"branch"          db:"branch"`
	// ResolvedCommit is the concrete commit hash CommitRef resolved to at
	// target validation time.
	ResolvedCommit string `json:"resolved_commit" db:"resolved_commit"`

	Profile string    `json:"profile" db:"profile"`
	Status  RunStatus `json:"status"  db:"status"`

	// ToolsResolved is the profile's declared tool list at queue time.
	// ToolsExecuted is the append-only JSON list of tools that actually ran
	// to completion; it can be shorter than ToolsResolved after cancellation
	// or a run-level timeout.
	ToolsResolved string `json:"tools_resolved" db:"tools_resolved"`
	ToolsExecuted string `json:"tools_executed" db:"tools_executed"`

	FindingsCritical int `json:"findings_critical" db:"findings_critical"`
	FindingsHigh     int `json:"findings_high"     db:"findings_high"`
	FindingsMedium   int `json:"findings_medium"   db:"findings_medium"`
	FindingsLow      int `json:"findings_low"      db:"findings_low"`
	FindingsInfo     int `json:"findings_info"     db:"findings_info"`

	GateStatus string `json:"gate_status,omitempty" db:"gate_status"`
	GateReason string `json:"gate_reason,omitempty" db:"gate_reason"`
	// ErrorMsg records orchestrator-level failure detail for failed runs.
	ErrorMsg string `json:"error_msg,omitempty" db:"error_msg"`

	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// NewRunID returns an opaque unique run identifier.
func NewRunID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "run_" + hex.EncodeToString(b)
}

// Target returns the run's target as a struct.
func (r *SecurityRun) Target() RunTarget {
	return RunTarget{
		RepositoryPath: r.RepositoryPath,
		CommitRef:      r.CommitRef,
		Branch:         r.Branch,
	}
}

// Summary assembles the per-severity counts into a FindingsSummary.
func (r *SecurityRun) Summary() FindingsSummary {
	return FindingsSummary{
		Critical: r.FindingsCritical,
		High:     r.FindingsHigh,
		Medium:   r.FindingsMedium,
		Low:      r.FindingsLow,
		Info:     r.FindingsInfo,
	}
}

// SetSummary stores fs into the per-severity columns.
func (r *SecurityRun) SetSummary(fs FindingsSummary) {
	r.FindingsCritical = fs.Critical
	r.FindingsHigh = fs.High
	r.FindingsMedium = fs.Medium
	r.FindingsLow = fs.Low
	r.FindingsInfo = fs.Info
}

// ExecutedTools decodes the ToolsExecuted JSON list.
func (r *SecurityRun) ExecutedTools() []string {
	return decodeStringList(r.ToolsExecuted)
}

// ResolvedTools decodes the ToolsResolved JSON list.
func (r *SecurityRun) ResolvedTools() []string {
	return decodeStringList(r.ToolsResolved)
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// EncodeStringList serialises a tool list for the JSON columns.
func EncodeStringList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
