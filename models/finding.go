package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Finding is one normalized security observation, owned by exactly one
// SecurityRun. FindingID is deterministic so the same observation reported by
// two tools collapses into a single record.
type Finding struct {
	ID        int64  `json:"id"         db:"id"`
	RunID     string `json:"run_id"     db:"run_id"`
	FindingID string `json:"finding_id" db:"finding_id"`

	Severity SeverityLevel `json:"severity" db:"severity"`
	Category Category      `json:"category" db:"category"`
	// NeedsReview is set when the category fell back to code-quality because
	// the rule id could not be classified.
	NeedsReview bool `json:"needs_review" db:"needs_review"`

	RuleID            string `json:"rule_id"            db:"rule_id"`
	Title             string `json:"title"              db:"title"`
	Description       string `json:"description"        db:"description"`
	AffectedComponent string `json:"affected_component" db:"affected_component"`
	Remediation       string `json:"remediation"        db:"remediation"`
	FilePath          string `json:"file_path"          db:"file_path"`
	LineNumber        int    `json:"line_number"        db:"line_number"`

	// ToolSource is the JSON array of tool identifiers that independently
	// reported this finding. Preserved across dedup for cross-validation.
	ToolSource string    `json:"tool_source" db:"tool_source"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// ComputeFindingID returns the deterministic dedup key for a finding:
// a sha256 over (file_path, line_number, rule_id, description).
func ComputeFindingID(filePath string, lineNumber int, ruleID, description string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s", filePath, lineNumber, ruleID, description)
	return hex.EncodeToString(h.Sum(nil))
}

// Tools decodes the ToolSource JSON array. A malformed column yields nil.
func (f *Finding) Tools() []string {
	var tools []string
	if err := json.Unmarshal([]byte(f.ToolSource), &tools); err != nil {
		return nil
	}
	return tools
}

// SetTools encodes a sorted, de-duplicated tool list into ToolSource.
func (f *Finding) SetTools(tools []string) {
	seen := make(map[string]struct{}, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	b, _ := json.Marshal(out)
	f.ToolSource = string(b)
}

// AddTool records one more reporting tool on an existing finding.
func (f *Finding) AddTool(tool string) {
	f.SetTools(append(f.Tools(), tool))
}
