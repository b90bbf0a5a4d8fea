// Package normalize maps heterogeneous raw tool output into the canonical
// Finding schema and merges findings across tools within one run.
package normalize

import (
	"fmt"
	"strings"

	"github.com/CosmoTheDev/scangate/internal/adapter"
	"github.com/CosmoTheDev/scangate/models"
)

// Normalize converts one tool's raw result into canonical, not-yet-merged
// findings. A malformed payload returns an error; the caller logs it and
// excludes that tool's output without aborting the rest of the run.
func Normalize(raw *adapter.RawResult) ([]models.Finding, error) {
	var (
		out []models.Finding
		err error
	)
	switch strings.ToLower(strings.TrimSpace(raw.Tool)) {
	case "opengrep":
		out, err = parseOpengrep(raw.Stdout)
	case "grype":
		out, err = parseGrype(raw.Stdout)
	case "trivy":
		out, err = parseTrivy(raw.Stdout)
	case "trufflehog":
		out, err = parseTrufflehog(raw.Stdout)
	default:
		return nil, fmt.Errorf("normalize: no parser for tool %q", raw.Tool)
	}
	if err != nil {
		return nil, fmt.Errorf("normalize: %s output: %w", raw.Tool, err)
	}

	for i := range out {
		f := &out[i]
		f.Category, f.NeedsReview = models.ClassifyCategory(f.RuleID, string(raw.Kind))
		f.FindingID = models.ComputeFindingID(f.FilePath, f.LineNumber, f.RuleID, f.Description)
		f.SetTools([]string{raw.Tool})
	}
	return out, nil
}

// Aggregator accumulates findings across a run's adapters, applying the
// dedup invariant: at most one record per finding_id, with tool_source
// recording every reporter. When tools disagree on severity the higher
// severity wins.
type Aggregator struct {
	byID  map[string]*models.Finding
	order []string
}

func NewAggregator() *Aggregator {
	return &Aggregator{byID: make(map[string]*models.Finding)}
}

// Add merges a batch of normalized findings into the accumulated set.
func (a *Aggregator) Add(findings []models.Finding) {
	for i := range findings {
		f := findings[i]
		existing, ok := a.byID[f.FindingID]
		if !ok {
			cp := f
			a.byID[f.FindingID] = &cp
			a.order = append(a.order, f.FindingID)
			continue
		}
		for _, tool := range f.Tools() {
			existing.AddTool(tool)
		}
		existing.Severity = existing.Severity.Max(f.Severity)
		// A classifiable category from any reporter clears the review flag.
		if existing.NeedsReview && !f.NeedsReview {
			existing.Category = f.Category
			existing.NeedsReview = false
		}
	}
}

// Findings returns the merged set in first-seen order.
func (a *Aggregator) Findings() []models.Finding {
	out := make([]models.Finding, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}

// Summary computes per-severity counts over the merged set. Callers must
// only invoke this after every adapter has been merged or excluded, never
// against a partial set.
func (a *Aggregator) Summary() models.FindingsSummary {
	var fs models.FindingsSummary
	for _, id := range a.order {
		fs.Add(a.byID[id].Severity)
	}
	return fs
}

// Len returns the number of distinct findings accumulated.
func (a *Aggregator) Len() int { return len(a.order) }
