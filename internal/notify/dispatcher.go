package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/models"
)

// Dispatcher fans out events to all configured channels.
type Dispatcher struct {
	channels []Channel
	minSev   string
}

// NewDispatcher creates a Dispatcher from the given config.
// Only channels with IsConfigured() == true are active.
func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	d := &Dispatcher{minSev: cfg.MinSeverity}
	for _, ch := range []Channel{NewWebhook(cfg.Webhook), NewSlack(cfg.Slack)} {
		if ch.IsConfigured() {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// IsAnyConfigured returns true if at least one channel is ready to send.
func (d *Dispatcher) IsAnyConfigured() bool {
	return len(d.channels) > 0
}

// Notify sends evt to all configured channels. Errors are logged but never returned.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	if !d.shouldSend(evt) {
		return
	}
	for _, ch := range d.channels {
		if err := ch.Send(ctx, evt); err != nil {
			slog.Warn("notify: channel send failed", "channel", ch.Name(), "event", evt.Type, "error", err)
		}
	}
}

func (d *Dispatcher) shouldSend(evt Event) bool {
	// Gate failures always send; finding-driven events respect the
	// severity floor.
	if evt.Type == "gate_failed" {
		return true
	}
	if d.minSev != "" && evt.Severity != "" {
		return severityAtLeast(evt.Severity, d.minSev)
	}
	return true
}

// severityAtLeast returns true if got >= min in severity ordering.
func severityAtLeast(got, min string) bool {
	order := map[string]int{"critical": 4, "high": 3, "medium": 2, "low": 1}
	return order[got] >= order[min]
}

// RunFinished builds and sends the event for a run reaching a terminal
// state. Failed gates produce a distinct event type so release pipelines
// can subscribe to them alone.
func (d *Dispatcher) RunFinished(ctx context.Context, run *models.SecurityRun) {
	if !d.IsAnyConfigured() {
		return
	}
	summary := run.Summary()
	evt := Event{
		Type:     "run_" + string(run.Status),
		Severity: highestSeverity(summary),
		RunID:    run.RunID,
		Repo:     run.RepositoryPath,
		Metadata: map[string]any{
			"profile":        run.Profile,
			"commit":         run.ResolvedCommit,
			"tools_executed": run.ExecutedTools(),
			"findings":       summary,
		},
	}
	switch run.Status {
	case models.RunCompleted:
		if run.GateStatus == models.GateFailed {
			evt.Type = "gate_failed"
			evt.Title = fmt.Sprintf("Gate failed for %s", run.RepositoryPath)
			evt.Body = run.GateReason
		} else {
			evt.Title = fmt.Sprintf("Scan completed for %s", run.RepositoryPath)
			evt.Body = fmt.Sprintf("%d finding(s): %d critical, %d high, %d medium. Gate: %s.",
				summary.Total(), summary.Critical, summary.High, summary.Medium, run.GateStatus)
		}
	case models.RunFailed:
		evt.Title = fmt.Sprintf("Scan failed for %s", run.RepositoryPath)
		evt.Body = run.ErrorMsg
	case models.RunTimeout:
		evt.Title = fmt.Sprintf("Scan timed out for %s", run.RepositoryPath)
		evt.Body = fmt.Sprintf("Partial results: %d finding(s) from %d tool(s). Gate: inconclusive.",
			summary.Total(), len(run.ExecutedTools()))
	case models.RunCancelled:
		evt.Title = fmt.Sprintf("Scan cancelled for %s", run.RepositoryPath)
		evt.Body = "Run was cancelled before completion."
	default:
		return
	}
	d.Notify(ctx, evt)
}

func highestSeverity(fs models.FindingsSummary) string {
	switch {
	case fs.Critical > 0:
		return "critical"
	case fs.High > 0:
		return "high"
	case fs.Medium > 0:
		return "medium"
	case fs.Low > 0:
		return "low"
	}
	return ""
}
