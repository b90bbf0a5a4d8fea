// Package notify delivers terminal-run and gate events to outbound channels.
// Delivery is best-effort: a channel failure is logged, never surfaced to the
// run lifecycle.
package notify

import "context"

// Event is one outbound notification.
type Event struct {
	// Type is "run_completed", "run_failed", "run_timeout", "run_cancelled"
	// or "gate_failed".
	Type  string
	Title string
	Body  string
	// Severity is the highest finding severity of the run, used for channel
	// filtering and display ("" when not applicable).
	Severity string
	RunID    string
	Repo     string
	Metadata map[string]any
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}
