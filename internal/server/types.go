package server

// SSEEvent is serialised as JSON and pushed over the GET /events SSE stream.
// RunID is filled for run lifecycle events so clients can subscribe to one
// run (GET /events?run_id=...).
type SSEEvent struct {
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Status is a live snapshot of the daemon state.
type Status struct {
	Running       bool   `json:"running"`
	QueuedRuns    int    `json:"queued_runs"`
	ActiveRuns    int    `json:"active_runs"`
	CompletedRuns int    `json:"completed_runs"`
	MaxConcurrent int    `json:"max_concurrent_runs"`
	LastRunAt     string `json:"last_run_at,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
