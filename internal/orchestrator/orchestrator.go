// Package orchestrator owns the run lifecycle: target validation, profile
// resolution, bounded adapter fan-out, findings aggregation and synchronous
// gate evaluation on completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CosmoTheDev/scangate/internal/adapter"
	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/gate"
	"github.com/CosmoTheDev/scangate/internal/normalize"
	"github.com/CosmoTheDev/scangate/internal/profiles"
	"github.com/CosmoTheDev/scangate/internal/store"
	"github.com/CosmoTheDev/scangate/models"
)

// Notifier receives terminal-run events for outbound delivery.
type Notifier interface {
	RunFinished(ctx context.Context, run *models.SecurityRun)
}

// EventFunc receives run lifecycle events for live subscribers.
type EventFunc func(event string, payload interface{})

// SubmitRequest is one run submission.
type SubmitRequest struct {
	Target  models.RunTarget
	Profile string
	// TimeoutSec overrides the configured run-level timeout when positive.
	TimeoutSec int
	// PolicyName selects the gate policy evaluated on completion.
	// Empty means "default".
	PolicyName string
}

// Orchestrator coordinates run execution. One orchestrator serves many
// concurrent runs, bounded by the configured global limit.
type Orchestrator struct {
	store *store.Store
	cfg   *config.Config

	profilesDir   string
	buildAdapters func(names []string, binDir string) []adapter.Adapter
	events        EventFunc
	notifier      Notifier

	// slots bounds the number of simultaneously running scans.
	slots chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(st *store.Store, cfg *config.Config) *Orchestrator {
	maxRuns := cfg.Runs.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 2
	}
	return &Orchestrator{
		store:         st,
		cfg:           cfg,
		profilesDir:   profiles.DefaultDir(),
		buildAdapters: adapter.Build,
		slots:         make(chan struct{}, maxRuns),
		cancels:       make(map[string]context.CancelFunc),
	}
}

// SetEventFunc registers a sink for run lifecycle events.
func (o *Orchestrator) SetEventFunc(fn EventFunc) { o.events = fn }

// SetNotifier registers the outbound notification dispatcher.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// SetAdapterBuilder replaces the adapter factory. Used by tests to inject
// fake tools.
func (o *Orchestrator) SetAdapterBuilder(fn func(names []string, binDir string) []adapter.Adapter) {
	o.buildAdapters = fn
}

// SetProfilesDir points profile resolution at a non-default directory.
func (o *Orchestrator) SetProfilesDir(dir string) { o.profilesDir = dir }

func (o *Orchestrator) emit(event string, payload interface{}) {
	if o.events != nil {
		o.events(event, payload)
	}
}

// Submit validates the request, persists a pending run, queues it and starts
// execution in the background. The returned run is already in queued state.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.SecurityRun, error) {
	resolvedCommit, err := ValidateTarget(o.cfg, req.Target)
	if err != nil {
		return nil, err
	}

	profileName := req.Profile
	if profileName == "" {
		profileName = "standard"
	}
	prof, err := profiles.Load(profileName, o.profilesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown profile %q", ErrInvalidTarget, profileName)
	}

	run := &models.SecurityRun{
		RepositoryPath: req.Target.RepositoryPath,
		CommitRef:      req.Target.CommitRef,
		Branch:         req.Target.Branch,
		ResolvedCommit: resolvedCommit,
		Profile:        prof.Name,
		Status:         models.RunPending,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	run, err = o.store.Transition(ctx, run.RunID, models.RunQueued, func(r *models.SecurityRun) {
		r.ToolsResolved = models.EncodeStringList(prof.Tools)
	})
	if err != nil {
		return nil, err
	}
	o.emit("run.queued", run)
	slog.Info("Run queued",
		"run_id", run.RunID,
		"repo", run.RepositoryPath,
		"commit", run.ResolvedCommit,
		"profile", run.Profile,
		"tools", prof.Tools,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[run.RunID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.clearCancel(run.RunID)
		o.execute(runCtx, run.RunID, prof, req)
	}()

	return run, nil
}

func (o *Orchestrator) clearCancel(runID string) {
	o.mu.Lock()
	if cancel, ok := o.cancels[runID]; ok {
		cancel()
		delete(o.cancels, runID)
	}
	o.mu.Unlock()
}

// Cancel requests cancellation of a non-terminal run. In-flight adapters are
// terminated via context propagation; queued runs never start.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already %s", runID, run.Status)
	}

	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// No executor owns this run (e.g. it predates a restart); finalize directly.
	_, err = o.store.Transition(ctx, runID, models.RunCancelled, nil)
	return err
}

// Wait blocks until every in-flight run executor has finished. Used on
// shutdown after cancelling outstanding runs.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// CancelAll cancels every tracked run. Part of daemon shutdown.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) runTimeout(req SubmitRequest) time.Duration {
	sec := req.TimeoutSec
	if sec <= 0 {
		sec = o.cfg.Runs.RunTimeoutSec
	}
	if sec <= 0 {
		sec = 1800
	}
	return time.Duration(sec) * time.Second
}

func (o *Orchestrator) adapterTimeout(prof *profiles.Profile) time.Duration {
	sec := prof.AdapterTimeoutSec
	if sec <= 0 {
		sec = o.cfg.Runs.AdapterTimeoutSec
	}
	if sec <= 0 {
		sec = 600
	}
	return time.Duration(sec) * time.Second
}

func (o *Orchestrator) fanout(prof *profiles.Profile) int {
	limit := o.cfg.Runs.DefaultFanout
	if limit <= 0 {
		limit = 4
	}
	// Profiles may lower the fan-out, never raise it above the configured cap.
	if prof.Fanout > 0 && prof.Fanout < limit {
		limit = prof.Fanout
	}
	return limit
}

// adapterOutcome is the result of one adapter launch after normalization.
type adapterOutcome struct {
	tool     string
	findings []models.Finding
	raw      []byte
	err      error
}

func (o *Orchestrator) execute(runCtx context.Context, runID string, prof *profiles.Profile, req SubmitRequest) {
	// Hold a global slot before entering running state. A cancel while
	// queued means the run never starts.
	select {
	case o.slots <- struct{}{}:
		defer func() { <-o.slots }()
	case <-runCtx.Done():
		o.finalizeCancelled(runID, nil, nil)
		return
	}

	run, err := o.store.Transition(context.Background(), runID, models.RunRunning, nil)
	if err != nil {
		slog.Error("Run failed to start", "run_id", runID, "error", err)
		return
	}
	o.emit("run.started", run)

	scanCtx, cancelScan := context.WithTimeout(runCtx, o.runTimeout(req))
	defer cancelScan()

	outcomes := o.launchAdapters(scanCtx, run, prof)

	agg := normalize.NewAggregator()
	var executed []string
	bg := context.Background()
	for _, oc := range outcomes {
		if oc.err != nil {
			var aerr *adapter.Error
			if errors.As(oc.err, &aerr) {
				slog.Warn("Tool skipped",
					"run_id", runID, "tool", oc.tool, "kind", aerr.Kind, "error", aerr.Err)
			} else {
				slog.Warn("Tool skipped", "run_id", runID, "tool", oc.tool, "error", oc.err)
			}
			continue
		}
		executed = append(executed, oc.tool)
		if len(oc.raw) > 0 {
			if err := o.store.SaveRawOutput(bg, runID, oc.tool, oc.raw); err != nil {
				slog.Warn("Failed to retain raw output", "run_id", runID, "tool", oc.tool, "error", err)
			}
		}
		agg.Add(oc.findings)
	}

	findings := agg.Findings()
	summary := agg.Summary()

	// Decide the terminal state. runCtx cancellation (operator) takes
	// precedence over the scan deadline.
	if runCtx.Err() != nil {
		o.finalizeCancelled(runID, findings, executed)
		return
	}
	if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
		o.finalizeTimeout(runID, findings, summary, executed)
		return
	}

	if err := o.store.InsertFindings(bg, runID, findings); err != nil {
		o.finalizeFailed(runID, fmt.Errorf("persisting findings: %w", err))
		return
	}

	verdict := o.evaluateGate(bg, run, summary, len(executed), req.PolicyName)
	final, err := o.store.Transition(bg, runID, models.RunCompleted, func(r *models.SecurityRun) {
		r.SetSummary(summary)
		r.ToolsExecuted = models.EncodeStringList(executed)
		r.GateStatus = verdict.Status
		r.GateReason = verdict.Reason
	})
	if err != nil {
		o.finalizeFailed(runID, fmt.Errorf("completing run: %w", err))
		return
	}
	o.emit("run.completed", final)
	slog.Info("Run completed",
		"run_id", runID,
		"tools_executed", executed,
		"findings", summary.Total(),
		"critical", summary.Critical,
		"high", summary.High,
		"gate", verdict.Status,
	)
	if o.notifier != nil {
		o.notifier.RunFinished(bg, final)
	}
}

// launchAdapters runs the profile's tools with bounded fan-out and collects
// every outcome. Tool failures are absorbed here as outcome errors.
func (o *Orchestrator) launchAdapters(ctx context.Context, run *models.SecurityRun, prof *profiles.Profile) []adapterOutcome {
	adapters := o.buildAdapters(prof.Tools, o.cfg.Tools.BinDir)
	if len(adapters) == 0 {
		return nil
	}

	target := adapter.Target{
		Path:         run.RepositoryPath,
		AllowNetwork: prof.AllowNetwork,
		UseDocker:    o.cfg.Tools.PreferDocker,
		BinDir:       o.cfg.Tools.BinDir,
		ScratchDir:   o.cfg.Tools.ScratchDir,
	}
	timeout := o.adapterTimeout(prof)
	sem := make(chan struct{}, o.fanout(prof))
	// Outcomes keep the profile's tool order so tools_executed is stable.
	out := make([]adapterOutcome, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = adapterOutcome{tool: a.Name(), err: ctx.Err()}
				return
			}

			raw, err := a.Launch(ctx, target, timeout)
			if err != nil {
				out[i] = adapterOutcome{tool: a.Name(), err: err}
				return
			}
			findings, err := normalize.Normalize(raw)
			if err != nil {
				// Malformed output degrades like an unavailable tool.
				out[i] = adapterOutcome{tool: a.Name(), raw: raw.Stdout, err: err}
				return
			}
			out[i] = adapterOutcome{tool: a.Name(), findings: findings, raw: raw.Stdout}
		}(i, a)
	}
	wg.Wait()
	return out
}

func (o *Orchestrator) evaluateGate(ctx context.Context, run *models.SecurityRun, summary models.FindingsSummary, toolsExecuted int, policyName string) gate.Verdict {
	policy, err := o.store.GetPolicy(ctx, policyName)
	if err != nil {
		slog.Warn("Gate policy unavailable, using built-in default", "policy", policyName, "error", err)
		def := models.DefaultGatePolicy()
		policy = &def
	}

	in := gate.Input{
		Summary:       summary,
		Status:        models.RunCompleted,
		Profile:       run.Profile,
		ToolsExecuted: toolsExecuted,
		Now:           time.Now().UTC(),
	}
	if policy.RequireRecentRun {
		if prev, err := o.store.LatestCompletedRun(ctx, run.RepositoryPath, run.ResolvedCommit, run.Branch); err == nil && prev.CompletedAt != nil {
			in.RecentRunAt = prev.CompletedAt
		}
	}
	return gate.Evaluate(in, *policy)
}

// EvaluateRun re-computes the gate verdict for a terminal run on demand,
// against any named policy. The stored verdict is never mutated.
func (o *Orchestrator) EvaluateRun(ctx context.Context, runID, policyName string) (gate.Verdict, *models.SecurityRun, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return gate.Verdict{}, nil, err
	}
	if !run.Status.Terminal() {
		return gate.Verdict{}, nil, fmt.Errorf("run %s is %s; gate evaluation requires a terminal run", runID, run.Status)
	}

	policy, err := o.store.GetPolicy(ctx, policyName)
	if err != nil {
		return gate.Verdict{}, nil, err
	}

	in := gate.Input{
		Summary:       run.Summary(),
		Status:        run.Status,
		Profile:       run.Profile,
		ToolsExecuted: len(run.ExecutedTools()),
		Now:           time.Now().UTC(),
	}
	if policy.RequireRecentRun {
		if prev, err := o.store.LatestCompletedRun(ctx, run.RepositoryPath, run.ResolvedCommit, run.Branch); err == nil && prev.CompletedAt != nil {
			in.RecentRunAt = prev.CompletedAt
		}
	}
	return gate.Evaluate(in, *policy), run, nil
}

func (o *Orchestrator) finalizeCancelled(runID string, findings []models.Finding, executed []string) {
	ctx := context.Background()
	if len(findings) > 0 {
		if err := o.store.InsertFindings(ctx, runID, findings); err != nil {
			slog.Warn("Failed to retain findings of cancelled run", "run_id", runID, "error", err)
		}
	}
	run, err := o.store.Transition(ctx, runID, models.RunCancelled, func(r *models.SecurityRun) {
		r.ToolsExecuted = models.EncodeStringList(executed)
	})
	if err != nil {
		slog.Error("Failed to finalize cancelled run", "run_id", runID, "error", err)
		return
	}
	o.emit("run.cancelled", run)
	slog.Info("Run cancelled", "run_id", runID, "tools_executed", executed)
	if o.notifier != nil {
		o.notifier.RunFinished(ctx, run)
	}
}

func (o *Orchestrator) finalizeTimeout(runID string, findings []models.Finding, summary models.FindingsSummary, executed []string) {
	ctx := context.Background()
	if len(findings) > 0 {
		if err := o.store.InsertFindings(ctx, runID, findings); err != nil {
			slog.Warn("Failed to retain partial findings", "run_id", runID, "error", err)
		}
	}
	run, err := o.store.Transition(ctx, runID, models.RunTimeout, func(r *models.SecurityRun) {
		r.SetSummary(summary)
		r.ToolsExecuted = models.EncodeStringList(executed)
		r.GateStatus = models.GateInconclusive
		r.GateReason = "scan did not complete: run-level timeout elapsed before all tools returned"
	})
	if err != nil {
		slog.Error("Failed to finalize timed-out run", "run_id", runID, "error", err)
		return
	}
	o.emit("run.timeout", run)
	slog.Warn("Run timed out", "run_id", runID, "tools_executed", executed, "partial_findings", summary.Total())
	if o.notifier != nil {
		o.notifier.RunFinished(ctx, run)
	}
}

func (o *Orchestrator) finalizeFailed(runID string, cause error) {
	ctx := context.Background()
	run, err := o.store.Transition(ctx, runID, models.RunFailed, func(r *models.SecurityRun) {
		r.ErrorMsg = cause.Error()
	})
	if err != nil {
		slog.Error("Failed to finalize failed run", "run_id", runID, "error", err, "cause", cause)
		return
	}
	o.emit("run.failed", run)
	slog.Error("Run failed", "run_id", runID, "error", cause)
	if o.notifier != nil {
		o.notifier.RunFinished(ctx, run)
	}
}
