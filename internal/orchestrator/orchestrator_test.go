package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/scangate/internal/adapter"
	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/internal/store"
	"github.com/CosmoTheDev/scangate/models"
)

type fakeAdapter struct {
	name        string
	stdout      []byte
	block       bool
	unavailable bool
}

func (f *fakeAdapter) Name() string                               { return f.name }
func (f *fakeAdapter) Kind() adapter.Kind                         { return adapter.KindSCA }
func (f *fakeAdapter) DockerImage() string                        { return "" }
func (f *fakeAdapter) IsAvailableLocal(ctx context.Context) bool  { return !f.unavailable }
func (f *fakeAdapter) IsAvailableDocker(ctx context.Context) bool { return false }
func (f *fakeAdapter) NeedsWritableCopy() bool                    { return false }

func (f *fakeAdapter) Launch(ctx context.Context, target adapter.Target, timeout time.Duration) (*adapter.RawResult, error) {
	if f.unavailable {
		return nil, &adapter.Error{Tool: f.name, Kind: adapter.ErrToolUnavailable, Err: errors.New("binary not found")}
	}
	if f.block {
		<-ctx.Done()
		return nil, &adapter.Error{Tool: f.name, Kind: adapter.ErrTimeout, Err: ctx.Err()}
	}
	return &adapter.RawResult{Tool: f.name, Kind: adapter.KindSCA, Stdout: f.stdout}, nil
}

const grypeOneHigh = `{
	"matches": [
		{
			"vulnerability": {"id": "CVE-2025-0001", "severity": "High", "description": "overflow"},
			"artifact": {"name": "libx", "version": "2.0", "locations": [{"path": "go.sum"}]}
		}
	]
}`

func newTestOrchestrator(t *testing.T, fakes map[string]*fakeAdapter) (*Orchestrator, *store.Store, string) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "scangate_test.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := store.New(db)

	cfg := &config.Config{}
	cfg.Runs.MaxConcurrentRuns = 2
	cfg.Runs.DefaultFanout = 4
	cfg.Runs.RunTimeoutSec = 30
	cfg.Runs.AdapterTimeoutSec = 10

	o := New(st, cfg)
	o.SetAdapterBuilder(func(names []string, binDir string) []adapter.Adapter {
		out := make([]adapter.Adapter, 0, len(names))
		for _, n := range names {
			if f, ok := fakes[n]; ok {
				out = append(out, f)
			}
		}
		return out
	})

	repoDir := t.TempDir()
	return o, st, repoDir
}

func waitTerminal(t *testing.T, s *store.Store, runID string) *models.SecurityRun {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := s.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal state")
	return nil
}

func TestSubmitCompletesAndGates(t *testing.T) {
	o, st, repoDir := newTestOrchestrator(t, map[string]*fakeAdapter{
		"grype":      {name: "grype", stdout: []byte(grypeOneHigh)},
		"trufflehog": {name: "trufflehog", stdout: []byte("")},
	})

	run, err := o.Submit(context.Background(), SubmitRequest{
		Target:  models.RunTarget{RepositoryPath: repoDir},
		Profile: "quick",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.Status != models.RunQueued {
		t.Errorf("submitted run status = %s, want queued", run.Status)
	}

	final := waitTerminal(t, st, run.RunID)
	if final.Status != models.RunCompleted {
		t.Fatalf("status = %s (%s), want completed", final.Status, final.ErrorMsg)
	}
	if final.FindingsHigh != 1 {
		t.Errorf("findings_high = %d, want 1", final.FindingsHigh)
	}
	if final.GateStatus != models.GateFailed {
		t.Errorf("gate = %s (%s), want failed under the default policy", final.GateStatus, final.GateReason)
	}
	if got := final.ExecutedTools(); len(got) != 2 {
		t.Errorf("tools_executed = %v, want both tools", got)
	}

	findings, total, err := st.ListFindings(context.Background(), run.RunID, store.FindingFilter{})
	if err != nil || total != 1 {
		t.Fatalf("persisted findings: total = %d err = %v", total, err)
	}
	if findings[0].RuleID != "CVE-2025-0001" {
		t.Errorf("finding = %+v", findings[0])
	}
}

func TestSubmitInvalidTarget(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)

	cases := []models.RunTarget{
		{},
		{RepositoryPath: "relative/path"},
		{RepositoryPath: "/nonexistent/definitely/missing"},
	}
	for _, target := range cases {
		if _, err := o.Submit(context.Background(), SubmitRequest{Target: target}); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("target %+v: err = %v, want ErrInvalidTarget", target, err)
		}
	}
}

func TestSubmitCommitRefOnPlainDirectory(t *testing.T) {
	o, _, repoDir := newTestOrchestrator(t, nil)
	_, err := o.Submit(context.Background(), SubmitRequest{
		Target: models.RunTarget{RepositoryPath: repoDir, CommitRef: "v1.0.0"},
	})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("commit ref on a non-repository should be rejected, err = %v", err)
	}
}

func TestCancelRunningRun(t *testing.T) {
	o, st, repoDir := newTestOrchestrator(t, map[string]*fakeAdapter{
		"grype":      {name: "grype", block: true},
		"trufflehog": {name: "trufflehog", block: true},
	})

	run, err := o.Submit(context.Background(), SubmitRequest{
		Target:  models.RunTarget{RepositoryPath: repoDir},
		Profile: "quick",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the run to enter running before cancelling.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, _ := st.GetRun(context.Background(), run.RunID)
		if r != nil && r.Status == models.RunRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := o.Cancel(context.Background(), run.RunID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitTerminal(t, st, run.RunID)
	if final.Status != models.RunCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.GateStatus != "" {
		t.Errorf("cancelled run must not be gate-evaluated, got %s", final.GateStatus)
	}
	o.Wait()
}

func TestEvaluateCancelledRunInconclusive(t *testing.T) {
	o, st, repoDir := newTestOrchestrator(t, map[string]*fakeAdapter{
		"grype":      {name: "grype", stdout: []byte(grypeOneHigh)},
		"trufflehog": {name: "trufflehog", block: true},
	})

	run, err := o.Submit(context.Background(), SubmitRequest{
		Target:  models.RunTarget{RepositoryPath: repoDir},
		Profile: "quick",
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, _ := st.GetRun(context.Background(), run.RunID)
		if r != nil && r.Status == models.RunRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := o.Cancel(context.Background(), run.RunID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitTerminal(t, st, run.RunID)
	if final.Status != models.RunCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}

	// The tool that finished before the cancel persisted its findings, but
	// the summary was never computed. On-demand evaluation must not treat
	// that as a clean scan.
	findings, n, err := st.ListFindings(context.Background(), run.RunID, store.FindingFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || findings[0].Severity != models.SeverityHigh {
		t.Fatalf("expected 1 persisted high finding, got %d", n)
	}
	verdict, _, err := o.EvaluateRun(context.Background(), run.RunID, "")
	if err != nil {
		t.Fatalf("EvaluateRun: %v", err)
	}
	if verdict.Status != models.GateInconclusive {
		t.Errorf("cancelled run verdict = %s, want inconclusive", verdict.Status)
	}
	if !strings.Contains(verdict.Reason, "cancelled") {
		t.Errorf("reason = %q", verdict.Reason)
	}
	o.Wait()
}

func TestRunTimeoutInconclusive(t *testing.T) {
	o, st, repoDir := newTestOrchestrator(t, map[string]*fakeAdapter{
		"grype":      {name: "grype", stdout: []byte(grypeOneHigh)},
		"trufflehog": {name: "trufflehog", block: true},
	})

	run, err := o.Submit(context.Background(), SubmitRequest{
		Target:     models.RunTarget{RepositoryPath: repoDir},
		Profile:    "quick",
		TimeoutSec: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	final := waitTerminal(t, st, run.RunID)
	if final.Status != models.RunTimeout {
		t.Fatalf("status = %s, want timeout", final.Status)
	}
	if final.GateStatus != models.GateInconclusive {
		t.Errorf("gate = %s, want inconclusive", final.GateStatus)
	}
	// The fast tool's findings survive as partial results.
	if final.FindingsHigh != 1 {
		t.Errorf("partial findings_high = %d, want 1", final.FindingsHigh)
	}
	if got := final.ExecutedTools(); len(got) != 1 || got[0] != "grype" {
		t.Errorf("tools_executed = %v, want only the tool that finished", got)
	}
}

func TestAllToolsUnavailable(t *testing.T) {
	o, st, repoDir := newTestOrchestrator(t, map[string]*fakeAdapter{
		"grype":      {name: "grype", unavailable: true},
		"trufflehog": {name: "trufflehog", unavailable: true},
	})

	run, err := o.Submit(context.Background(), SubmitRequest{
		Target:  models.RunTarget{RepositoryPath: repoDir},
		Profile: "quick",
	})
	if err != nil {
		t.Fatal(err)
	}

	final := waitTerminal(t, st, run.RunID)
	if final.Status != models.RunCompleted {
		t.Fatalf("status = %s, want completed (tool failures are absorbed)", final.Status)
	}
	if final.Summary().Total() != 0 {
		t.Errorf("findings = %d, want 0", final.Summary().Total())
	}
	// An empty scan is never presented as a clean pass.
	if final.GateStatus != models.GateInconclusive {
		t.Errorf("gate = %s, want inconclusive", final.GateStatus)
	}
	if !strings.Contains(final.GateReason, "zero tools") {
		t.Errorf("gate reason = %q", final.GateReason)
	}
}

func TestEvaluateRunOnDemand(t *testing.T) {
	o, st, repoDir := newTestOrchestrator(t, map[string]*fakeAdapter{
		"grype":      {name: "grype", stdout: []byte(`{"matches":[]}`)},
		"trufflehog": {name: "trufflehog", stdout: []byte("")},
	})

	run, err := o.Submit(context.Background(), SubmitRequest{
		Target:  models.RunTarget{RepositoryPath: repoDir},
		Profile: "quick",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, st, run.RunID)

	verdict, _, err := o.EvaluateRun(context.Background(), run.RunID, "default")
	if err != nil {
		t.Fatalf("EvaluateRun: %v", err)
	}
	if verdict.Status != models.GatePassed {
		t.Errorf("verdict = %s (%s), want passed", verdict.Status, verdict.Reason)
	}

	// A stricter stored policy changes the on-demand verdict without
	// touching the run record.
	strict := &models.GatePolicy{Name: "strict", MaxHigh: 0, WarnMedium: 0, RequireProfile: "deep"}
	if err := st.SavePolicy(context.Background(), strict); err != nil {
		t.Fatal(err)
	}
	verdict, _, err = o.EvaluateRun(context.Background(), run.RunID, "strict")
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != models.GateFailed {
		t.Errorf("strict verdict = %s, want failed on profile depth", verdict.Status)
	}
	stored, _ := st.GetRun(context.Background(), run.RunID)
	if stored.GateStatus != models.GatePassed {
		t.Errorf("stored verdict mutated to %s", stored.GateStatus)
	}
}
