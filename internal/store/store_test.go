package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "scangate_test.db"),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return New(db)
}

func newTestRun() *models.SecurityRun {
	return &models.SecurityRun{
		RepositoryPath: "/srv/repos/payments",
		CommitRef:      "main",
		Branch:         "main",
		Profile:        "standard",
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := newTestRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.RunID == "" || run.Status != models.RunPending {
		t.Fatalf("created run = %+v", run)
	}

	got, err := s.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RepositoryPath != run.RepositoryPath || got.Profile != "standard" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// pending -> queued -> running -> completed, with timestamps filled in.
	if _, err := s.Transition(ctx, run.RunID, models.RunQueued, func(r *models.SecurityRun) {
		r.ToolsResolved = models.EncodeStringList([]string{"grype", "trufflehog"})
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	running, err := s.Transition(ctx, run.RunID, models.RunRunning, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if running.StartedAt == nil {
		t.Error("started_at not stamped on running transition")
	}
	done, err := s.Transition(ctx, run.RunID, models.RunCompleted, func(r *models.SecurityRun) {
		r.SetSummary(models.FindingsSummary{High: 1, Low: 3})
		r.GateStatus = models.GateFailed
		r.GateReason = "1 HIGH finding(s) exceeds the allowed 0"
		r.ToolsExecuted = models.EncodeStringList([]string{"grype", "trufflehog"})
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || done.FindingsHigh != 1 {
		t.Errorf("completed run = %+v", done)
	}

	// Terminal runs are immutable.
	if _, err := s.Transition(ctx, run.RunID, models.RunCancelled, nil); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("transition out of terminal state: err = %v, want ErrIllegalTransition", err)
	}
}

func TestIllegalTransitionSkipsStates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := newTestRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	// pending cannot jump straight to running or completed.
	if _, err := s.Transition(ctx, run.RunID, models.RunRunning, nil); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("pending->running: err = %v", err)
	}
	if _, err := s.Transition(ctx, run.RunID, models.RunCompleted, nil); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("pending->completed: err = %v", err)
	}
	// Cancellation is allowed from any non-terminal state.
	if _, err := s.Transition(ctx, run.RunID, models.RunCancelled, nil); err != nil {
		t.Errorf("pending->cancelled: %v", err)
	}
}

func TestListRunsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		run := newTestRun()
		if i == 2 {
			run.Profile = "quick"
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	all, total, err := s.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Errorf("total = %d, len = %d, want 3", total, len(all))
	}

	quick, total, err := s.ListRuns(ctx, RunFilter{Profile: "quick"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(quick) != 1 {
		t.Errorf("profile filter: total = %d, len = %d", total, len(quick))
	}

	paged, total, err := s.ListRuns(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(paged) != 2 {
		t.Errorf("pagination: total = %d, len = %d", total, len(paged))
	}
}

func TestFindingsPersistAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := newTestRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	mk := func(rule string, sev models.SeverityLevel, cat models.Category) models.Finding {
		f := models.Finding{
			Severity: sev, Category: cat, RuleID: rule,
			Title: rule, Description: "d", FilePath: "f.go", LineNumber: 1,
		}
		f.FindingID = models.ComputeFindingID(f.FilePath, f.LineNumber, rule, f.Description)
		f.SetTools([]string{"grype"})
		return f
	}
	batch := []models.Finding{
		mk("CVE-1", models.SeverityCritical, models.CategoryDependencyVuln),
		mk("CVE-2", models.SeverityLow, models.CategoryDependencyVuln),
		mk("misconfig-1", models.SeverityMedium, models.CategoryConfigIssue),
	}
	if err := s.InsertFindings(ctx, run.RunID, batch); err != nil {
		t.Fatalf("InsertFindings: %v", err)
	}

	all, total, err := s.ListFindings(ctx, run.RunID, FindingFilter{})
	if err != nil {
		t.Fatalf("ListFindings: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if all[0].Severity != models.SeverityCritical {
		t.Errorf("findings not ordered most severe first: %s", all[0].Severity)
	}
	if got := all[0].Tools(); len(got) != 1 || got[0] != "grype" {
		t.Errorf("tool_source round trip = %v", got)
	}

	deps, total, err := s.ListFindings(ctx, run.RunID, FindingFilter{Category: string(models.CategoryDependencyVuln)})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(deps) != 2 {
		t.Errorf("category filter: total = %d", total)
	}

	// Duplicate finding_id within the same run violates the unique constraint.
	if err := s.InsertFindings(ctx, run.RunID, batch[:1]); err == nil {
		t.Error("duplicate finding_id in one run should be rejected")
	}
}

func TestRawOutputRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := newTestRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	payload := []byte(`{"matches":[]}`)
	if err := s.SaveRawOutput(ctx, run.RunID, "grype", payload); err != nil {
		t.Fatalf("SaveRawOutput: %v", err)
	}
	out, err := s.GetRawOutput(ctx, run.RunID, "grype")
	if err != nil {
		t.Fatalf("GetRawOutput: %v", err)
	}
	if string(out.RawOutput) != string(payload) {
		t.Errorf("raw output = %q", out.RawOutput)
	}
	tools, err := s.ListRawOutputTools(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0] != "grype" {
		t.Errorf("tools = %v", tools)
	}
	if _, err := s.GetRawOutput(ctx, run.RunID, "trivy"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing tool: err = %v", err)
	}
}

func TestPolicyVersioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Unstored default falls back to the built-in.
	def, err := s.GetPolicy(ctx, "default")
	if err != nil {
		t.Fatalf("GetPolicy default: %v", err)
	}
	if def.MaxHigh != 0 || def.WarnMedium != 10 {
		t.Errorf("built-in default = %+v", def)
	}

	p := &models.GatePolicy{Name: "release", MaxHigh: 2, WarnMedium: 20}
	if err := s.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("first save version = %d", p.Version)
	}

	p.MaxHigh = 0
	if err := s.SavePolicy(ctx, p); err != nil {
		t.Fatalf("revise: %v", err)
	}
	if p.Version != 2 {
		t.Errorf("revision should bump version, got %d", p.Version)
	}

	got, err := s.GetPolicy(ctx, "release")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.MaxHigh != 0 {
		t.Errorf("stored policy = %+v", got)
	}

	if _, err := s.GetPolicy(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown policy: err = %v", err)
	}
}

func TestOverrideAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := newTestRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	if err := s.AddOverride(ctx, &models.GateOverride{RunID: run.RunID, PolicyName: "default"}); err == nil {
		t.Error("override without actor and justification should be rejected")
	}
	o := &models.GateOverride{
		RunID: run.RunID, PolicyName: "default", PolicyVersion: 1,
		Actor: "release-bot", Justification: "hotfix window, tracked in INC-4411",
	}
	if err := s.AddOverride(ctx, o); err != nil {
		t.Fatalf("AddOverride: %v", err)
	}
	got, err := s.ListOverrides(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Actor != "release-bot" {
		t.Errorf("overrides = %+v", got)
	}
}

func TestLatestCompletedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mkCompleted := func(commit string) *models.SecurityRun {
		run := newTestRun()
		run.ResolvedCommit = commit
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		for _, st := range []models.RunStatus{models.RunQueued, models.RunRunning, models.RunCompleted} {
			if _, err := s.Transition(ctx, run.RunID, st, nil); err != nil {
				t.Fatal(err)
			}
		}
		return run
	}

	mkCompleted("aaa111")
	latest := mkCompleted("aaa111")

	got, err := s.LatestCompletedRun(ctx, "/srv/repos/payments", "aaa111", "")
	if err != nil {
		t.Fatalf("LatestCompletedRun: %v", err)
	}
	if got.RunID != latest.RunID {
		t.Errorf("latest = %s, want %s", got.RunID, latest.RunID)
	}

	if _, err := s.LatestCompletedRun(ctx, "/srv/repos/payments", "zzz999", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown commit: err = %v", err)
	}
}

func TestRetentionSweepSparesInFlight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := newTestRun()
	if err := s.CreateRun(ctx, old); err != nil {
		t.Fatal(err)
	}
	for _, st := range []models.RunStatus{models.RunQueued, models.RunRunning, models.RunCompleted} {
		if _, err := s.Transition(ctx, old.RunID, st, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertFindings(ctx, old.RunID, []models.Finding{{
		FindingID: "abc", Severity: models.SeverityLow, Category: models.CategoryCodeQuality,
	}}); err != nil {
		t.Fatal(err)
	}

	inflight := newTestRun()
	if err := s.CreateRun(ctx, inflight); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Transition(ctx, inflight.RunID, models.RunQueued, nil); err != nil {
		t.Fatal(err)
	}

	// Cutoff in the future: the terminal run qualifies, the queued one never does.
	n, err := s.PurgeOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if _, err := s.GetRun(ctx, old.RunID); !errors.Is(err, ErrNotFound) {
		t.Errorf("terminal run should be gone, err = %v", err)
	}
	if _, total, err := s.ListFindings(ctx, old.RunID, FindingFilter{}); err != nil || total != 0 {
		t.Errorf("findings should be purged with the run, total = %d err = %v", total, err)
	}
	if _, err := s.GetRun(ctx, inflight.RunID); err != nil {
		t.Errorf("in-flight run must survive the sweep: %v", err)
	}
}
