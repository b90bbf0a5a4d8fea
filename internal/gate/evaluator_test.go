package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/scangate/models"
)

func completedInput(sum models.FindingsSummary) Input {
	return Input{
		Summary:       sum,
		Status:        models.RunCompleted,
		Profile:       "standard",
		ToolsExecuted: 4,
		Now:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateDefaultPolicyPasses(t *testing.T) {
	// 0 critical, 0 high, 5 medium under the default warn threshold of 10.
	v := Evaluate(completedInput(models.FindingsSummary{Medium: 5}), models.DefaultGatePolicy())
	if v.Status != models.GatePassed {
		t.Fatalf("status = %s (%s), want passed", v.Status, v.Reason)
	}
}

func TestEvaluateHighOverThreshold(t *testing.T) {
	v := Evaluate(completedInput(models.FindingsSummary{High: 1}), models.DefaultGatePolicy())
	if v.Status != models.GateFailed {
		t.Fatalf("status = %s, want failed", v.Status)
	}
	if !strings.Contains(v.Reason, "1 HIGH") || !strings.Contains(v.Reason, "exceeds") || !strings.Contains(v.Reason, "0") {
		t.Errorf("reason should name the count and threshold, got %q", v.Reason)
	}
}

func TestEvaluateCriticalAlwaysBlocks(t *testing.T) {
	// A permissive policy cannot unblock critical findings.
	permissive := models.GatePolicy{Name: "lenient", Version: 3, MaxHigh: 100, WarnMedium: 100}
	v := Evaluate(completedInput(models.FindingsSummary{Critical: 1}), permissive)
	if v.Status != models.GateFailed {
		t.Fatalf("status = %s, want failed", v.Status)
	}
	if !strings.Contains(v.Reason, "CRITICAL") {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestEvaluateMediumWarning(t *testing.T) {
	v := Evaluate(completedInput(models.FindingsSummary{Medium: 11}), models.DefaultGatePolicy())
	if v.Status != models.GateWarning {
		t.Fatalf("status = %s, want warning", v.Status)
	}
}

func TestEvaluateTimeoutInconclusive(t *testing.T) {
	in := completedInput(models.FindingsSummary{})
	in.Status = models.RunTimeout
	v := Evaluate(in, models.DefaultGatePolicy())
	if v.Status != models.GateInconclusive {
		t.Fatalf("timed-out run must be inconclusive, got %s", v.Status)
	}
}

func TestEvaluateNonCompletedInconclusive(t *testing.T) {
	// A cancelled run keeps the tools that finished before the cancel in
	// ToolsExecuted and a zero summary; it must never read as a pass.
	for _, status := range []models.RunStatus{models.RunCancelled, models.RunFailed} {
		in := completedInput(models.FindingsSummary{})
		in.Status = status
		v := Evaluate(in, models.DefaultGatePolicy())
		if v.Status != models.GateInconclusive {
			t.Errorf("%s run must be inconclusive, got %s", status, v.Status)
		}
		if !strings.Contains(v.Reason, string(status)) {
			t.Errorf("%s run: reason = %q", status, v.Reason)
		}
	}
}

func TestEvaluateZeroToolsInconclusive(t *testing.T) {
	in := completedInput(models.FindingsSummary{})
	in.ToolsExecuted = 0
	v := Evaluate(in, models.DefaultGatePolicy())
	if v.Status != models.GateInconclusive {
		t.Fatalf("empty scan must never read as a clean pass, got %s", v.Status)
	}
	if !strings.Contains(v.Reason, "zero tools") {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestEvaluateRecentRunRequired(t *testing.T) {
	policy := models.DefaultGatePolicy()
	policy.RequireRecentRun = true
	policy.MaxRunAgeHours = 24

	in := completedInput(models.FindingsSummary{})
	v := Evaluate(in, policy)
	if v.Status != models.GateFailed || !strings.Contains(v.Reason, "no recent qualifying run") {
		t.Fatalf("missing recent run: got (%s, %q)", v.Status, v.Reason)
	}

	stale := in.Now.Add(-48 * time.Hour)
	in.RecentRunAt = &stale
	v = Evaluate(in, policy)
	if v.Status != models.GateFailed {
		t.Fatalf("stale run should fail freshness, got %s", v.Status)
	}

	fresh := in.Now.Add(-2 * time.Hour)
	in.RecentRunAt = &fresh
	v = Evaluate(in, policy)
	if v.Status != models.GatePassed {
		t.Fatalf("fresh run should pass, got (%s, %q)", v.Status, v.Reason)
	}
}

func TestEvaluateProfileDepth(t *testing.T) {
	policy := models.DefaultGatePolicy()
	policy.RequireProfile = "standard"

	in := completedInput(models.FindingsSummary{})
	in.Profile = "quick"
	v := Evaluate(in, policy)
	if v.Status != models.GateFailed || !strings.Contains(v.Reason, "profile below required depth") {
		t.Fatalf("quick < standard should fail: got (%s, %q)", v.Status, v.Reason)
	}

	in.Profile = "deep"
	if v := Evaluate(in, policy); v.Status != models.GatePassed {
		t.Fatalf("deep >= standard should pass, got %s", v.Status)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	in := completedInput(models.FindingsSummary{High: 2, Medium: 30})
	policy := models.DefaultGatePolicy()
	first := Evaluate(in, policy)
	second := Evaluate(in, policy)
	if first != second {
		t.Fatalf("evaluation not reproducible: %+v vs %+v", first, second)
	}
}
