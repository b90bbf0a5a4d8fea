package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/scangate/internal/adapter"
	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/models"
)

type stubAdapter struct {
	name   string
	stdout []byte
}

func (f *stubAdapter) Name() string                               { return f.name }
func (f *stubAdapter) Kind() adapter.Kind                         { return adapter.KindSCA }
func (f *stubAdapter) DockerImage() string                        { return "" }
func (f *stubAdapter) IsAvailableLocal(ctx context.Context) bool  { return true }
func (f *stubAdapter) IsAvailableDocker(ctx context.Context) bool { return false }
func (f *stubAdapter) NeedsWritableCopy() bool                    { return false }

func (f *stubAdapter) Launch(ctx context.Context, target adapter.Target, timeout time.Duration) (*adapter.RawResult, error) {
	return &adapter.RawResult{Tool: f.name, Kind: adapter.KindSCA, Stdout: f.stdout}, nil
}

const grypeHighFinding = `{
	"matches": [
		{
			"vulnerability": {"id": "CVE-2025-7777", "severity": "High", "description": "rce"},
			"artifact": {"name": "liby", "version": "3.1", "locations": [{"path": "go.sum"}]}
		}
	]
}`

func newTestServer(t *testing.T) (*Server, http.Handler, string) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "scangate_test.db")
	cfg.Runs.MaxConcurrentRuns = 2
	cfg.Runs.DefaultFanout = 4
	cfg.Runs.RunTimeoutSec = 30
	cfg.Runs.AdapterTimeoutSec = 10

	db, err := database.New(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := New(cfg, db)
	s.Orchestrator().SetAdapterBuilder(func(names []string, binDir string) []adapter.Adapter {
		out := make([]adapter.Adapter, 0, len(names))
		for _, n := range names {
			payload := []byte("")
			if n == "grype" {
				payload = []byte(grypeHighFinding)
			}
			out = append(out, &stubAdapter{name: n, stdout: payload})
		}
		return out
	})

	return s, buildHandler(s), t.TempDir()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func submitAndWait(t *testing.T, s *Server, h http.Handler, repoDir string) models.SecurityRun {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/api/security/runs",
		`{"repository_path":"`+repoDir+`","profile":"quick"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create run: %d %s", rr.Code, rr.Body.String())
	}
	var run models.SecurityRun
	if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.store.GetRun(context.Background(), run.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status.Terminal() {
			return *got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal state")
	return models.SecurityRun{}
}

func TestCreateRunEndToEnd(t *testing.T) {
	s, h, repoDir := newTestServer(t)

	run := submitAndWait(t, s, h, repoDir)
	if run.Status != models.RunCompleted {
		t.Fatalf("status = %s (%s)", run.Status, run.ErrorMsg)
	}
	if run.FindingsHigh != 1 {
		t.Errorf("findings_high = %d, want 1", run.FindingsHigh)
	}
	if run.GateStatus != models.GateFailed {
		t.Errorf("gate = %s, want failed under default policy", run.GateStatus)
	}

	rr := doJSON(t, h, http.MethodGet, "/api/security/runs/"+run.RunID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get run: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/security/runs/"+run.RunID+"/findings", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list findings: %d %s", rr.Code, rr.Body.String())
	}
	var page struct {
		Items []models.Finding `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].RuleID != "CVE-2025-7777" {
		t.Errorf("findings page = %+v", page)
	}

	// Raw output retained per tool.
	rr = doJSON(t, h, http.MethodGet, "/api/security/runs/"+run.RunID+"/raw/grype", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "CVE-2025-7777") {
		t.Errorf("raw output: %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateRunInvalidTarget(t *testing.T) {
	_, h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodPost, "/api/security/runs",
		`{"repository_path":"relative/nope"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetRunNotFound(t *testing.T) {
	_, h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodGet, "/api/security/runs/run_missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteTerminalRun(t *testing.T) {
	s, h, repoDir := newTestServer(t)
	run := submitAndWait(t, s, h, repoDir)

	rr := doJSON(t, h, http.MethodDelete, "/api/security/runs/"+run.RunID, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "deleted") {
		t.Fatalf("delete: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, h, http.MethodGet, "/api/security/runs/"+run.RunID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("run should be gone, got %d", rr.Code)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/api/gate/policies",
		`{"name":"release","max_high":0,"warn_medium":5,"allow_override":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("save policy: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/gate/policies/release", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get policy: %d", rr.Code)
	}
	var p models.GatePolicy
	if err := json.NewDecoder(rr.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Version != 1 || !p.AllowOverride {
		t.Errorf("policy = %+v", p)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/gate/policies/absent", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown policy: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/gate/policies",
		`{"name":"bad","require_profile":"extreme"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid depth should 400, got %d", rr.Code)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	s, h, repoDir := newTestServer(t)
	run := submitAndWait(t, s, h, repoDir)

	rr := doJSON(t, h, http.MethodPost, "/api/gate/evaluate",
		`{"run_id":"`+run.RunID+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluate: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		GateStatus string `json:"gate_status"`
		GateReason string `json:"gate_reason"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.GateStatus != models.GateFailed || !strings.Contains(resp.GateReason, "1 HIGH") {
		t.Errorf("verdict = %+v", resp)
	}

	// Target-based evaluation resolves the latest completed run.
	rr = doJSON(t, h, http.MethodPost, "/api/gate/evaluate",
		`{"repository_path":"`+repoDir+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluate by target: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), run.RunID) {
		t.Errorf("expected latest run %s in response, got %s", run.RunID, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/api/gate/evaluate",
		`{"repository_path":"/nowhere/else"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("evaluate with no completed run: %d", rr.Code)
	}
}

func TestOverrideFlow(t *testing.T) {
	s, h, repoDir := newTestServer(t)
	run := submitAndWait(t, s, h, repoDir)

	// Default policy does not allow overrides.
	rr := doJSON(t, h, http.MethodPost, "/api/gate/overrides",
		`{"run_id":"`+run.RunID+`","actor":"alice","justification":"hotfix"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("override under default policy: %d %s", rr.Code, rr.Body.String())
	}

	doJSON(t, h, http.MethodPost, "/api/gate/policies",
		`{"name":"waiver","allow_override":true}`)
	rr = doJSON(t, h, http.MethodPost, "/api/gate/overrides",
		`{"run_id":"`+run.RunID+`","policy_name":"waiver","actor":"alice","justification":"hotfix INC-1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("override: %d %s", rr.Code, rr.Body.String())
	}

	// The stored verdict is untouched; the override is an audit record.
	got, _ := s.store.GetRun(context.Background(), run.RunID)
	if got.GateStatus != models.GateFailed {
		t.Errorf("verdict mutated to %s", got.GateStatus)
	}
	rr = doJSON(t, h, http.MethodGet, "/api/security/runs/"+run.RunID+"/overrides", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "alice") {
		t.Errorf("overrides list: %d %s", rr.Code, rr.Body.String())
	}
}

func TestScheduleEndpoints(t *testing.T) {
	_, h, repoDir := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/api/schedules",
		`{"name":"nightly","expr":"not a cron","repository_path":"`+repoDir+`"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid expr should 400, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/schedules",
		`{"name":"nightly","expr":"@daily","repository_path":"`+repoDir+`","enabled":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create schedule: %d %s", rr.Code, rr.Body.String())
	}
	var sched models.Schedule
	if err := json.NewDecoder(rr.Body).Decode(&sched); err != nil {
		t.Fatal(err)
	}
	if sched.Profile != "standard" {
		t.Errorf("default profile = %q", sched.Profile)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/schedules", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "nightly") {
		t.Fatalf("list schedules: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodDelete, "/api/schedules/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete schedule: %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthAndStatus(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.MaxConcurrent != 2 {
		t.Errorf("status = %+v", st)
	}
}
