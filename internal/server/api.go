package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/scangate/internal/orchestrator"
	"github.com/CosmoTheDev/scangate/internal/profiles"
	"github.com/CosmoTheDev/scangate/internal/store"
	"github.com/CosmoTheDev/scangate/models"
)

// buildHandler wires all routes. Split out from Start so tests can drive the
// API with httptest without binding a port.
func buildHandler(s *Server) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	// Security runs
	mux.HandleFunc("POST /api/security/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/security/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/security/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/security/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/security/runs/{id}/findings", s.handleListRunFindings)
	mux.HandleFunc("GET /api/security/runs/{id}/raw/{tool}", s.handleGetRunRaw)
	mux.HandleFunc("GET /api/security/runs/{id}/overrides", s.handleListRunOverrides)

	// Gate
	mux.HandleFunc("GET /api/gate/policies", s.handleListPolicies)
	mux.HandleFunc("POST /api/gate/policies", s.handleSavePolicy)
	mux.HandleFunc("GET /api/gate/policies/{name}", s.handleGetPolicy)
	mux.HandleFunc("POST /api/gate/evaluate", s.handleEvaluateGate)
	mux.HandleFunc("POST /api/gate/overrides", s.handleCreateOverride)

	// Profiles
	mux.HandleFunc("GET /api/profiles", s.handleListProfiles)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/trigger", s.handleTriggerSchedule)

	// Live event stream
	mux.HandleFunc("GET /events", s.handleEvents)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus(r.Context()))
}

// --- runs ---

type createRunRequest struct {
	RepositoryPath string `json:"repository_path"`
	CommitRef      string `json:"commit_ref"`
	Branch         string `json:"branch"`
	Profile        string `json:"profile"`
	TimeoutSec     int    `json:"timeout_sec"`
	Policy         string `json:"policy"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	run, err := s.orch.Submit(r.Context(), orchestrator.SubmitRequest{
		Target: models.RunTarget{
			RepositoryPath: req.RepositoryPath,
			CommitRef:      req.CommitRef,
			Branch:         req.Branch,
		},
		Profile:    req.Profile,
		TimeoutSec: req.TimeoutSec,
		PolicyName: req.Policy,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidTarget) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	p := parsePaginationParams(r, 50, 500)
	q := r.URL.Query()
	runs, total, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status:         strings.TrimSpace(q.Get("status")),
		Profile:        strings.TrimSpace(q.Get("profile")),
		RepositoryPath: strings.TrimSpace(q.Get("target")),
		Limit:          p.PageSize,
		Offset:         p.Offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, paginate(runs, total, p))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleDeleteRun cancels a non-terminal run, or deletes a terminal one.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !run.Status.Terminal() {
		if err := s.orch.Cancel(r.Context(), runID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "cancelled": true})
		return
	}

	if err := s.store.DeleteRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "deleted": true})
}

func (s *Server) handleListRunFindings(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.store.GetRun(r.Context(), runID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	p := parsePaginationParams(r, 100, 1000)
	q := r.URL.Query()
	findings, total, err := s.store.ListFindings(r.Context(), runID, store.FindingFilter{
		Severity: strings.TrimSpace(q.Get("severity")),
		Category: strings.TrimSpace(q.Get("category")),
		Limit:    p.PageSize,
		Offset:   p.Offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, paginate(findings, total, p))
}

func (s *Server) handleGetRunRaw(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.GetRawOutput(r.Context(), r.PathValue("id"), r.PathValue("tool"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no raw output retained for this tool")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.RawOutput)
}

func (s *Server) handleListRunOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.store.ListOverrides(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if overrides == nil {
		overrides = []models.GateOverride{}
	}
	writeJSON(w, http.StatusOK, overrides)
}

// --- gate ---

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if policies == nil {
		policies = []models.GatePolicy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.store.GetPolicy(r.Context(), r.PathValue("name"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleSavePolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.GatePolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	policy.Name = strings.TrimSpace(policy.Name)
	if policy.Name == "" {
		writeError(w, http.StatusBadRequest, "policy name is required")
		return
	}
	if policy.MaxHigh < 0 || policy.WarnMedium < 0 {
		writeError(w, http.StatusBadRequest, "thresholds must be non-negative")
		return
	}
	if policy.RequireProfile != "" && profiles.DepthOf(policy.RequireProfile) == profiles.DepthUnknown {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown profile depth %q", policy.RequireProfile))
		return
	}
	if policy.RequireRecentRun && policy.MaxRunAgeHours <= 0 {
		writeError(w, http.StatusBadRequest, "require_recent_run needs a positive max_run_age_hours")
		return
	}
	if err := s.store.SavePolicy(r.Context(), &policy); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

type evaluateRequest struct {
	RunID          string `json:"run_id"`
	RepositoryPath string `json:"repository_path"`
	CommitRef      string `json:"commit_ref"`
	Branch         string `json:"branch"`
	Policy         string `json:"policy"`
}

// handleEvaluateGate evaluates a policy either against a named run or
// against the latest completed run for a target.
func (s *Server) handleEvaluateGate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RunID == "" {
		if req.RepositoryPath == "" {
			writeError(w, http.StatusBadRequest, "run_id or repository_path is required")
			return
		}
		latest, err := s.store.LatestCompletedRun(r.Context(), req.RepositoryPath, req.CommitRef, req.Branch)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no completed run for target")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		req.RunID = latest.RunID
	}
	verdict, run, err := s.orch.EvaluateRun(r.Context(), req.RunID, req.Policy)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run or policy not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      run.RunID,
		"gate_status": verdict.Status,
		"gate_reason": verdict.Reason,
		"summary":     run.Summary(),
	})
}

type overrideRequest struct {
	RunID         string `json:"run_id"`
	PolicyName    string `json:"policy_name"`
	Actor         string `json:"actor"`
	Justification string `json:"justification"`
}

// handleCreateOverride records an audited exception to a failed verdict.
// The policy must allow overrides; the run's stored verdict is untouched.
func (s *Server) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Actor) == "" || strings.TrimSpace(req.Justification) == "" {
		writeError(w, http.StatusBadRequest, "actor and justification are required")
		return
	}

	run, err := s.store.GetRun(r.Context(), req.RunID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run.GateStatus != models.GateFailed {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("run gate is %q; overrides apply to failed verdicts only", run.GateStatus))
		return
	}

	policyName := req.PolicyName
	if policyName == "" {
		policyName = "default"
	}
	policy, err := s.store.GetPolicy(r.Context(), policyName)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !policy.AllowOverride {
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("policy %q does not allow overrides", policy.Name))
		return
	}

	o := &models.GateOverride{
		RunID:         run.RunID,
		PolicyName:    policy.Name,
		PolicyVersion: policy.Version,
		Actor:         req.Actor,
		Justification: req.Justification,
	}
	if err := s.store.AddOverride(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.broadcaster.send(SSEEvent{Type: "gate.overridden", Payload: o})
	writeJSON(w, http.StatusCreated, o)
}

// --- profiles ---

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := profiles.List(profiles.DefaultDir())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- schedules ---

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sched.Name = strings.TrimSpace(sched.Name)
	if sched.Name == "" || strings.TrimSpace(sched.Expr) == "" || strings.TrimSpace(sched.RepositoryPath) == "" {
		writeError(w, http.StatusBadRequest, "name, expr and repository_path are required")
		return
	}
	if sched.Profile == "" {
		sched.Profile = "standard"
	}
	if err := s.scheduler.Add(r.Context(), &sched); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, sched := range schedules {
		if sched.ID == id {
			s.scheduler.fire(sched)
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "triggered": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "schedule not found")
}

// --- SSE ---

// handleEvents streams named SSE frames to the client. Clients receive a
// "connected" event immediately, then live updates; ?run_id= narrows the
// stream to one run's lifecycle.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	sub := s.broadcaster.subscribe(r.URL.Query().Get("run_id"))
	defer s.broadcaster.unsubscribe(sub)

	if connected, err := sseFrame(SSEEvent{Type: "connected", Payload: s.currentStatus(r.Context())}); err == nil {
		_, _ = w.Write(connected)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
