// Package store persists security runs, findings and gate records over the
// database layer. Mutations to a given run are serialized per run_id; writes
// across different runs proceed independently.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal run state transition")
)

// Store wraps the database with run-oriented operations.
type Store struct {
	db database.DB

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

func New(db database.DB) *Store {
	return &Store{db: db, runLocks: make(map[string]*sync.Mutex)}
}

// lockRun returns the mutex serializing writes to one run record.
func (s *Store) lockRun(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.runLocks[runID] = l
	}
	return l
}

func (s *Store) releaseRunLock(runID string) {
	s.mu.Lock()
	delete(s.runLocks, runID)
	s.mu.Unlock()
}

type countRow struct {
	N int `db:"n"`
}

// --- runs ---

// CreateRun persists a new run record. The run must be in pending state.
func (s *Store) CreateRun(ctx context.Context, run *models.SecurityRun) error {
	if run.RunID == "" {
		run.RunID = models.NewRunID()
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.ToolsResolved == "" {
		run.ToolsResolved = models.EncodeStringList(nil)
	}
	if run.ToolsExecuted == "" {
		run.ToolsExecuted = models.EncodeStringList(nil)
	}
	id, err := s.db.Insert(ctx, "security_runs", run)
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	run.ID = id
	return nil
}

const runColumns = `id, run_id, repository_path, commit_ref, branch, resolved_commit,
	profile, status, tools_resolved, tools_executed,
	findings_critical, findings_high, findings_medium, findings_low, findings_info,
	gate_status, gate_reason, error_msg, created_at, started_at, completed_at`

// GetRun fetches one run by its opaque id.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.SecurityRun, error) {
	var run models.SecurityRun
	err := s.db.Get(ctx, &run,
		`SELECT `+runColumns+` FROM security_runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}
	return &run, nil
}

// RunFilter narrows ListRuns. Zero values mean "any".
type RunFilter struct {
	Status         string
	Profile        string
	RepositoryPath string
	Limit          int
	Offset         int
}

// ListRuns returns runs newest-first plus the unpaginated total.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]models.SecurityRun, int, error) {
	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Profile != "" {
		where = append(where, "profile = ?")
		args = append(args, f.Profile)
	}
	if f.RepositoryPath != "" {
		where = append(where, "repository_path = ?")
		args = append(args, f.RepositoryPath)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total countRow
	if err := s.db.Get(ctx, &total, `SELECT COUNT(*) AS n FROM security_runs`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var runs []models.SecurityRun
	query := `SELECT ` + runColumns + ` FROM security_runs` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	if err := s.db.Select(ctx, &runs, query, append(args, limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}
	return runs, total.N, nil
}

// Transition moves a run to next under the run's write lock. mutate (optional)
// edits the record after the legality check and before persisting, so status,
// timestamps and tool lists change atomically with the transition. Terminal
// runs reject every transition.
func (s *Store) Transition(ctx context.Context, runID string, next models.RunStatus, mutate func(*models.SecurityRun)) (*models.SecurityRun, error) {
	l := s.lockRun(runID)
	l.Lock()
	defer l.Unlock()

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s for run %s", ErrIllegalTransition, run.Status, next, runID)
	}

	now := time.Now().UTC()
	run.Status = next
	switch next {
	case models.RunRunning:
		run.StartedAt = &now
	case models.RunCompleted, models.RunFailed, models.RunTimeout, models.RunCancelled:
		run.CompletedAt = &now
	}
	if mutate != nil {
		mutate(run)
	}

	if err := s.db.Update(ctx, "security_runs", run, "run_id = ?", runID); err != nil {
		return nil, fmt.Errorf("persisting transition of run %s: %w", runID, err)
	}
	if next.Terminal() {
		s.releaseRunLock(runID)
	}
	return run, nil
}

// DeleteRun removes a terminal run and everything owned by it.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("run %s is %s; only terminal runs can be deleted", runID, run.Status)
	}
	return s.purgeRun(ctx, runID)
}

func (s *Store) purgeRun(ctx context.Context, runID string) error {
	if err := s.db.Exec(ctx, `DELETE FROM findings WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting findings of run %s: %w", runID, err)
	}
	if err := s.db.Exec(ctx, `DELETE FROM run_raw_outputs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting raw outputs of run %s: %w", runID, err)
	}
	if err := s.db.Exec(ctx, `DELETE FROM gate_overrides WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting overrides of run %s: %w", runID, err)
	}
	if err := s.db.Exec(ctx, `DELETE FROM security_runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting run %s: %w", runID, err)
	}
	return nil
}

// LatestCompletedRun returns the most recent completed run for a target,
// matched by resolved commit when given, otherwise by branch. Returns
// ErrNotFound when no completed run exists.
func (s *Store) LatestCompletedRun(ctx context.Context, repositoryPath, resolvedCommit, branch string) (*models.SecurityRun, error) {
	where := "repository_path = ? AND status = ?"
	args := []interface{}{repositoryPath, models.RunCompleted}
	if resolvedCommit != "" {
		where += " AND resolved_commit = ?"
		args = append(args, resolvedCommit)
	} else if branch != "" {
		where += " AND branch = ?"
		args = append(args, branch)
	}

	var run models.SecurityRun
	err := s.db.Get(ctx, &run,
		`SELECT `+runColumns+` FROM security_runs WHERE `+where+
			` ORDER BY completed_at DESC, id DESC LIMIT 1`, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest completed run: %w", err)
	}
	return &run, nil
}

// --- findings ---

// InsertFindings persists the deduplicated finding set of a run in one batch.
// Records are never mutated after this point.
func (s *Store) InsertFindings(ctx context.Context, runID string, findings []models.Finding) error {
	now := time.Now().UTC()
	for i := range findings {
		f := &findings[i]
		f.RunID = runID
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if _, err := s.db.Insert(ctx, "findings", f); err != nil {
			return fmt.Errorf("inserting finding %s of run %s: %w", f.FindingID, runID, err)
		}
	}
	return nil
}

// FindingFilter narrows ListFindings. Zero values mean "any".
type FindingFilter struct {
	Severity string
	Category string
	Limit    int
	Offset   int
}

// ListFindings returns a run's findings ordered most severe first, plus the
// unpaginated total.
func (s *Store) ListFindings(ctx context.Context, runID string, f FindingFilter) ([]models.Finding, int, error) {
	where := []string{"run_id = ?"}
	args := []interface{}{runID}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total countRow
	if err := s.db.Get(ctx, &total, `SELECT COUNT(*) AS n FROM findings`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("counting findings: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []models.Finding
	query := `SELECT id, run_id, finding_id, severity, category, needs_review,
		rule_id, title, description, affected_component, remediation,
		file_path, line_number, tool_source, created_at
		FROM findings` + clause + `
		ORDER BY CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2
			WHEN 'low' THEN 3 ELSE 4 END, id
		LIMIT ? OFFSET ?`
	if err := s.db.Select(ctx, &out, query, append(args, limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("listing findings: %w", err)
	}
	return out, total.N, nil
}

// --- raw tool outputs ---

// RawOutput is one tool's unparsed output retained for a run.
type RawOutput struct {
	ID          int64     `json:"id"           db:"id"`
	RunID       string    `json:"run_id"       db:"run_id"`
	Tool        string    `json:"tool"         db:"tool"`
	ContentType string    `json:"content_type" db:"content_type"`
	RawOutput   []byte    `json:"-"            db:"raw_output"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}

// SaveRawOutput retains one tool's raw output for later inspection.
func (s *Store) SaveRawOutput(ctx context.Context, runID, tool string, data []byte) error {
	rec := RawOutput{
		RunID:       runID,
		Tool:        tool,
		ContentType: "application/json",
		RawOutput:   data,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.Insert(ctx, "run_raw_outputs", &rec); err != nil {
		return fmt.Errorf("saving raw output of %s for run %s: %w", tool, runID, err)
	}
	return nil
}

// GetRawOutput fetches one tool's retained raw output for a run.
func (s *Store) GetRawOutput(ctx context.Context, runID, tool string) (*RawOutput, error) {
	var out RawOutput
	err := s.db.Get(ctx, &out,
		`SELECT id, run_id, tool, content_type, raw_output, created_at
		 FROM run_raw_outputs WHERE run_id = ? AND tool = ?`, runID, tool)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching raw output: %w", err)
	}
	return &out, nil
}

// ListRawOutputTools names the tools with retained output for a run.
func (s *Store) ListRawOutputTools(ctx context.Context, runID string) ([]string, error) {
	type toolRow struct {
		Tool string `db:"tool"`
	}
	var rows []toolRow
	if err := s.db.Select(ctx, &rows,
		`SELECT tool FROM run_raw_outputs WHERE run_id = ? ORDER BY tool`, runID); err != nil {
		return nil, fmt.Errorf("listing raw outputs: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Tool)
	}
	return out, nil
}

// --- gate policies and overrides ---

// GetPolicy fetches a policy by name. The name "default" falls back to the
// built-in default when no stored policy shadows it.
func (s *Store) GetPolicy(ctx context.Context, name string) (*models.GatePolicy, error) {
	var p models.GatePolicy
	err := s.db.Get(ctx, &p,
		`SELECT id, name, version, max_high, warn_medium, require_recent_run,
		 max_run_age_hours, require_profile, allow_override, updated_at
		 FROM gate_policies WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		if name == "default" || name == "" {
			def := models.DefaultGatePolicy()
			return &def, nil
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching policy %q: %w", name, err)
	}
	return &p, nil
}

// ListPolicies returns all stored policies by name.
func (s *Store) ListPolicies(ctx context.Context) ([]models.GatePolicy, error) {
	var out []models.GatePolicy
	err := s.db.Select(ctx, &out,
		`SELECT id, name, version, max_high, warn_medium, require_recent_run,
		 max_run_age_hours, require_profile, allow_override, updated_at
		 FROM gate_policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	return out, nil
}

// SavePolicy creates or revises a named policy. An edit bumps the version so
// prior verdicts still reference the exact configuration they were computed
// against.
func (s *Store) SavePolicy(ctx context.Context, p *models.GatePolicy) error {
	p.UpdatedAt = time.Now().UTC()
	existing, err := s.GetPolicy(ctx, p.Name)
	if err == nil && existing.ID != 0 {
		p.ID = existing.ID
		p.Version = existing.Version + 1
		if err := s.db.Update(ctx, "gate_policies", p, "name = ?", p.Name); err != nil {
			return fmt.Errorf("revising policy %q: %w", p.Name, err)
		}
		return nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	p.Version = 1
	id, err := s.db.Insert(ctx, "gate_policies", p)
	if err != nil {
		return fmt.Errorf("creating policy %q: %w", p.Name, err)
	}
	p.ID = id
	return nil
}

// AddOverride records an audited gate override. Append-only; the original
// verdict on the run is never touched.
func (s *Store) AddOverride(ctx context.Context, o *models.GateOverride) error {
	if o.Actor == "" || o.Justification == "" {
		return errors.New("override requires actor and justification")
	}
	o.CreatedAt = time.Now().UTC()
	id, err := s.db.Insert(ctx, "gate_overrides", o)
	if err != nil {
		return fmt.Errorf("recording override for run %s: %w", o.RunID, err)
	}
	o.ID = id
	return nil
}

// ListOverrides returns the override audit trail for a run, oldest first.
func (s *Store) ListOverrides(ctx context.Context, runID string) ([]models.GateOverride, error) {
	var out []models.GateOverride
	err := s.db.Select(ctx, &out,
		`SELECT id, run_id, policy_name, policy_version, actor, justification, created_at
		 FROM gate_overrides WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	return out, nil
}

// --- schedules ---

func (s *Store) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var out []models.Schedule
	err := s.db.Select(ctx, &out,
		`SELECT id, name, expr, repository_path, commit_ref, branch, profile,
		 enabled, last_run_at, created_at, updated_at
		 FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	return out, nil
}

func (s *Store) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	now := time.Now().UTC().Format(time.RFC3339)
	sc.CreatedAt = now
	sc.UpdatedAt = now
	id, err := s.db.Insert(ctx, "schedules", sc)
	if err != nil {
		return fmt.Errorf("creating schedule %q: %w", sc.Name, err)
	}
	sc.ID = id
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	sc.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := s.db.Update(ctx, "schedules", sc, "id = ?", sc.ID); err != nil {
		return fmt.Errorf("updating schedule %d: %w", sc.ID, err)
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	if err := s.db.Exec(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting schedule %d: %w", id, err)
	}
	return nil
}

// MarkScheduleRan stamps the schedule's last trigger time.
func (s *Store) MarkScheduleRan(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.db.Exec(ctx, `UPDATE schedules SET last_run_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
}
