package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/store"
	"github.com/CosmoTheDev/scangate/models"
)

// Scheduler loads schedules from the store and registers them with
// robfig/cron. When a schedule fires it submits a run for the schedule's
// target and records last_run_at. It also owns the retention sweep entry.
type Scheduler struct {
	store     *store.Store
	retention config.RetentionConfig
	cron      *cron.Cron
	triggerFn func(models.Schedule)
	broadcast func(SSEEvent)

	mu      sync.Mutex
	entries map[int64]cron.EntryID // schedule DB id -> cron entry id
}

func newScheduler(st *store.Store, retention config.RetentionConfig, triggerFn func(models.Schedule), broadcast func(SSEEvent)) *Scheduler {
	return &Scheduler{
		store:     st,
		retention: retention,
		cron:      cron.New(),
		triggerFn: triggerFn,
		broadcast: broadcast,
		entries:   make(map[int64]cron.EntryID),
	}
}

// Start loads all enabled schedules, registers the retention sweep and
// starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}
	registered := 0
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: skipping schedule with invalid expression",
				"id", sched.ID, "name", sched.Name, "expr", sched.Expr, "error", err)
			continue
		}
		registered++
	}

	sweepExpr := s.retention.SweepExpr
	if sweepExpr == "" {
		sweepExpr = "@daily"
	}
	if _, err := s.cron.AddFunc(sweepExpr, func() {
		s.store.RunSweep(context.Background(), s.retention.Days)
	}); err != nil {
		return fmt.Errorf("invalid retention sweep expression %q: %w", sweepExpr, err)
	}

	s.cron.Start()
	slog.Info("Scheduler started", "schedules_loaded", registered, "sweep", sweepExpr)
	return nil
}

// Stop halts the cron runner gracefully.
func (s *Scheduler) Stop() { s.cron.Stop() }

// register adds a schedule to the running cron instance.
func (s *Scheduler) register(sched models.Schedule) error {
	entryID, err := s.cron.AddFunc(sched.Expr, func() {
		s.fire(sched)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Expr, err)
	}
	s.mu.Lock()
	s.entries[sched.ID] = entryID
	s.mu.Unlock()
	return nil
}

// unregister removes a schedule from the running cron instance.
func (s *Scheduler) unregister(id int64) {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

// fire triggers one schedule: submits the run and stamps last_run_at.
func (s *Scheduler) fire(sched models.Schedule) {
	slog.Info("Schedule fired", "id", sched.ID, "name", sched.Name, "repo", sched.RepositoryPath)
	s.triggerFn(sched)
	if err := s.store.MarkScheduleRan(context.Background(), sched.ID); err != nil {
		slog.Warn("scheduler: failed to stamp last_run_at", "id", sched.ID, "error", err)
	}
	if s.broadcast != nil {
		s.broadcast(SSEEvent{Type: "schedule.fired", Payload: map[string]any{
			"id": sched.ID, "name": sched.Name,
		}})
	}
}

// validateExpr checks that expr is parseable by robfig/cron without adding it
// permanently to any runner.
func validateExpr(expr string) error {
	tmp := cron.New()
	id, err := tmp.AddFunc(expr, func() {})
	if err != nil {
		return err
	}
	tmp.Remove(id)
	return nil
}

// Add validates, persists, and registers a new schedule.
func (s *Scheduler) Add(ctx context.Context, sched *models.Schedule) error {
	if err := validateExpr(sched.Expr); err != nil {
		return fmt.Errorf("invalid schedule expression %q: %w", sched.Expr, err)
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return err
	}
	if sched.Enabled {
		if err := s.register(*sched); err != nil {
			slog.Warn("scheduler: persisted but could not register schedule",
				"id", sched.ID, "error", err)
		}
	}
	return nil
}

// Delete unregisters and removes a schedule.
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	s.unregister(id)
	return s.store.DeleteSchedule(ctx, id)
}
