// Package server is the long-running scangate daemon: the run orchestrator,
// a cron scheduler for recurring scans and retention, and a REST + SSE HTTP
// control plane bound to localhost.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/internal/notify"
	"github.com/CosmoTheDev/scangate/internal/orchestrator"
	"github.com/CosmoTheDev/scangate/internal/store"
	"github.com/CosmoTheDev/scangate/models"
)

// Server wires the orchestrator, store, scheduler and HTTP API together.
type Server struct {
	cfg         *config.Config
	db          database.DB
	store       *store.Store
	orch        *orchestrator.Orchestrator
	scheduler   *Scheduler
	broadcaster *Broadcaster

	mu        sync.RWMutex
	running   bool
	lastRunAt string
	startedAt time.Time
}

// New creates a Server. Call Start() to begin serving.
func New(cfg *config.Config, db database.DB) *Server {
	b := newBroadcaster()
	st := store.New(db)

	orch := orchestrator.New(st, cfg)
	orch.SetEventFunc(func(event string, payload interface{}) {
		b.send(SSEEvent{Type: event, Payload: payload})
	})
	dispatcher := notify.NewDispatcher(cfg.Notify)
	if dispatcher.IsAnyConfigured() {
		orch.SetNotifier(dispatcher)
	}

	s := &Server{
		cfg:         cfg,
		db:          db,
		store:       st,
		orch:        orch,
		broadcaster: b,
		startedAt:   time.Now(),
	}
	s.scheduler = newScheduler(st, cfg.Retention, s.triggerSchedule, b.send)
	return s
}

// Store exposes the run store (used by the CLI when embedding the server).
func (s *Server) Store() *store.Store { return s.store }

// Orchestrator exposes the run orchestrator.
func (s *Server) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// triggerSchedule submits a run for a fired schedule.
func (s *Server) triggerSchedule(sched models.Schedule) {
	run, err := s.orch.Submit(context.Background(), orchestrator.SubmitRequest{
		Target: models.RunTarget{
			RepositoryPath: sched.RepositoryPath,
			CommitRef:      sched.CommitRef,
			Branch:         sched.Branch,
		},
		Profile: sched.Profile,
	})
	if err != nil {
		slog.Warn("Scheduled run submission failed",
			"schedule", sched.Name, "repo", sched.RepositoryPath, "error", err)
		return
	}
	s.mu.Lock()
	s.lastRunAt = time.Now().UTC().Format(time.RFC3339)
	s.mu.Unlock()
	slog.Info("Scheduled run submitted", "schedule", sched.Name, "run_id", run.RunID)
}

// Start runs the server until ctx is cancelled. It:
//  1. Starts the cron scheduler (schedules + retention sweep)
//  2. Binds the HTTP server (blocks until shutdown)
//  3. On shutdown, cancels in-flight runs and waits for them to finalize
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = 6090
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	srv := &http.Server{
		Addr:    addr,
		Handler: buildHandler(s),
	}

	go func() {
		<-ctx.Done()
		s.scheduler.Stop()
		s.orch.CancelAll()
		s.orch.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Server listening", "addr", "http://"+addr)
	s.broadcaster.send(SSEEvent{
		Type:    "server.started",
		Payload: map[string]string{"addr": "http://" + addr},
	})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) currentStatus(ctx context.Context) Status {
	var queued, active, completed int
	if _, n, err := s.store.ListRuns(ctx, store.RunFilter{Status: string(models.RunQueued), Limit: 1}); err == nil {
		queued = n
	}
	if _, n, err := s.store.ListRuns(ctx, store.RunFilter{Status: string(models.RunRunning), Limit: 1}); err == nil {
		active = n
	}
	if _, n, err := s.store.ListRuns(ctx, store.RunFilter{Status: string(models.RunCompleted), Limit: 1}); err == nil {
		completed = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:       s.running,
		QueuedRuns:    queued,
		ActiveRuns:    active,
		CompletedRuns: completed,
		MaxConcurrent: s.cfg.Runs.MaxConcurrentRuns,
		LastRunAt:     s.lastRunAt,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
}
