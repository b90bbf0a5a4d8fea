package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/internal/server"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the scangate daemon",
	Long: `Starts the scangate server: a long-running daemon that executes scan
runs and exposes a local HTTP API (default: http://127.0.0.1:6090) so you can:

  • Submit runs and watch their lifecycle in real time
  • Browse normalized findings and raw tool output per run
  • Evaluate the release gate on demand and record audited overrides
  • Create cron schedules that trigger scans automatically
  • Stream live events via GET /events (Server-Sent Events)

Example schedules:
  "0 2 * * *"   every night at 02:00
  "@every 6h"   every 6 hours
  "@daily"      once per day at midnight

Quick API reference:
  GET    /health                              liveness check
  GET    /api/status                          daemon status snapshot
  POST   /api/security/runs                   submit a run
  GET    /api/security/runs                   list runs
  GET    /api/security/runs/{id}              run detail
  DELETE /api/security/runs/{id}              cancel or delete a run
  GET    /api/security/runs/{id}/findings     normalized findings
  GET    /api/security/runs/{id}/raw/{tool}   raw tool output
  POST   /api/gate/evaluate                   evaluate the gate for a run
  POST   /api/gate/overrides                  record an audited override
  GET    /api/gate/policies                   list gate policies
  GET    /api/schedules                       list cron schedules
  GET    /events                              SSE stream of live events`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 0,
		"HTTP port to listen on (default 6090, overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 6090
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	fmt.Printf("scangate server starting\n")
	fmt.Printf("  Max runs : %d\n", cfg.Runs.MaxConcurrentRuns)
	fmt.Printf("  API      : http://127.0.0.1:%d\n", cfg.Server.Port)
	fmt.Printf("  Events   : http://127.0.0.1:%d/events\n\n", cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	srv := server.New(cfg, db)
	return srv.Start(ctx)
}
