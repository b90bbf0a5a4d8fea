package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/internal/gate"
	"github.com/CosmoTheDev/scangate/internal/orchestrator"
	"github.com/CosmoTheDev/scangate/internal/store"
	"github.com/CosmoTheDev/scangate/models"
)

var (
	scanCommitRef  string
	scanBranch     string
	scanProfile    string
	scanPolicy     string
	scanTimeoutSec int
	scanNoGateExit bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a local repository snapshot and evaluate the release gate",
	Long: `Runs the active profile's security tools against a local repository
snapshot, persists the normalized findings, and prints the gate verdict.

The command exits nonzero when the gate fails, so it can guard CI steps:

  scangate scan ~/src/myapp
  scangate scan ~/src/myapp --profile deep --policy release
  scangate scan ~/src/myapp --commit v1.4.2 --timeout 600`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanCommitRef, "commit", "", "Commit ref to record (resolved against the repository)")
	scanCmd.Flags().StringVar(&scanBranch, "branch", "", "Branch name to record on the run")
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "Scan profile: quick|standard|deep (default: standard)")
	scanCmd.Flags().StringVar(&scanPolicy, "policy", "", "Gate policy name (default: default)")
	scanCmd.Flags().IntVar(&scanTimeoutSec, "timeout", 0, "Run-level timeout in seconds (overrides config)")
	scanCmd.Flags().BoolVar(&scanNoGateExit, "no-gate-exit", false, "Exit 0 even when the gate fails")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	st := store.New(db)
	orch := orchestrator.New(st, cfg)

	run, err := orch.Submit(ctx, orchestrator.SubmitRequest{
		Target: models.RunTarget{
			RepositoryPath: path,
			CommitRef:      scanCommitRef,
			Branch:         scanBranch,
		},
		Profile:    scanProfile,
		TimeoutSec: scanTimeoutSec,
		PolicyName: scanPolicy,
	})
	if err != nil {
		return fmt.Errorf("submitting run: %w", err)
	}

	slog.Info("Run submitted", "run_id", run.RunID, "profile", run.Profile)
	fmt.Printf("Scanning %s\n", path)
	fmt.Printf("Run %s | profile %s | tools %s\n\n",
		run.RunID, run.Profile, strings.Join(run.ResolvedTools(), ", "))

	orch.Wait()

	final, err := st.GetRun(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("loading run result: %w", err)
	}

	switch final.Status {
	case models.RunCompleted, models.RunTimeout:
		renderSummary(final.Summary())
		renderVerdict(gate.Verdict{Status: final.GateStatus, Reason: final.GateReason})
	case models.RunFailed:
		return fmt.Errorf("run failed: %s", final.ErrorMsg)
	default:
		fmt.Printf("Run ended in state %s\n", final.Status)
	}

	if final.GateStatus == models.GateFailed && !scanNoGateExit {
		os.Exit(2)
	}
	return nil
}
