package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
	"github.com/CosmoTheDev/scangate/internal/store"
)

var (
	runsStatus string
	runsRepo   string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past scan runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		runs, total, err := st.ListRuns(ctx, store.RunFilter{
			Status:         runsStatus,
			RepositoryPath: runsRepo,
			Limit:          runsLimit,
		})
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tGATE\tPROFILE\tC/H/M/L\tREPOSITORY\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d/%d/%d\t%s\t%s\n",
				r.RunID, r.Status, orDash(r.GateStatus), r.Profile,
				r.FindingsCritical, r.FindingsHigh, r.FindingsMedium, r.FindingsLow,
				r.RepositoryPath, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		fmt.Printf("\n%d of %d run(s)\n", len(runs), total)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("loading run: %w", err)
		}

		fmt.Printf("%s %s\n", headerStyle.Render("Run:"), run.RunID)
		fmt.Printf("%s %s\n", headerStyle.Render("Status:"), run.Status)
		fmt.Printf("%s %s", headerStyle.Render("Target:"), run.RepositoryPath)
		if run.ResolvedCommit != "" {
			fmt.Printf(" @ %s", shortCommit(run.ResolvedCommit))
		}
		fmt.Println()
		fmt.Printf("%s %s (resolved: %s, executed: %s)\n",
			headerStyle.Render("Profile:"), run.Profile,
			strings.Join(run.ResolvedTools(), ","), strings.Join(run.ExecutedTools(), ","))
		if run.ErrorMsg != "" {
			fmt.Printf("%s %s\n", headerStyle.Render("Error:"), run.ErrorMsg)
		}
		renderSummary(run.Summary())
		if run.GateStatus != "" {
			fmt.Printf("%s %s (%s)\n", headerStyle.Render("Gate:"),
				gateStyle(run.GateStatus).Render(run.GateStatus), run.GateReason)
		}

		findings, total, err := st.ListFindings(ctx, run.RunID, store.FindingFilter{Limit: 200})
		if err != nil {
			return fmt.Errorf("listing findings: %w", err)
		}
		if total == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEVERITY\tCATEGORY\tRULE\tLOCATION\tTOOLS")
		for _, f := range findings {
			loc := f.FilePath
			if f.LineNumber > 0 {
				loc = fmt.Sprintf("%s:%d", f.FilePath, f.LineNumber)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				severityStyle(f.Severity).Render(string(f.Severity)),
				f.Category, f.RuleID, loc, strings.Join(f.Tools(), ","))
		}
		w.Flush()
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by run status")
	runsListCmd.Flags().StringVar(&runsRepo, "repo", "", "Filter by repository path")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to show")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

// openStore loads config, opens and migrates the database, and returns a
// ready store plus a close func.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return store.New(db), func() { db.Close() }, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}
