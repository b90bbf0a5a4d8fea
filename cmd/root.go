package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scangate",
	Short: "Security scan orchestration and release gating for local repositories",
	Long: `scangate orchestrates security tools (grype, opengrep, trufflehog, trivy)
against local repository snapshots, normalizes their findings into one
deduplicated model, and evaluates a configurable release gate.

Get started:
  scangate doctor     Verify tools and database health
  scangate scan       Scan a repository snapshot (one-shot)
  scangate server     Start the persistent daemon with REST API + SSE
  scangate runs       Inspect past runs and their findings
  scangate gate       Evaluate or override the release gate for a run
  scangate policy     Manage gate policies
  scangate profiles   List available scan profiles`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.scangate/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		scanCmd,
		serverCmd,
		runsCmd,
		gateCmd,
		policyCmd,
		profilesCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
