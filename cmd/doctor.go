package cmd

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/adapter"
	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/database"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify tools and system health",
	Long: `Checks that the scanner tools are available (locally or via Docker)
and that the database can be reached.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println("=== scangate doctor ===")
	fmt.Println()

	// Check database
	fmt.Print("Database ................. ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s: %s)\n", db.Driver(), cfg.Database.Path)
		}
		db.Close()
	}

	// Check Docker
	fmt.Print("Docker ................... ")
	dockerOK := false
	if _, err := exec.LookPath("docker"); err != nil {
		fmt.Println("NOT FOUND (optional, local binaries preferred)")
	} else {
		dockerOK = true
		fmt.Println("OK")
	}

	// Check scanner tools
	fmt.Println()
	fmt.Println("Scanner tools:")
	adapters := adapter.Build([]string{"grype", "opengrep", "trufflehog", "trivy"}, cfg.Tools.BinDir)
	for _, a := range adapters {
		fmt.Printf("  %-14s ... ", a.Name())
		switch {
		case a.IsAvailableLocal(ctx):
			fmt.Println("OK (local binary)")
		case dockerOK && a.IsAvailableDocker(ctx):
			fmt.Printf("OK (docker: %s)\n", a.DockerImage())
		default:
			fmt.Println("MISSING (runs will proceed without this tool)")
			allOK = false
		}
	}

	fmt.Println()
	if allOK {
		fmt.Println("All checks passed.")
		return nil
	}
	fmt.Println("Some checks failed; see above.")
	return nil
}
