package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/profiles"
	"github.com/CosmoTheDev/scangate/models"
)

var (
	policyMaxHigh       int
	policyWarnMedium    int
	policyReqProfile    string
	policyRecentHours   int
	policyAllowOverride bool
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage gate policies",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored gate policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		policies, err := st.ListPolicies(ctx)
		if err != nil {
			return fmt.Errorf("listing policies: %w", err)
		}
		if len(policies) == 0 {
			fmt.Println("No stored policies; the built-in default applies.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tMAX HIGH\tWARN MEDIUM\tMIN PROFILE\tRECENT RUN\tOVERRIDE")
		for _, p := range policies {
			recent := "-"
			if p.RequireRecentRun {
				recent = fmt.Sprintf("%dh", p.MaxRunAgeHours)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%t\n",
				p.Name, p.Version, p.MaxHigh, p.WarnMedium,
				orDash(p.RequireProfile), recent, p.AllowOverride)
		}
		w.Flush()
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print one policy as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		p, err := st.GetPolicy(ctx, args[0])
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or revise a gate policy",
	Long: `Creates the named policy or revises it in place. A revision bumps the
policy version; verdicts always record the exact version they were computed
against, so past results stay interpretable after an edit.

  scangate policy set release --max-high 0 --warn-medium 5 --require-profile standard
  scangate policy set waiver --max-high 3 --allow-override`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		name := args[0]
		if name == "" {
			return fmt.Errorf("policy name must not be empty")
		}
		if policyMaxHigh < 0 || policyWarnMedium < 0 {
			return fmt.Errorf("thresholds must be non-negative")
		}
		if policyReqProfile != "" && profiles.DepthOf(policyReqProfile) == profiles.DepthUnknown {
			return fmt.Errorf("unknown profile depth %q (valid: quick, standard, deep)", policyReqProfile)
		}

		st, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		p := &models.GatePolicy{
			Name:             name,
			MaxHigh:          policyMaxHigh,
			WarnMedium:       policyWarnMedium,
			RequireProfile:   policyReqProfile,
			RequireRecentRun: policyRecentHours > 0,
			MaxRunAgeHours:   policyRecentHours,
			AllowOverride:    policyAllowOverride,
		}
		if err := st.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("saving policy: %w", err)
		}

		fmt.Printf("Policy %s saved (version %d)\n", p.Name, p.Version)
		return nil
	},
}

func init() {
	policySetCmd.Flags().IntVar(&policyMaxHigh, "max-high", 0, "Blocking threshold for HIGH findings")
	policySetCmd.Flags().IntVar(&policyWarnMedium, "warn-medium", 10, "Warning threshold for MEDIUM findings")
	policySetCmd.Flags().StringVar(&policyReqProfile, "require-profile", "", "Minimum profile depth (quick|standard|deep)")
	policySetCmd.Flags().IntVar(&policyRecentHours, "require-recent-hours", 0, "Require a completed run within N hours (0 disables)")
	policySetCmd.Flags().BoolVar(&policyAllowOverride, "allow-override", false, "Permit audited overrides of failed verdicts")

	policyCmd.AddCommand(policyListCmd, policyShowCmd, policySetCmd)
}
