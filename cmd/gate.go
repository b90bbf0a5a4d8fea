package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/internal/orchestrator"
	"github.com/CosmoTheDev/scangate/models"
)

var (
	gatePolicyName    string
	gateNoExit        bool
	overrideActor     string
	overrideJustify   string
	overridePolicyArg string
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Evaluate or override the release gate for a run",
}

var gateEvaluateCmd = &cobra.Command{
	Use:   "evaluate <run-id>",
	Short: "Re-evaluate the gate for a finished run",
	Long: `Evaluates the named policy against a finished run's stored findings
and prints the verdict. The verdict recorded at run completion is never
modified; this is a read-only check, useful for gating a release against a
stricter policy than the run was scanned under.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		st, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		orch := orchestrator.New(st, cfg)
		verdict, run, err := orch.EvaluateRun(ctx, args[0], gatePolicyName)
		if err != nil {
			return fmt.Errorf("evaluating gate: %w", err)
		}

		fmt.Printf("%s %s (%s, profile %s)\n",
			headerStyle.Render("Run:"), run.RunID, run.Status, run.Profile)
		renderSummary(run.Summary())
		renderVerdict(verdict)

		if verdict.Status == models.GateFailed && !gateNoExit {
			os.Exit(2)
		}
		return nil
	},
}

var gateOverrideCmd = &cobra.Command{
	Use:   "override <run-id>",
	Short: "Record an audited override for a failed gate",
	Long: `Appends an override record permitting a release action despite a failed
verdict. The verdict itself is never changed. Requires a policy with
allow_override enabled, plus an actor and a justification for the audit
trail.`,
	Args: cobra.ExactArgs(1),
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
		if run.GateStatus != models.GateFailed {
			return fmt.Errorf("run %s gate is %q; only failed verdicts can be overridden", run.RunID, orDash(run.GateStatus))
		}

		policy, err := st.GetPolicy(ctx, overridePolicyArg)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		if !policy.AllowOverride {
			return fmt.Errorf("policy %q does not permit overrides", policy.Name)
		}

		ov := &models.GateOverride{
			RunID:         run.RunID,
			PolicyName:    policy.Name,
			PolicyVersion: policy.Version,
			Actor:         overrideActor,
			Justification: overrideJustify,
		}
		if err := st.AddOverride(ctx, ov); err != nil {
			return fmt.Errorf("recording override: %w", err)
		}

		fmt.Printf("Override recorded for %s under policy %s v%d (actor: %s)\n",
			run.RunID, policy.Name, policy.Version, overrideActor)
		return nil
	},
}

func init() {
	gateEvaluateCmd.Flags().StringVar(&gatePolicyName, "policy", "", "Policy to evaluate (default: default)")
	gateEvaluateCmd.Flags().BoolVar(&gateNoExit, "no-exit", false, "Exit 0 even when the verdict is failed")

	gateOverrideCmd.Flags().StringVar(&overrideActor, "actor", "", "Who authorizes the override (required)")
	gateOverrideCmd.Flags().StringVar(&overrideJustify, "justification", "", "Why the release may proceed (required)")
	gateOverrideCmd.Flags().StringVar(&overridePolicyArg, "policy", "", "Policy the override is recorded under (default: default)")
	_ = gateOverrideCmd.MarkFlagRequired("actor")
	_ = gateOverrideCmd.MarkFlagRequired("justification")

	gateCmd.AddCommand(gateEvaluateCmd, gateOverrideCmd)
}
