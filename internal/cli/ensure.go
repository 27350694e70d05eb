// Package cli — ensure.go implements the "gtdbtk-runner ensure" command.
//
// The ensure command runs only the provisioning step: it creates the
// isolated environment if it is missing, and recreates it if the installed
// GTDB-Tk version does not match the pin. It is useful for preparing a
// node before submitting batch jobs.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewEnsureCommand creates the "ensure" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewEnsureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create or repair the GTDB-Tk environment without running the pipeline",
		Long: `Verify that the isolated environment exists and contains the pinned
GTDB-Tk version, creating or recreating it when needed.

Examples:
  gtdbtk-runner ensure
  gtdbtk-runner ensure --env-name gtdbtk-2.4.1
  gtdbtk-runner ensure --backend docker --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnsure(cmd.Context(), cmd)
		},
	}
}

func runEnsure(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	env, closeEnv, err := newEnvironment(cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closeEnv() }()

	if err := ensureEnvironment(ctx, env); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(map[string]string{
			"environment": env.Describe(),
			"status":      "ready",
		}, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprintf(out, "Environment %s is ready\n", env.Describe())
	return nil
}
