// Package cli implements the cobra-based CLI commands for gtdbtk-runner.
//
// The root command runs the whole workflow (provision the environment, then
// run identify, align and classify). The ensure subcommand runs only the
// provisioning step. This file defines the root command, the global flags
// and the exit code handling.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether the result and errors are printed as JSON.
	// Stage output is moved to stderr so stdout holds only the JSON document.
	jsonOutput bool

	// verbose lowers the log level to debug, which includes every
	// external command line.
	verbose bool

	// configPath is the optional YAML/JSONC configuration file.
	configPath string

	// backendFlag and envNameFlag override the configuration file.
	backendFlag string
	envNameFlag string
)

// logger is initialized in PersistentPreRunE and synced after the command.
var logger = zap.NewNop()

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// Running it without a subcommand executes the full pipeline.
func NewRootCommand() *cobra.Command {
	flags := &runFlags{}

	rootCmd := &cobra.Command{
		Use:   "gtdbtk-runner",
		Short: "Provision GTDB-Tk and classify refined genome bins",
		Long: `gtdbtk-runner makes sure GTDB-Tk 2.4.1 and pplacer are installed in an
isolated environment, then runs the identify, align and classify stages over
the .fa files in <input_dir>/Refined_bins.

Results are written to <output_dir>/Refined_identify, Refined_align and
Refined_classify. The run stops at the first failing stage.

Examples:
  gtdbtk-runner --input_dir /results --output_dir /results/gtdbtk_out --gtdbtk_db /refdata/release220
  gtdbtk-runner --backend docker --input_dir /results --output_dir /results/gtdbtk_out --gtdbtk_db /refdata/release220
  gtdbtk-runner ensure`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		// Version is displayed when --version flag is used.
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		// Positional arguments are not accepted; everything is a flag.
		Args: cobra.NoArgs,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(cmd.ErrOrStderr(), verbose)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, flags)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (.yaml, .yml, .json or .jsonc)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Environment backend: conda or docker (default from config: conda)")
	rootCmd.PersistentFlags().StringVar(&envNameFlag, "env-name", "", "Conda environment name (default from config: gtdbtk_env)")

	rootCmd.Flags().StringVar(&flags.inputDir, "input_dir", "", "Input directory containing Refined_bins")
	rootCmd.Flags().StringVar(&flags.outputDir, "output_dir", "", "Output directory for GTDB-Tk results")
	rootCmd.Flags().StringVar(&flags.database, "gtdbtk_db", "", "Path to GTDB-Tk reference database")
	for _, name := range []string{"input_dir", "output_dir", "gtdbtk_db"} {
		_ = rootCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(NewEnsureCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// SIGINT and SIGTERM cancel the command context, which kills the running
// external command. CLIError types carry their own exit codes; other
// errors default to exit code 1.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode; stdout is reserved for
		// successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
