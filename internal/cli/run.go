// Package cli — run.go implements the root command's pipeline run.
//
// Orchestration steps:
//  1. Load configuration and apply flag overrides
//  2. Choose the CPU count
//  3. Ensure the tool environment (create/recreate as needed)
//  4. Validate the input, create output directories, run the three stages
//  5. Output results (text or JSON)
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/pipeline"
)

// runFlags holds the flag values for the pipeline run.
// These are bound to cobra flags in NewRootCommand.
type runFlags struct {
	inputDir  string // --input_dir: directory containing Refined_bins
	outputDir string // --output_dir: parent of the three stage directories
	database  string // --gtdbtk_db: GTDB-Tk reference data directory
}

// detectCPUs is replaceable in tests.
var detectCPUs = pipeline.DetectCPUs

// validate rejects empty path flags. Cobra only checks that a required
// flag was given, and filepath.Abs turns "" into the working directory.
func (f *runFlags) validate() error {
	for _, flag := range []struct{ name, value string }{
		{"input_dir", f.inputDir},
		{"output_dir", f.outputDir},
		{"gtdbtk_db", f.database},
	} {
		if strings.TrimSpace(flag.value) == "" {
			return model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("--%s must not be empty", flag.name))
		}
	}
	return nil
}

// runPipeline is the main orchestration function for the root command.
func runPipeline(ctx context.Context, cmd *cobra.Command, flags *runFlags) error {
	if err := flags.validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	layout, err := pipeline.NewLayout(flags.inputDir, flags.outputDir, cfg.Layout)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid directories", err)
	}

	database, err := filepath.Abs(flags.database)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to resolve database path %q", flags.database), err)
	}
	if info, statErr := os.Stat(database); statErr != nil || !info.IsDir() {
		// GTDB-Tk reports a missing database itself; it may also live on
		// a mount that only the container backend can see.
		logger.Warn("GTDB-Tk database directory not found", zap.String("path", database))
	}

	cpus := detectCPUs()
	logger.Info(fmt.Sprintf("Using %d CPUs", cpus))

	env, closeEnv, err := newEnvironment(cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closeEnv() }()

	if err := ensureEnvironment(ctx, env); err != nil {
		return err
	}

	// With --json, stdout carries only the result document.
	stageOut := cmd.OutOrStdout()
	if IsJSONOutput() {
		stageOut = cmd.ErrOrStderr()
	}

	runner := pipeline.NewRunner(env, pipeline.Options{
		Program:      cfg.Tool.Name,
		DatabasePath: database,
		CPUs:         cpus,
		Stdout:       stageOut,
		Stderr:       cmd.ErrOrStderr(),
	}, logger)

	result, err := runner.Run(ctx, layout)
	if err != nil {
		return err
	}

	printRunResult(cmd.OutOrStdout(), env.Describe(), result)
	return nil
}

// printRunResult outputs the run summary in text or JSON format.
func printRunResult(w io.Writer, envName string, result *pipeline.Result) {
	if IsJSONOutput() {
		printRunResultJSON(w, envName, result)
	} else {
		printRunResultText(w, envName, result)
	}
}

// printRunResultJSON outputs the run summary as structured JSON.
func printRunResultJSON(w io.Writer, envName string, result *pipeline.Result) {
	type stageJSON struct {
		Stage           string  `json:"stage"`
		OutputDir       string  `json:"outputDir"`
		DurationSeconds float64 `json:"durationSeconds"`
	}

	type resultJSON struct {
		Environment string      `json:"environment"`
		InputDir    string      `json:"inputDir"`
		OutputDir   string      `json:"outputDir"`
		Genomes     int         `json:"genomes"`
		CPUs        int         `json:"cpus"`
		Stages      []stageJSON `json:"stages"`
	}

	out := resultJSON{
		Environment: envName,
		InputDir:    result.Layout.InputDir,
		OutputDir:   result.Layout.OutputDir,
		Genomes:     len(result.Genomes),
		CPUs:        result.CPUs,
		Stages:      make([]stageJSON, 0, len(result.Stages)),
	}
	for _, s := range result.Stages {
		out.Stages = append(out.Stages, stageJSON{
			Stage:           s.Stage.String(),
			OutputDir:       s.OutputDir,
			DurationSeconds: s.Duration.Seconds(),
		})
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(w, string(data))
}

// printRunResultText outputs the run summary as human-readable text,
// including a table of stage output directories.
func printRunResultText(w io.Writer, envName string, result *pipeline.Result) {
	fmt.Fprintf(w, "GTDB-Tk pipeline completed for %d genome(s) using %d CPUs (%s)\n",
		len(result.Genomes), result.CPUs, envName)

	if len(result.Stages) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Stages:")
		for _, s := range result.Stages {
			fmt.Fprintf(w, "    %-9s %s  (%s)\n", s.Stage, s.OutputDir, s.Duration.Round(time.Second))
		}
	}
}
