package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/toolenv"
)

// Options configures a Runner.
type Options struct {
	// Program is the tool executable inside the environment.
	// Defaults to "gtdbtk".
	Program string

	// DatabasePath is the GTDB-Tk reference data directory. It is passed
	// to every stage as GTDBTK_DATA_PATH.
	DatabasePath string

	// CPUs is the thread count passed to every stage.
	CPUs int

	// Stdout and Stderr receive the stage output.
	Stdout io.Writer
	Stderr io.Writer
}

// StageResult records one completed stage.
type StageResult struct {
	Stage     model.Stage   `json:"stage"`
	OutputDir string        `json:"outputDir"`
	Duration  time.Duration `json:"duration"`
}

// Result summarizes a successful run.
type Result struct {
	Layout  Layout        `json:"layout"`
	Genomes []string      `json:"genomes"`
	CPUs    int           `json:"cpus"`
	Stages  []StageResult `json:"stages"`
}

// Runner executes the identify, align and classify stages in order.
type Runner struct {
	env    toolenv.Environment
	opts   Options
	logger *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewRunner creates a Runner that executes stages in env.
func NewRunner(env toolenv.Environment, opts Options, logger *zap.Logger) *Runner {
	if opts.Program == "" {
		opts.Program = "gtdbtk"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{env: env, opts: opts, logger: logger, now: time.Now}
}

// Run validates the input layout, creates the output directories and runs
// the three stages.
//
// Nothing is executed unless the genome directory exists and holds at
// least one genome. Each stage starts only after the previous one exited
// successfully; the first failure is returned as a model.CLIError with
// ExitStageFailed and later stages are not run. Output directories are
// never removed.
func (r *Runner) Run(ctx context.Context, l Layout) (*Result, error) {
	genomes, err := l.DiscoverGenomes()
	if err != nil {
		return nil, err
	}
	r.logger.Info(fmt.Sprintf("Found %d .%s files", len(genomes), l.Extension),
		zap.String("dir", l.BinsDir))

	if err := l.Prepare(); err != nil {
		return nil, err
	}

	result := &Result{Layout: l, Genomes: genomes, CPUs: r.opts.CPUs}
	for _, stage := range model.Stages() {
		sr, err := r.runStage(ctx, stage, l)
		if err != nil {
			return nil, err
		}
		result.Stages = append(result.Stages, sr)
	}
	return result, nil
}

func (r *Runner) runStage(ctx context.Context, stage model.Stage, l Layout) (StageResult, error) {
	args, err := StageArgs(stage, l, r.opts.CPUs)
	if err != nil {
		return StageResult{}, err
	}

	mounts := []string{l.BinsDir, l.OutputDir}
	if r.opts.DatabasePath != "" {
		mounts = append(mounts, r.opts.DatabasePath)
	}

	inv := toolenv.Invocation{
		Program: r.opts.Program,
		Args:    args,
		Env:     map[string]string{toolenv.DatabaseEnvVar: r.opts.DatabasePath},
		Mounts:  mounts,
		Stdout:  r.opts.Stdout,
		Stderr:  r.opts.Stderr,
	}

	name := r.opts.Program + " " + stage.String()
	r.logger.Info("Running "+name, zap.String("env", r.env.Describe()), zap.Int("cpus", r.opts.CPUs))

	start := r.now()
	if err := r.env.Exec(ctx, inv); err != nil {
		return StageResult{}, model.WrapCLIError(model.ExitStageFailed, name+" failed", err)
	}
	elapsed := r.now().Sub(start)

	r.logger.Info(name+" completed", zap.Duration("elapsed", elapsed))
	return StageResult{Stage: stage, OutputDir: StageOutputDir(stage, l), Duration: elapsed}, nil
}
