// Package cli — cli_test.go drives the cobra commands end to end with a
// fake tool environment, so no conda installation or Docker daemon is
// needed.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/config"
	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/toolenv"
)

// fakeEnv records the order of provisioning and stage execution.
type fakeEnv struct {
	events    []string
	ensureErr error
	failAt    string
	closed    bool
}

func (f *fakeEnv) Describe() string { return "fake:gtdbtk_env" }

func (f *fakeEnv) Ensure(context.Context) error {
	f.events = append(f.events, "ensure")
	return f.ensureErr
}

func (f *fakeEnv) Exec(_ context.Context, inv toolenv.Invocation) error {
	f.events = append(f.events, "exec "+inv.Args[0])
	if inv.Stdout != nil {
		_, _ = io.WriteString(inv.Stdout, "[gtdbtk "+inv.Args[0]+"]\n")
	}
	if inv.Args[0] == f.failAt {
		return errors.New("exit status 1")
	}
	return nil
}

// installFake replaces the environment factory and CPU detection for the
// duration of the test. The configuration seen by the factory is stored
// in *seen.
func installFake(t *testing.T, env *fakeEnv, seen *config.Config) {
	t.Helper()

	origEnv, origCPUs := newEnvironment, detectCPUs
	t.Cleanup(func() {
		newEnvironment, detectCPUs = origEnv, origCPUs
		logger = zap.NewNop()
	})

	newEnvironment = func(cfg config.Config, _ *zap.Logger, _ io.Writer) (toolenv.Environment, func() error, error) {
		if seen != nil {
			*seen = cfg
		}
		return env, func() error { env.closed = true; return nil }, nil
	}
	detectCPUs = func() int { return 12 }
}

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// setupInput creates <tmp>/Refined_bins with n genome files and returns
// the input directory, an output directory and a database directory.
func setupInput(t *testing.T, n int) (string, string, string) {
	t.Helper()

	root := t.TempDir()
	input := filepath.Join(root, "results")
	bins := filepath.Join(input, "Refined_bins")
	require.NoError(t, os.MkdirAll(bins, 0o755))
	for i := 0; i < n; i++ {
		name := filepath.Join(bins, "bin."+string(rune('a'+i))+".fa")
		require.NoError(t, os.WriteFile(name, []byte(">c\nACGT\n"), 0o644))
	}
	db := filepath.Join(root, "release220")
	require.NoError(t, os.MkdirAll(db, 0o755))
	return input, filepath.Join(input, "gtdbtk_out"), db
}

func runArgs(input, output, db string, extra ...string) []string {
	return append([]string{"--input_dir", input, "--output_dir", output, "--gtdbtk_db", db}, extra...)
}

// requireExitCode asserts that err is a CLIError with the given code.
func requireExitCode(t *testing.T, err error, code model.ExitCode) {
	t.Helper()

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, code, cliErr.Code)
}

// TestRun_Success verifies the full flow: provisioning first, then the
// three stages in order, then a text summary.
func TestRun_Success(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)
	input, output, db := setupInput(t, 3)

	stdout, stderr, err := execute(t, runArgs(input, output, db)...)
	require.NoError(t, err)

	assert.Equal(t, []string{"ensure", "exec identify", "exec align", "exec classify"}, env.events)
	assert.True(t, env.closed, "environment should be closed")
	assert.Contains(t, stdout, "[gtdbtk identify]")
	assert.Contains(t, stdout, "GTDB-Tk pipeline completed for 3 genome(s) using 12 CPUs (fake:gtdbtk_env)")
	assert.Contains(t, stdout, filepath.Join(output, "Refined_classify"))
	assert.Contains(t, stderr, "Using 12 CPUs")
	assert.Contains(t, stderr, "Found 3 .fa files")

	for _, dir := range []string{"Refined_identify", "Refined_align", "Refined_classify"} {
		assert.DirExists(t, filepath.Join(output, dir))
	}
}

// TestRun_JSON verifies that --json keeps stdout for the result document.
func TestRun_JSON(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)
	input, output, db := setupInput(t, 2)

	stdout, stderr, err := execute(t, runArgs(input, output, db, "--json")...)
	require.NoError(t, err)

	var result struct {
		Environment string `json:"environment"`
		Genomes     int    `json:"genomes"`
		CPUs        int    `json:"cpus"`
		Stages      []struct {
			Stage string `json:"stage"`
		} `json:"stages"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result), "stdout must be a single JSON document")
	assert.Equal(t, "fake:gtdbtk_env", result.Environment)
	assert.Equal(t, 2, result.Genomes)
	assert.Equal(t, 12, result.CPUs)
	require.Len(t, result.Stages, 3)
	assert.Equal(t, "align", result.Stages[1].Stage)
	assert.Contains(t, stderr, "[gtdbtk classify]", "stage output goes to stderr in JSON mode")
}

// TestRun_MissingBins verifies that the runner stops before any stage
// when Refined_bins is missing.
func TestRun_MissingBins(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)
	input := t.TempDir()

	_, _, err := execute(t, runArgs(input, filepath.Join(input, "out"), t.TempDir())...)
	requireExitCode(t, err, model.ExitInputNotFound)
	assert.Equal(t, []string{"ensure"}, env.events)
}

// TestRun_NoGenomes verifies that an empty Refined_bins stops the run
// before any stage.
func TestRun_NoGenomes(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)
	input, output, db := setupInput(t, 0)

	_, _, err := execute(t, runArgs(input, output, db)...)
	requireExitCode(t, err, model.ExitNoGenomes)
	assert.Equal(t, []string{"ensure"}, env.events)
}

// TestRun_ProvisioningFails verifies that no stage runs when the
// environment cannot be provisioned.
func TestRun_ProvisioningFails(t *testing.T) {
	env := &fakeEnv{ensureErr: errors.New("conda create failed")}
	installFake(t, env, nil)
	input, output, db := setupInput(t, 1)

	_, _, err := execute(t, runArgs(input, output, db)...)
	requireExitCode(t, err, model.ExitEnvProvisionFailed)
	assert.Equal(t, []string{"ensure"}, env.events)
	assert.Contains(t, err.Error(), "failed to provision fake:gtdbtk_env")
}

// TestRun_StageFails verifies that a failing stage aborts the run with
// the stage failure exit code.
func TestRun_StageFails(t *testing.T) {
	env := &fakeEnv{failAt: "align"}
	installFake(t, env, nil)
	input, output, db := setupInput(t, 1)

	stdout, _, err := execute(t, runArgs(input, output, db)...)
	requireExitCode(t, err, model.ExitStageFailed)
	assert.Equal(t, []string{"ensure", "exec identify", "exec align"}, env.events)
	assert.NotContains(t, stdout, "pipeline completed")
}

// TestRun_RequiredFlags verifies that all three directory flags are needed.
func TestRun_RequiredFlags(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)

	_, _, err := execute(t, "--input_dir", "/results", "--output_dir", "/results/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gtdbtk_db")
	assert.Empty(t, env.events)
}

// TestRun_EmptyPathFlags verifies that an explicitly empty path is a usage
// error instead of silently meaning the working directory.
func TestRun_EmptyPathFlags(t *testing.T) {
	input, output, db := setupInput(t, 1)

	tests := []struct {
		name string
		args []string
	}{
		{"database", runArgs(input, output, "")},
		{"database whitespace", runArgs(input, output, "  ")},
		{"input", runArgs("", output, db)},
		{"output", runArgs(input, "", db)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &fakeEnv{}
			installFake(t, env, nil)

			_, _, err := execute(t, tt.args...)
			requireExitCode(t, err, model.ExitGeneralError)
			assert.Contains(t, err.Error(), "must not be empty")
			assert.Empty(t, env.events)
		})
	}
}

// TestRun_FlagOverrides verifies that --backend and --env-name win over
// the configuration file.
func TestRun_FlagOverrides(t *testing.T) {
	var seen config.Config
	installFake(t, &fakeEnv{}, &seen)
	input, output, db := setupInput(t, 1)

	cfgPath := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("conda:\n  env: from_file\n  executable: /opt/conda/bin/conda\n"), 0o644))

	_, _, err := execute(t, runArgs(input, output, db, "--config", cfgPath, "--env-name", "from_flag")...)
	require.NoError(t, err)
	assert.Equal(t, "from_flag", seen.Conda.Env)
	assert.Equal(t, "/opt/conda/bin/conda", seen.Conda.Executable)
	assert.Equal(t, model.BackendConda, seen.BackendKind())

	_, _, err = execute(t, runArgs(input, output, db, "--backend", "docker")...)
	require.NoError(t, err)
	assert.Equal(t, model.BackendDocker, seen.BackendKind())
}

// TestRun_InvalidBackend verifies that an unknown backend is a
// configuration error raised before provisioning.
func TestRun_InvalidBackend(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)
	input, output, db := setupInput(t, 1)

	_, _, err := execute(t, runArgs(input, output, db, "--backend", "mamba")...)
	requireExitCode(t, err, model.ExitInvalidConfig)
	assert.Empty(t, env.events)
}

// TestEnsureCommand verifies that ensure provisions without running stages.
func TestEnsureCommand(t *testing.T) {
	env := &fakeEnv{}
	installFake(t, env, nil)

	stdout, _, err := execute(t, "ensure")
	require.NoError(t, err)
	assert.Equal(t, []string{"ensure"}, env.events)
	assert.Equal(t, "Environment fake:gtdbtk_env is ready\n", stdout)

	stdout, _, err = execute(t, "ensure", "--json")
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout, `"status": "ready"`))
}

// TestEnsureCommand_Fails verifies the provisioning exit code.
func TestEnsureCommand_Fails(t *testing.T) {
	installFake(t, &fakeEnv{ensureErr: errors.New("image pull failed")}, nil)

	_, _, err := execute(t, "ensure")
	requireExitCode(t, err, model.ExitEnvProvisionFailed)
}

// TestNewLogger_Verbose verifies that debug messages appear only in
// verbose mode.
func TestNewLogger_Verbose(t *testing.T) {
	var quiet, loud bytes.Buffer

	newLogger(&quiet, false).Debug("command line")
	newLogger(&loud, true).Debug("command line")

	assert.Empty(t, quiet.String())
	assert.Contains(t, loud.String(), "command line")
}
