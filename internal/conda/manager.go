package conda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/command"
	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/toolenv"
)

// Spec describes the conda environment to provision.
type Spec struct {
	// Name is the conda environment name (e.g., "gtdbtk_env").
	Name string

	// Executable is the conda binary, either a bare name resolved via
	// PATH or an absolute path such as /opt/conda/bin/conda.
	Executable string

	// Channels are passed to `conda create` as -c flags, in order.
	Channels []string

	// Packages are the pinned packages installed at creation time.
	Packages []model.PackagePin

	// Tool is the program whose version is verified after creation.
	// Tool.Name is also the program name used for `--version`.
	Tool model.PackagePin
}

// Manager implements toolenv.Environment on top of a conda installation.
type Manager struct {
	spec   Spec
	runner command.Runner
	logger *zap.Logger

	// out receives conda's own progress output during create/remove.
	out io.Writer
}

var _ toolenv.Environment = (*Manager)(nil)

// NewManager creates a Manager. A nil logger disables logging and a nil
// out discards conda's progress output.
func NewManager(spec Spec, runner command.Runner, logger *zap.Logger, out io.Writer) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	if spec.Executable == "" {
		spec.Executable = "conda"
	}
	return &Manager{spec: spec, runner: runner, logger: logger, out: out}
}

// Describe returns the environment name for log and result output.
func (m *Manager) Describe() string {
	return "conda:" + m.spec.Name
}

// Exists reports whether a conda environment named spec.Name exists.
//
// `conda env list --json` prints the prefix directory of every environment:
//
//	{"envs": ["/opt/conda", "/opt/conda/envs/gtdbtk_env"]}
//
// An environment matches when the base name of its prefix equals the
// name exactly, so "gtdbtk_env_old" does not count as "gtdbtk_env".
func (m *Manager) Exists(ctx context.Context) (bool, error) {
	res, err := m.run(ctx, nil, "env", "list", "--json")
	if err != nil {
		return false, err
	}

	var listing struct {
		Envs []string `json:"envs"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &listing); err != nil {
		return false, fmt.Errorf("failed to parse conda env list output: %w", err)
	}

	for _, prefix := range listing.Envs {
		if filepath.Base(prefix) == m.spec.Name {
			return true, nil
		}
	}
	return false, nil
}

// Create creates the environment with the pinned packages.
// --yes keeps conda from prompting for confirmation.
func (m *Manager) Create(ctx context.Context) error {
	args := []string{"create", "--yes", "-n", m.spec.Name}
	for _, ch := range m.spec.Channels {
		args = append(args, "-c", ch)
	}
	for _, p := range m.spec.Packages {
		args = append(args, p.String())
	}

	m.logger.Info("Creating conda environment",
		zap.String("env", m.spec.Name),
		zap.Strings("channels", m.spec.Channels),
		zap.Stringers("packages", m.spec.Packages))

	_, err := m.run(ctx, m.out, args...)
	return err
}

// Remove deletes the environment and everything installed in it.
func (m *Manager) Remove(ctx context.Context) error {
	m.logger.Info("Removing conda environment", zap.String("env", m.spec.Name))
	_, err := m.run(ctx, m.out, "env", "remove", "--yes", "-n", m.spec.Name)
	return err
}

// ToolVersion returns the raw output of `<tool> --version` run inside the
// environment.
func (m *Manager) ToolVersion(ctx context.Context) (string, error) {
	res, err := m.run(ctx, nil, "run", "-n", m.spec.Name, m.spec.Tool.Name, "--version")
	if err != nil {
		return "", err
	}
	return res.Stdout + res.Stderr, nil
}

// Ensure makes sure the environment exists and holds the pinned tool.
//
// A missing environment is created. Any failure while checking (listing,
// creating, querying the version, or a version mismatch) leads to one
// remove-and-create attempt followed by a final version check. Failures
// during that attempt are returned without further retries.
func (m *Manager) Ensure(ctx context.Context) error {
	err := m.check(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	m.logger.Warn("Conda environment check failed, recreating",
		zap.String("env", m.spec.Name), zap.Error(err))

	if rmErr := m.Remove(ctx); rmErr != nil {
		return fmt.Errorf("failed to remove conda environment %q: %w", m.spec.Name, errors.Join(rmErr, err))
	}
	if err := m.Create(ctx); err != nil {
		return fmt.Errorf("failed to recreate conda environment %q: %w", m.spec.Name, err)
	}
	if err := m.verifyVersion(ctx); err != nil {
		return fmt.Errorf("conda environment %q still unusable after recreation: %w", m.spec.Name, err)
	}

	m.logger.Info("Conda environment recreated", zap.String("env", m.spec.Name))
	return nil
}

// check performs the first-pass verification, creating the environment
// if it does not exist yet.
func (m *Manager) check(ctx context.Context) error {
	exists, err := m.Exists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		if err := m.Create(ctx); err != nil {
			return err
		}
		m.logger.Info("Conda environment created", zap.String("env", m.spec.Name))
	}

	return m.verifyVersion(ctx)
}

func (m *Manager) verifyVersion(ctx context.Context) error {
	out, err := m.ToolVersion(ctx)
	if err != nil {
		return err
	}
	if err := toolenv.MatchVersion(out, m.spec.Tool.Version); err != nil {
		return err
	}
	m.logger.Debug("Tool version verified",
		zap.String("tool", m.spec.Tool.Name),
		zap.String("version", m.spec.Tool.Version))
	return nil
}

// Exec runs inv.Program inside the environment via
// `conda run --no-capture-output`, so output streams as it is produced.
// The host filesystem is shared, so inv.Mounts needs no handling here.
func (m *Manager) Exec(ctx context.Context, inv toolenv.Invocation) error {
	args := make([]string, 0, len(inv.Args)+5)
	args = append(args, "run", "-n", m.spec.Name, "--no-capture-output", inv.Program)
	args = append(args, inv.Args...)

	stdout := inv.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	c := command.Command{
		Name:   m.spec.Executable,
		Args:   args,
		Env:    inv.Env,
		Stdout: stdout,
		Stderr: inv.Stderr,
	}
	m.logger.Debug("Executing", zap.Stringer("command", c))

	_, err := m.runner.Run(ctx, c)
	return err
}

// run invokes conda with args. When out is nil both streams are captured.
func (m *Manager) run(ctx context.Context, out io.Writer, args ...string) (command.Result, error) {
	c := command.Command{Name: m.spec.Executable, Args: args}
	if out != nil {
		c.Stdout = out
		c.Stderr = out
	}
	m.logger.Debug("Executing", zap.Stringer("command", c))
	return m.runner.Run(ctx, c)
}
