package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/command"
	"github.com/shinji-kodama/gtdbtk-runner/internal/conda"
	"github.com/shinji-kodama/gtdbtk-runner/internal/config"
	"github.com/shinji-kodama/gtdbtk-runner/internal/docker"
	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/toolenv"
)

// newEnvironment builds the tool environment for cfg. The returned close
// function releases backend resources. Tests replace it with a fake.
var newEnvironment = buildEnvironment

func buildEnvironment(cfg config.Config, logger *zap.Logger, progress io.Writer) (toolenv.Environment, func() error, error) {
	switch cfg.BackendKind() {
	case model.BackendDocker:
		client, err := docker.NewClient()
		if err != nil {
			return nil, nil, err
		}
		env := docker.NewEnvironment(docker.ImageSpec{
			Image: cfg.Docker.Image,
			Tool:  cfg.ToolPin(),
		}, client, logger, progress)
		return env, client.Close, nil

	default:
		pins, err := cfg.PackagePins()
		if err != nil {
			return nil, nil, model.WrapCLIError(model.ExitInvalidConfig, "invalid configuration", err)
		}
		env := conda.NewManager(conda.Spec{
			Name:       cfg.Conda.Env,
			Executable: cfg.Conda.Executable,
			Channels:   cfg.Conda.Channels,
			Packages:   pins,
			Tool:       cfg.ToolPin(),
		}, command.NewExecRunner(), logger, progress)
		return env, func() error { return nil }, nil
	}
}

// loadConfig returns the configuration from --config (or the defaults)
// with --backend and --env-name applied on top.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if envNameFlag != "" {
		cfg.Conda.Env = envNameFlag
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// ensureEnvironment runs env.Ensure and maps failures to
// ExitEnvProvisionFailed, keeping codes already chosen by the backend.
func ensureEnvironment(ctx context.Context, env toolenv.Environment) error {
	logger.Info("Checking tool environment", zap.String("env", env.Describe()))

	if err := env.Ensure(ctx); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			return err
		}
		return model.WrapCLIError(model.ExitEnvProvisionFailed,
			fmt.Sprintf("failed to provision %s", env.Describe()), err)
	}

	logger.Info("Tool environment ready", zap.String("env", env.Describe()))
	return nil
}
