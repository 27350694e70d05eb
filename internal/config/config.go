// Package config loads gtdbtk-runner settings.
//
// Every setting has a built-in default matching the pinned toolchain
// (GTDB-Tk 2.4.1 with pplacer 1.1.alpha19 from bioconda/conda-forge), so a
// configuration file is optional. When given, it may be YAML (.yaml, .yml)
// or JSON with comments (.json, .jsonc); fields that are omitted keep their
// defaults and unknown fields are rejected.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/pipeline"
)

// Config is the complete runner configuration.
type Config struct {
	// Backend selects the isolated environment: "conda" or "docker".
	Backend string `yaml:"backend" json:"backend"`

	// Tool is the program run for every stage and the version it must report.
	Tool Tool `yaml:"tool" json:"tool"`

	Conda  Conda  `yaml:"conda" json:"conda"`
	Docker Docker `yaml:"docker" json:"docker"`

	// Layout names the genome directory, stage directories and extension.
	Layout pipeline.Names `yaml:"layout" json:"layout"`
}

// Tool identifies the wrapped program.
type Tool struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Conda configures the conda backend.
type Conda struct {
	// Executable is the conda binary (name on PATH or absolute path).
	Executable string `yaml:"executable" json:"executable"`

	// Env is the environment name.
	Env string `yaml:"env" json:"env"`

	// Channels are searched in order when creating the environment.
	Channels []string `yaml:"channels" json:"channels"`

	// Packages are "name=version" match specs installed at creation.
	Packages []string `yaml:"packages" json:"packages"`
}

// Docker configures the docker backend.
type Docker struct {
	// Image is the pinned image reference.
	Image string `yaml:"image" json:"image"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: string(model.BackendConda),
		Tool:    Tool{Name: "gtdbtk", Version: "2.4.1"},
		Conda: Conda{
			Executable: "conda",
			Env:        "gtdbtk_env",
			Channels:   []string{"bioconda", "conda-forge"},
			Packages:   []string{"gtdbtk=2.4.1", "pplacer=1.1.alpha19"},
		},
		Docker: Docker{Image: "ecogenomic/gtdbtk:2.4.1"},
		Layout: pipeline.DefaultNames(),
	}
}

// Load reads the configuration file at path on top of Default and
// validates the result. The format is chosen by file extension.
//
// Returns a model.CLIError with ExitInvalidConfig if the file cannot be
// read, parsed or validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidConfig,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &cfg)
	case ".json", ".jsonc":
		err = decodeJSONC(data, &cfg)
	default:
		err = fmt.Errorf("unsupported config format %q (use .yaml, .yml, .json or .jsonc)", ext)
	}
	if err != nil {
		return Config{}, model.WrapCLIError(model.ExitInvalidConfig,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document leaves the defaults in place.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeJSONC(data []byte, cfg *Config) error {
	// jsonc strips comments and trailing commas so that hand-edited
	// files parse with encoding/json.
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration for values that would fail later in
// a less obvious way. Returns a model.CLIError with ExitInvalidConfig.
func (c Config) Validate() error {
	var errs []error

	backend, err := model.ParseBackend(c.Backend)
	if err != nil {
		errs = append(errs, err)
	}
	if c.Tool.Name == "" {
		errs = append(errs, errors.New("tool.name must not be empty"))
	}
	if c.Tool.Version == "" {
		errs = append(errs, errors.New("tool.version must not be empty"))
	}
	if err := c.Layout.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch backend {
	case model.BackendConda:
		if err := model.ValidateEnvName(c.Conda.Env); err != nil {
			errs = append(errs, err)
		}
		if c.Conda.Executable == "" {
			errs = append(errs, errors.New("conda.executable must not be empty"))
		}
		if _, err := c.PackagePins(); err != nil {
			errs = append(errs, err)
		}
	case model.BackendDocker:
		if c.Docker.Image == "" {
			errs = append(errs, errors.New("docker.image must not be empty"))
		}
	}

	if len(errs) > 0 {
		return model.WrapCLIError(model.ExitInvalidConfig, "invalid configuration", errors.Join(errs...))
	}
	return nil
}

// BackendKind returns the parsed backend. Call Validate first.
func (c Config) BackendKind() model.Backend {
	b, _ := model.ParseBackend(c.Backend)
	return b
}

// ToolPin returns the tool name and version as a pin.
func (c Config) ToolPin() model.PackagePin {
	return model.PackagePin{Name: c.Tool.Name, Version: c.Tool.Version}
}

// PackagePins parses Conda.Packages. At least one package is required.
func (c Config) PackagePins() ([]model.PackagePin, error) {
	if len(c.Conda.Packages) == 0 {
		return nil, errors.New("conda.packages must list at least one package")
	}
	pins := make([]model.PackagePin, 0, len(c.Conda.Packages))
	for _, p := range c.Conda.Packages {
		pin, err := model.ParsePackagePin(p)
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, nil
}
