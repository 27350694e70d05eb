// Package model defines the domain types for the gtdbtk-runner CLI.
//
// These types are shared between the environment backends (conda, docker),
// the pipeline runner and the cobra commands. None of them hold resources;
// they are plain values passed between components.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Stage identifies one of the three GTDB-Tk pipeline stages.
// Stages always run in the order returned by Stages():
//
//	identify → align → classify
type Stage string

const (
	// StageIdentify finds marker genes in each genome.
	StageIdentify Stage = "identify"

	// StageAlign builds the concatenated marker alignment from the
	// identify output.
	StageAlign Stage = "align"

	// StageClassify places the aligned genomes into the reference tree.
	// It consumes both the original genomes and the align output.
	StageClassify Stage = "classify"
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	return string(s)
}

// IsValid checks whether the Stage value is one of the predefined stages.
func (s Stage) IsValid() bool {
	switch s {
	case StageIdentify, StageAlign, StageClassify:
		return true
	default:
		return false
	}
}

// Stages returns the pipeline stages in execution order.
// A fresh slice is returned on every call so callers may modify it.
func Stages() []Stage {
	return []Stage{StageIdentify, StageAlign, StageClassify}
}

// Backend selects how the isolated tool environment is provisioned.
type Backend string

const (
	// BackendConda provisions a named conda environment (default).
	BackendConda Backend = "conda"

	// BackendDocker runs the tool inside a pinned container image.
	BackendDocker Backend = "docker"
)

// String returns the string representation of Backend.
func (b Backend) String() string {
	return string(b)
}

// IsValid checks whether the Backend value is supported.
func (b Backend) IsValid() bool {
	return b == BackendConda || b == BackendDocker
}

// ParseBackend converts a string to a Backend.
// Returns an error if the string does not match any valid backend.
func ParseBackend(s string) (Backend, error) {
	backend := Backend(strings.ToLower(strings.TrimSpace(s)))
	if !backend.IsValid() {
		return "", fmt.Errorf("invalid backend: %q (valid: conda, docker)", s)
	}
	return backend, nil
}

// PackagePin is a package name pinned to an exact version, rendered in
// conda match-spec form as "name=version".
type PackagePin struct {
	// Name is the package name in the channel (e.g., "gtdbtk").
	Name string `json:"name" yaml:"name"`

	// Version is the exact version string (e.g., "2.4.1").
	Version string `json:"version" yaml:"version"`
}

// String renders the pin as a conda match spec.
func (p PackagePin) String() string {
	return p.Name + "=" + p.Version
}

// pinRegex accepts "name=version" where both parts are non-empty and
// contain no whitespace or further '=' characters.
var pinRegex = regexp.MustCompile(`^([A-Za-z0-9_.+-]+)=([^=\s]+)$`)

// ParsePackagePin parses a "name=version" match spec.
func ParsePackagePin(s string) (PackagePin, error) {
	m := pinRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return PackagePin{}, fmt.Errorf("invalid package pin %q: expected name=version", s)
	}
	return PackagePin{Name: m[1], Version: m[2]}, nil
}

// envNameRegex validates conda environment names: letters, digits,
// underscores, dots and hyphens, starting with a letter or digit.
var envNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateEnvName checks if the given name is usable as an isolated
// environment name.
func ValidateEnvName(name string) error {
	if name == "" {
		return fmt.Errorf("environment name must not be empty")
	}
	if !envNameRegex.MatchString(name) {
		return fmt.Errorf("invalid environment name %q: must contain only letters, digits, '_', '.' and '-'", name)
	}
	return nil
}

// ExitCode defines standard CLI exit codes.
// These codes allow workflow managers and shell scripts to
// programmatically determine why a run failed.
type ExitCode int

const (
	// ExitSuccess indicates all three stages completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred,
	// including flag parsing errors.
	ExitGeneralError ExitCode = 1

	// ExitInputNotFound indicates the genome subdirectory of the input
	// directory does not exist.
	ExitInputNotFound ExitCode = 2

	// ExitNoGenomes indicates the genome subdirectory holds no files
	// with the genome extension.
	ExitNoGenomes ExitCode = 3

	// ExitEnvProvisionFailed indicates the isolated environment could not
	// be created or repaired.
	ExitEnvProvisionFailed ExitCode = 4

	// ExitStageFailed indicates one of identify/align/classify exited
	// with a non-zero status.
	ExitStageFailed ExitCode = 5

	// ExitInvalidConfig indicates the configuration file or flag values
	// were rejected.
	ExitInvalidConfig ExitCode = 6
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
