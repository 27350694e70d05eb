// Package toolenv defines the isolated tool environment capability shared
// by the conda and docker backends.
//
// An Environment is "somewhere GTDB-Tk is installed at the pinned version".
// The pipeline only ever asks it to run one program with explicit arguments
// and environment variables; how the environment is activated (conda run,
// a container) stays inside the backend.
package toolenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// DatabaseEnvVar names the variable GTDB-Tk reads to locate its
// reference database.
const DatabaseEnvVar = "GTDBTK_DATA_PATH"

// ErrVersionMismatch is returned when the installed tool reports a version
// other than the pinned one.
var ErrVersionMismatch = errors.New("installed tool version does not match pin")

// Invocation is one program run inside the environment.
type Invocation struct {
	// Program is the executable inside the environment (e.g., "gtdbtk").
	Program string

	// Args are the program arguments.
	Args []string

	// Env holds variables set for this invocation only.
	Env map[string]string

	// Mounts lists absolute host paths the program must be able to read
	// or write. Backends that isolate the filesystem expose each of these
	// at the same path inside the environment.
	Mounts []string

	// Stdout and Stderr receive the program output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Environment is a provisioned, isolated environment containing the tool.
type Environment interface {
	// Describe returns a short human-readable identifier, such as the
	// conda environment name or the container image reference.
	Describe() string

	// Ensure verifies the environment and (re)creates it when it is
	// missing or holds the wrong tool version.
	Ensure(ctx context.Context) error

	// Exec runs inv inside the environment and blocks until it exits.
	// A non-zero exit is returned as an error.
	Exec(ctx context.Context, inv Invocation) error
}

// versionToken matches the first dotted version number in tool output,
// e.g. "2.4.1" in "gtdbtk: version 2.4.1 Copyright 2017 Pierre-Alain Chaumeil".
var versionToken = regexp.MustCompile(`\d+(?:\.\d+){1,2}(?:[-+][0-9A-Za-z.-]+)?`)

// ExtractVersion returns the first version number found in output, or
// an empty string when none is present.
func ExtractVersion(output string) string {
	return versionToken.FindString(output)
}

// MatchVersion reports whether the version printed by the tool in output
// equals want. Versions are compared as semantic versions, so "2.4.10"
// does not satisfy "2.4.1" while "2.4" does satisfy "2.4.0".
//
// The returned error wraps ErrVersionMismatch when the versions differ,
// and describes what was found.
func MatchVersion(output, want string) error {
	got := ExtractVersion(output)
	if got == "" {
		return fmt.Errorf("%w: no version in output %q", ErrVersionMismatch, strings.TrimSpace(output))
	}

	gotSV, wantSV := "v"+got, "v"+want
	if semver.IsValid(gotSV) && semver.IsValid(wantSV) {
		if semver.Compare(gotSV, wantSV) == 0 {
			return nil
		}
	} else if got == want {
		return nil
	}
	return fmt.Errorf("%w: found %s, want %s", ErrVersionMismatch, got, want)
}
