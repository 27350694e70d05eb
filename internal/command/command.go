// Package command runs external programs on behalf of the environment
// backends.
//
// Every external call made by gtdbtk-runner (conda, gtdbtk) goes through
// the Runner interface. Commands are argument vectors handed straight to
// the operating system; no shell is involved, so paths containing spaces or
// shell metacharacters are passed through untouched.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
)

// Command describes a single external program invocation.
type Command struct {
	// Name is the program to execute. It is resolved through PATH
	// when it does not contain a path separator.
	Name string

	// Args are the program arguments, excluding Name.
	Args []string

	// Env holds variables added on top of the current process
	// environment. The current process environment is never modified.
	Env map[string]string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Stdout and Stderr receive the program output as it is produced.
	// When nil, the output is captured and returned in Result instead.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs and error messages.
// Arguments containing whitespace or quotes are quoted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quoteArg(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'\\") {
		return strconv.Quote(s)
	}
	return s
}

// Environ returns the environment for the child process: the current
// process environment followed by Env in key order. Later entries win,
// so Env overrides inherited values.
func (c Command) Environ() []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Result holds captured output. A stream that was redirected to a
// caller-supplied writer is left empty.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes commands. Implementations block until the program exits.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a program that started but exited with a non-zero
// status.
type ExitError struct {
	// Command is the rendered command line.
	Command string

	// Code is the process exit code, or -1 if the process was killed
	// by a signal.
	Code int

	// Stderr is the captured, trimmed standard error output. It is empty
	// when stderr was streamed to a caller-supplied writer.
	Stderr string

	// Err is the underlying *exec.ExitError.
	Err error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands as child processes via os/exec.
type ExecRunner struct{}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command and waits for it to exit.
//
// A program that cannot be started (e.g., not on PATH) yields an error
// wrapping exec.ErrNotFound or the underlying start error. A program
// that exits non-zero yields an *ExitError. If ctx is cancelled while the
// program runs, the process is killed and the returned error wraps
// ctx.Err().
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	// #nosec G204 -- the argument vector is built by this program, not a shell
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Environ()

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	cmd.Stderr = &stderr
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s interrupted: %w", c.String(), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{
			Command: c.String(),
			Code:    exitErr.ExitCode(),
			Stderr:  strings.TrimSpace(res.Stderr),
			Err:     exitErr,
		}
	}

	return res, fmt.Errorf("failed to start %s: %w", c.Name, err)
}
