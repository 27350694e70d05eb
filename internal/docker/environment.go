package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinji-kodama/gtdbtk-runner/internal/command"
	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/toolenv"
)

// containerPrefix prefixes every container this tool creates so that
// leftovers are easy to identify with `docker ps -a`.
const containerPrefix = "gtdbtk-runner-"

// ImageSpec describes the container image that plays the role of the
// isolated environment.
type ImageSpec struct {
	// Image is the pinned image reference (e.g., "ecogenomic/gtdbtk:2.4.1").
	Image string

	// Tool is the program whose version is verified inside the image.
	Tool model.PackagePin
}

// Environment implements toolenv.Environment with one throwaway container
// per invocation.
type Environment struct {
	spec   ImageSpec
	engine Engine
	logger *zap.Logger

	// out receives pull progress.
	out io.Writer

	// user is "uid:gid" so that files written into bind mounts belong to
	// the invoking user. Empty on platforms without numeric ids.
	user string
}

var _ toolenv.Environment = (*Environment)(nil)

// NewEnvironment creates an Environment. A nil logger disables logging and
// a nil out discards pull progress.
func NewEnvironment(spec ImageSpec, engine Engine, logger *zap.Logger, out io.Writer) *Environment {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	env := &Environment{spec: spec, engine: engine, logger: logger, out: out}
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 && gid >= 0 {
		env.user = fmt.Sprintf("%d:%d", uid, gid)
	}
	return env
}

// Describe returns the image reference for log and result output.
func (e *Environment) Describe() string {
	return "docker:" + e.spec.Image
}

// Ensure makes sure the pinned image is present and holds the pinned tool.
//
// An unreachable daemon is reported immediately. Otherwise a missing image
// is pulled; any failure while checking (inspect, pull, version query, or
// a version mismatch) leads to one remove-and-pull attempt followed by a
// final version check.
func (e *Environment) Ensure(ctx context.Context) error {
	if err := e.engine.Ping(ctx); err != nil {
		return err
	}

	err := e.check(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	e.logger.Warn("Image check failed, pulling again",
		zap.String("image", e.spec.Image), zap.Error(err))

	if rmErr := e.engine.RemoveImage(ctx, e.spec.Image); rmErr != nil {
		return fmt.Errorf("failed to remove image %q: %w", e.spec.Image, errors.Join(rmErr, err))
	}
	if err := e.pull(ctx); err != nil {
		return err
	}
	if err := e.verifyVersion(ctx); err != nil {
		return fmt.Errorf("image %q still unusable after pulling again: %w", e.spec.Image, err)
	}
	return nil
}

func (e *Environment) check(ctx context.Context) error {
	exists, err := e.engine.ImageExists(ctx, e.spec.Image)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.pull(ctx); err != nil {
			return err
		}
	}
	return e.verifyVersion(ctx)
}

func (e *Environment) pull(ctx context.Context) error {
	e.logger.Info("Pulling image", zap.String("image", e.spec.Image))
	return e.engine.PullImage(ctx, e.spec.Image, e.out)
}

func (e *Environment) verifyVersion(ctx context.Context) error {
	var out bytes.Buffer
	inv := toolenv.Invocation{
		Program: e.spec.Tool.Name,
		Args:    []string{"--version"},
		Stdout:  &out,
		Stderr:  &out,
	}
	if err := e.Exec(ctx, inv); err != nil {
		return err
	}
	return toolenv.MatchVersion(out.String(), e.spec.Tool.Version)
}

// Exec runs inv in a new container. Every path in inv.Mounts is bind-mounted
// at the same path, so arguments referring to host paths work unchanged.
// A non-zero exit is returned as *command.ExitError.
func (e *Environment) Exec(ctx context.Context, inv toolenv.Invocation) error {
	spec := RunSpec{
		Name:       containerPrefix + uuid.NewString()[:8],
		Image:      e.spec.Image,
		Entrypoint: []string{inv.Program},
		Cmd:        inv.Args,
		Env:        envList(inv.Env),
		Mounts:     mountPaths(inv.Mounts),
		User:       e.user,
		Stdout:     inv.Stdout,
		Stderr:     inv.Stderr,
	}

	rendered := command.Command{Name: inv.Program, Args: inv.Args}.String()
	e.logger.Debug("Executing in container",
		zap.String("container", spec.Name),
		zap.String("image", spec.Image),
		zap.String("command", rendered),
		zap.Strings("mounts", spec.Mounts))

	code, err := e.engine.RunContainer(ctx, spec)
	if err != nil {
		return err
	}
	if code != 0 {
		return &command.ExitError{Command: rendered, Code: int(code)}
	}
	return nil
}

// envList renders env as "KEY=value" entries in key order.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// mountPaths returns the host paths to bind-mount, dropping duplicates and
// paths nested under another mounted path.
func mountPaths(mounts []string) []string {
	paths := slices.Clone(mounts)
	slices.Sort(paths)
	paths = slices.Compact(paths)

	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		nested := slices.ContainsFunc(kept, func(parent string) bool {
			return strings.HasPrefix(p, strings.TrimSuffix(parent, "/")+"/")
		})
		if !nested {
			kept = append(kept, p)
		}
	}
	return kept
}
