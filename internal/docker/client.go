package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
)

// defaultPingTimeout is the maximum duration to wait for a Docker daemon
// response during a Ping operation. 5 seconds is generous enough for most
// environments, including Docker Desktop on macOS which can be slower
// than native Linux Docker.
const defaultPingTimeout = 5 * time.Second

// RunSpec describes a throwaway container run.
type RunSpec struct {
	// Name is the container name. It must be unique on the daemon.
	Name string

	// Image is the image reference to run.
	Image string

	// Entrypoint replaces the image entrypoint; Cmd holds its arguments.
	Entrypoint []string
	Cmd        []string

	// Env entries in "KEY=value" form.
	Env []string

	// Mounts are host paths bind-mounted at the identical container path.
	// A missing host path makes the run fail instead of being created.
	Mounts []string

	// User is "uid:gid" to run as, or empty for the image default.
	User string

	// Stdout and Stderr receive the demultiplexed container logs.
	Stdout io.Writer
	Stderr io.Writer
}

// Engine is the subset of Docker operations the container backend needs.
// *Client implements it against a real daemon. RemoveImage succeeds when
// the image is already absent.
type Engine interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string, progress io.Writer) error
	RemoveImage(ctx context.Context, ref string) error
	RunContainer(ctx context.Context, spec RunSpec) (int64, error)
}

// Client wraps the Docker Engine SDK client. It handles automatic Docker
// socket detection across platforms (Linux, macOS, Windows) and exposes
// the image and container operations used by the GTDB-Tk backend.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()  // Always close to release resources
//	if err := c.Ping(ctx); err != nil { /* Docker not running */ }
type Client struct {
	// inner is the underlying Docker SDK client. We wrap it rather than
	// embedding it to control the exposed API surface.
	inner *client.Client
}

var _ Engine = (*Client)(nil)

// NewClient creates a new Docker client with automatic socket detection.
//
// The detection strategy follows this priority order:
//  1. DOCKER_HOST environment variable (if set, used as-is)
//  2. Platform-specific default socket paths:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine (Docker Named Pipe)
//
// Returns a model.CLIError with ExitEnvProvisionFailed if no Docker socket
// is found or the client cannot be created.
func NewClient() (*Client, error) {
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		return newClientWithHost(dockerHost)
	}

	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitEnvProvisionFailed,
			"Docker socket not found",
			err,
		)
	}

	return newClientWithHost(host)
}

// newClientWithHost creates a Docker client connected to the specified host.
// The host parameter should be a valid Docker connection string (e.g.,
// "unix:///var/run/docker.sock" or "npipe:////./pipe/docker_engine").
func newClientWithHost(host string) (*Client, error) {
	// WithAPIVersionNegotiation avoids hardcoding an API version, so the
	// binary works against older and newer daemons alike.
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitEnvProvisionFailed,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}

	return &Client{inner: c}, nil
}

// detectDockerHost determines the Docker socket path for the current platform.
// It probes known socket paths and returns the first one that exists.
//
// Socket existence is checked rather than connectivity; Ping handles the
// latter.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
		})

	case "darwin":
		// Newer Docker Desktop versions may only create the socket under
		// the user's home directory.
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return detectUnixSocket([]string{
				"/var/run/docker.sock",
			})
		}
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
			homeDir + "/.docker/run/docker.sock",
		})

	case "windows":
		// os.Stat does not work on Windows named pipes, so probe with a dial.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket probes a list of Unix socket paths and returns the
// Docker host URI for the first socket that exists on the filesystem.
//
// The paths are checked in order, so callers should list them from
// most-preferred to least-preferred.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf(
		"Docker socket not found at any of: %v (is Docker running?)",
		paths,
	)
}

// Ping verifies that the Docker daemon is reachable and responsive.
// It sends a lightweight ping request to the Docker API and waits
// up to defaultPingTimeout for a response.
//
// Returns a model.CLIError with ExitEnvProvisionFailed if the daemon
// does not respond or returns an error.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitEnvProvisionFailed,
			"Docker daemon is not responding (is Docker running?)",
			err,
		)
	}
	return nil
}

// ImageExists reports whether ref is present in the local image store.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.inner.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %q: %w", ref, err)
}

// PullImage pulls ref and renders the daemon's progress messages to
// progress. Errors reported inside the progress stream (e.g., manifest
// unknown) are returned as errors.
func (c *Client) PullImage(ctx context.Context, ref string, progress io.Writer) error {
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %q: %w", ref, err)
	}
	defer func() { _ = rc.Close() }()

	if progress == nil {
		progress = io.Discard
	}
	if err := jsonmessage.DisplayJSONMessagesStream(rc, progress, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image %q: %w", ref, err)
	}
	return nil
}

// RemoveImage force-removes ref from the local image store. An image that
// is not present counts as removed.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	_, err := c.inner.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove image %q: %w", ref, err)
	}
	return nil
}

// RunContainer creates and starts a container, follows its logs until it
// exits, and returns its exit code. The container is always removed, even
// when ctx is cancelled.
func (c *Client) RunContainer(ctx context.Context, spec RunSpec) (int64, error) {
	resp, err := c.inner.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Entrypoint: spec.Entrypoint,
			Cmd:        spec.Cmd,
			Env:        spec.Env,
			User:       spec.User,
		},
		&container.HostConfig{Mounts: bindMounts(spec.Mounts)},
		nil, nil, spec.Name)
	if err != nil {
		return -1, fmt.Errorf("failed to create container %q: %w", spec.Name, err)
	}
	defer func() {
		// WithoutCancel lets the cleanup run after an interrupt.
		_ = c.inner.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := c.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("failed to start container %q: %w", spec.Name, err)
	}

	logs, err := c.inner.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to attach to container %q logs: %w", spec.Name, err)
	}
	defer func() { _ = logs.Close() }()

	stdout, stderr := spec.Stdout, spec.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	// The log stream ends when the container exits.
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return -1, fmt.Errorf("failed to read container %q logs: %w", spec.Name, err)
	}

	statusCh, errCh := c.inner.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed waiting for container %q: %w", spec.Name, err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("container %q: %s", spec.Name, status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

// bindMounts maps each host path to a bind mount at the same path.
func bindMounts(paths []string) []mount.Mount {
	if len(paths) == 0 {
		return nil
	}
	mounts := make([]mount.Mount, len(paths))
	for i, p := range paths {
		mounts[i] = mount.Mount{Type: mount.TypeBind, Source: p, Target: p}
	}
	return mounts
}

// Close releases all resources held by the Docker client.
// This should be called when the client is no longer needed,
// typically via defer immediately after NewClient().
//
// Close is safe to call multiple times.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
