package docker

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/gtdbtk-runner/internal/command"
	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
	"github.com/shinji-kodama/gtdbtk-runner/internal/toolenv"
)

const testImage = "ecogenomic/gtdbtk:2.4.1"

// fakeEngine records operations and serves scripted answers. Each
// RunContainer call pops the next entry from versions and writes it to
// the container's stdout.
type fakeEngine struct {
	ops      []string
	runs     []RunSpec
	present  bool
	versions []string
	codes    []int64

	// pullErrs fail successive pulls; once drained, pulls succeed.
	pullErrs  []error
	pingErr   error
	removeErr error

	// removedAbsent counts RemoveImage calls for an image that was not
	// present, which the Engine contract treats as success.
	removedAbsent int
}

func (f *fakeEngine) Ping(context.Context) error {
	f.ops = append(f.ops, "ping")
	return f.pingErr
}

func (f *fakeEngine) ImageExists(_ context.Context, ref string) (bool, error) {
	f.ops = append(f.ops, "inspect "+ref)
	return f.present, nil
}

func (f *fakeEngine) PullImage(_ context.Context, ref string, _ io.Writer) error {
	f.ops = append(f.ops, "pull "+ref)
	if len(f.pullErrs) > 0 {
		err := f.pullErrs[0]
		f.pullErrs = f.pullErrs[1:]
		return err
	}
	f.present = true
	return nil
}

func (f *fakeEngine) RemoveImage(_ context.Context, ref string) error {
	f.ops = append(f.ops, "rmi "+ref)
	if f.removeErr != nil {
		return f.removeErr
	}
	if !f.present {
		f.removedAbsent++
	}
	f.present = false
	return nil
}

func (f *fakeEngine) RunContainer(_ context.Context, spec RunSpec) (int64, error) {
	f.ops = append(f.ops, "run "+strings.Join(append(slices.Clone(spec.Entrypoint), spec.Cmd...), " "))
	f.runs = append(f.runs, spec)
	if len(f.versions) > 0 {
		if spec.Stdout != nil {
			_, _ = io.WriteString(spec.Stdout, f.versions[0])
		}
		f.versions = f.versions[1:]
	}
	if len(f.codes) > 0 {
		code := f.codes[0]
		f.codes = f.codes[1:]
		return code, nil
	}
	return 0, nil
}

func testImageSpec() ImageSpec {
	return ImageSpec{Image: testImage, Tool: model.PackagePin{Name: "gtdbtk", Version: "2.4.1"}}
}

// TestEnsure_ImagePresent verifies that a present image with the right
// tool version is left untouched.
func TestEnsure_ImagePresent(t *testing.T) {
	eng := &fakeEngine{present: true, versions: []string{"gtdbtk: version 2.4.1\n"}}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	require.NoError(t, env.Ensure(context.Background()))
	assert.Equal(t, []string{"ping", "inspect " + testImage, "run gtdbtk --version"}, eng.ops)
}

// TestEnsure_ImageMissing verifies that a missing image is pulled before
// the version check.
func TestEnsure_ImageMissing(t *testing.T) {
	eng := &fakeEngine{versions: []string{"gtdbtk: version 2.4.1\n"}}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	require.NoError(t, env.Ensure(context.Background()))
	assert.Equal(t, []string{"ping", "inspect " + testImage, "pull " + testImage, "run gtdbtk --version"}, eng.ops)
}

// TestEnsure_VersionMismatch verifies the remove-then-pull sequence when
// the image reports a different tool version.
func TestEnsure_VersionMismatch(t *testing.T) {
	eng := &fakeEngine{present: true, versions: []string{"gtdbtk: version 2.3.2\n", "gtdbtk: version 2.4.1\n"}}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	require.NoError(t, env.Ensure(context.Background()))
	assert.Equal(t, []string{
		"ping",
		"inspect " + testImage,
		"run gtdbtk --version",
		"rmi " + testImage,
		"pull " + testImage,
		"run gtdbtk --version",
	}, eng.ops)
}

// TestEnsure_DaemonDown verifies that an unreachable daemon fails fast
// without touching images.
func TestEnsure_DaemonDown(t *testing.T) {
	pingErr := model.NewCLIError(model.ExitEnvProvisionFailed, "Docker daemon is not responding")
	eng := &fakeEngine{pingErr: pingErr}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	err := env.Ensure(context.Background())
	assert.ErrorIs(t, err, pingErr)
	assert.Equal(t, []string{"ping"}, eng.ops)
}

// TestEnsure_PullFailsTwice verifies that provisioning gives up after the
// single recreate attempt.
func TestEnsure_PullFailsTwice(t *testing.T) {
	pullErr := errors.New("manifest unknown")
	eng := &fakeEngine{pullErrs: []error{pullErr, pullErr}}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	err := env.Ensure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pullErr)
	assert.Equal(t, []string{"ping", "inspect " + testImage, "pull " + testImage, "rmi " + testImage, "pull " + testImage}, eng.ops)
}

// TestEnsure_FirstPullFails verifies that a transient failure on the first
// pull of a missing image is recovered by the second pull.
func TestEnsure_FirstPullFails(t *testing.T) {
	eng := &fakeEngine{
		pullErrs: []error{errors.New("net/http: TLS handshake timeout")},
		versions: []string{"gtdbtk: version 2.4.1\n"},
	}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	require.NoError(t, env.Ensure(context.Background()))
	assert.Equal(t, []string{
		"ping",
		"inspect " + testImage,
		"pull " + testImage,
		"rmi " + testImage,
		"pull " + testImage,
		"run gtdbtk --version",
	}, eng.ops)
	assert.Equal(t, 1, eng.removedAbsent)
}

// TestEnsure_VersionCommandFails verifies that a failing version query
// counts as a broken image.
func TestEnsure_VersionCommandFails(t *testing.T) {
	eng := &fakeEngine{present: true, codes: []int64{127, 0}, versions: []string{"", "gtdbtk: version 2.4.1\n"}}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	require.NoError(t, env.Ensure(context.Background()))
	assert.Contains(t, eng.ops, "rmi "+testImage)
}

// TestExec verifies the container spec built for a stage invocation.
func TestExec(t *testing.T) {
	eng := &fakeEngine{present: true}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	err := env.Exec(context.Background(), toolenv.Invocation{
		Program: "gtdbtk",
		Args:    []string{"identify", "--genome_dir", "/in/Refined_bins", "--out_dir", "/out/Refined_identify", "-x", "fa", "--cpus", "16"},
		Env:     map[string]string{toolenv.DatabaseEnvVar: "/db"},
		Mounts:  []string{"/in/Refined_bins", "/out", "/db", "/out/Refined_identify"},
	})
	require.NoError(t, err)
	require.Len(t, eng.runs, 1)

	spec := eng.runs[0]
	assert.True(t, strings.HasPrefix(spec.Name, containerPrefix))
	assert.Equal(t, testImage, spec.Image)
	assert.Equal(t, []string{"gtdbtk"}, spec.Entrypoint)
	assert.Equal(t, "identify", spec.Cmd[0])
	assert.Equal(t, []string{"GTDBTK_DATA_PATH=/db"}, spec.Env)
	assert.Equal(t, []string{"/db", "/in/Refined_bins", "/out"}, spec.Mounts)
}

// TestExec_UniqueNames verifies that consecutive runs never reuse a
// container name.
func TestExec_UniqueNames(t *testing.T) {
	eng := &fakeEngine{present: true}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	require.NoError(t, env.Exec(context.Background(), toolenv.Invocation{Program: "gtdbtk"}))
	require.NoError(t, env.Exec(context.Background(), toolenv.Invocation{Program: "gtdbtk"}))
	assert.NotEqual(t, eng.runs[0].Name, eng.runs[1].Name)
}

// TestExec_NonZeroExit verifies that a failing container is reported as
// a command.ExitError carrying the exit code.
func TestExec_NonZeroExit(t *testing.T) {
	eng := &fakeEngine{present: true, codes: []int64{2}}
	env := NewEnvironment(testImageSpec(), eng, nil, nil)

	err := env.Exec(context.Background(), toolenv.Invocation{Program: "gtdbtk", Args: []string{"align"}})
	var exitErr *command.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "gtdbtk align", exitErr.Command)
}

// TestMountPaths covers deduplication and nested-path elimination.
func TestMountPaths(t *testing.T) {
	tests := []struct {
		name     string
		mounts   []string
		expected []string
	}{
		{"empty", nil, []string{}},
		{"duplicates", []string{"/a", "/a"}, []string{"/a"}},
		{"nested", []string{"/a/b", "/a"}, []string{"/a"}},
		{"sibling with shared prefix", []string{"/a", "/a-b", "/a/b"}, []string{"/a", "/a-b"}},
		{"colon in path", []string{"/data/run:1"}, []string{"/data/run:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mountPaths(tt.mounts))
		})
	}
}

// TestDescribe checks the identifier used in logs and results.
func TestDescribe(t *testing.T) {
	assert.Equal(t, "docker:"+testImage, NewEnvironment(testImageSpec(), &fakeEngine{}, nil, nil).Describe())
}
