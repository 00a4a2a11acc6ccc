package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDockerProviderOrSkip(t *testing.T) (*DockerProvider, Environment) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	p, err := NewDockerProvider(DockerConfig{Image: "alpine:3.20", Timeout: time.Minute, MemoryBytes: 64 << 20})
	if err != nil {
		t.Skipf("Skipping integration test: Docker client error: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env, err := p.Create(ctx)
	if err != nil {
		t.Skipf("Skipping integration test: Docker daemon not reachable: %v", err)
	}
	return p, env
}

func TestDockerEnvironment_RunCode(t *testing.T) {
	p, env := newDockerProviderOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out := make(chan Notification, 64)
	var notes []Notification
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range out {
			notes = append(notes, n)
		}
	}()

	exec, err := env.RunCode(ctx, "echo out; echo err 1>&2; exit 3", "bash", out)
	<-done
	require.NoError(t, err)

	assert.Equal(t, "out\n", strings.Join(exec.Logs.Stdout, ""))
	assert.Equal(t, "err\n", strings.Join(exec.Logs.Stderr, ""))
	require.NotNil(t, exec.Error)
	assert.Equal(t, "NonZeroExit", exec.Error.Name)
	assert.Equal(t, "exit code 3", exec.Error.Value)

	require.NotEmpty(t, notes)
	assert.Equal(t, KindError, notes[len(notes)-1].Kind)
	kinds := map[string]bool{}
	for _, n := range notes {
		kinds[n.Kind] = true
	}
	assert.True(t, kinds[KindStdout])
	assert.True(t, kinds[KindStderr])

	left, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", EnvironmentLabel+"="+env.ID())),
	})
	require.NoError(t, err)
	assert.Empty(t, left, "container must be removed after the run")
}

func TestDockerEnvironment_Success(t *testing.T) {
	_, env := newDockerProviderOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out := make(chan Notification, 16)
	go func() {
		for range out {
		}
	}()
	exec, err := env.RunCode(ctx, "echo 4", "bash", out)
	require.NoError(t, err)
	assert.Nil(t, exec.Error)
	assert.Equal(t, "4\n", strings.Join(exec.Logs.Stdout, ""))
}
