package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerConfig configures the local Docker provider.
type DockerConfig struct {
	Image string
	// Timeout bounds a single run.
	Timeout time.Duration
	// MemoryBytes limits container memory. Zero means no limit.
	MemoryBytes int64
	// Network enables container networking.
	Network bool
}

// DockerProvider runs each execution in a fresh, throwaway container.
type DockerProvider struct {
	cfg DockerConfig
	cli *client.Client
}

// NewDockerProvider connects to the Docker daemon configured by the environment.
func NewDockerProvider(cfg DockerConfig) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if cfg.Image == "" {
		cfg.Image = "python:3.11-slim"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &DockerProvider{cfg: cfg, cli: cli}, nil
}

// Close releases the Docker client.
func (p *DockerProvider) Close() error {
	return p.cli.Close()
}

// Create returns a new environment. The container itself is created per run.
func (p *DockerProvider) Create(ctx context.Context) (Environment, error) {
	if _, err := p.cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return &dockerEnvironment{id: "docker-" + uuid.NewString()[:8], p: p}, nil
}

// EnvironmentLabel is set on every container to the ID of the environment
// that created it.
const EnvironmentLabel = "sandbox_server.environment"

type dockerEnvironment struct {
	id string
	p  *DockerProvider
}

func (e *dockerEnvironment) ID() string { return e.id }

// DockerCommand returns the container command that runs code in language.
func DockerCommand(language, code string) ([]string, error) {
	switch lang := NormalizeLanguage(language); lang {
	case "python":
		return []string{"python3", "-c", code}, nil
	case "javascript":
		return []string{"node", "-e", code}, nil
	case "bash":
		return []string{"sh", "-c", code}, nil
	default:
		return nil, unsupported(lang)
	}
}

func (e *dockerEnvironment) RunCode(ctx context.Context, code, language string, out chan<- Notification) (*Execution, error) {
	defer close(out)

	cmd, err := DockerCommand(language, code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.p.cfg.Timeout)
	defer cancel()

	id, err := e.createContainer(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer func() {
		// removal must outlive a cancelled run
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rmCancel()
		_ = e.p.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	if err := e.p.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := e.p.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach container logs: %w", err)
	}
	defer logs.Close()

	exec := &Execution{}
	stdout := &notifyWriter{ctx: ctx, out: out, kind: KindStdout, logs: &exec.Logs.Stdout}
	stderr := &notifyWriter{ctx: ctx, out: out, kind: KindStderr, logs: &exec.Logs.Stderr}
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read container output: %w", err)
	}

	statusCh, errCh := e.p.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			exec.Error = &ExecutionError{
				Name:  "NonZeroExit",
				Value: fmt.Sprintf("exit code %d", status.StatusCode),
			}
			if err := notify(ctx, out, Notification{Kind: KindError, Text: exec.Error.String()}); err != nil {
				return nil, err
			}
		}
	}
	return exec, nil
}

func (e *dockerEnvironment) createContainer(ctx context.Context, cmd []string) (string, error) {
	cfg := &container.Config{
		Image:           e.p.cfg.Image,
		Cmd:             cmd,
		Tty:             false,
		NetworkDisabled: !e.p.cfg.Network,
		WorkingDir:      "/tmp",
		Labels:          map[string]string{EnvironmentLabel: e.id},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{Memory: e.p.cfg.MemoryBytes},
	}

	resp, err := e.p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if client.IsErrNotFound(err) {
		reader, pullErr := e.p.cli.ImagePull(ctx, e.p.cfg.Image, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", e.p.cfg.Image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = e.p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

// notifyWriter turns each demultiplexed write into a Notification.
type notifyWriter struct {
	ctx  context.Context
	out  chan<- Notification
	kind string
	logs *[]string
}

func (w *notifyWriter) Write(p []byte) (int, error) {
	text := string(p)
	*w.logs = append(*w.logs, text)
	if err := notify(w.ctx, w.out, Notification{Kind: w.kind, Text: text}); err != nil {
		return 0, err
	}
	return len(p), nil
}
