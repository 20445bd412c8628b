package ganache

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/celestiaorg/tastora-ganache/framework/ganache/internal"
	"github.com/celestiaorg/tastora-ganache/framework/testutil/random"
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerimagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/client"
	"github.com/moby/moby/errdefs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

const (
	// DefaultImage is the image used by the docker runtime.
	DefaultImage = "trufflesuite/ganache:latest"
	// CleanupLabel tags every container started by DockerLauncher.
	CleanupLabel = "tastora-ganache"
)

// DockerLauncher runs ganache inside a docker container, publishing its port on 127.0.0.1.
type DockerLauncher struct {
	client *client.Client
	image  string

	mu     sync.Mutex
	pulled bool
}

// NewDockerLauncher returns a launcher using an existing docker client.
func NewDockerLauncher(cli *client.Client, image string) *DockerLauncher {
	return &DockerLauncher{client: cli, image: image}
}

// NewDockerLauncherFromEnv returns a launcher connected to the docker daemon configured
// in the environment.
func NewDockerLauncherFromEnv(image string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewDockerLauncher(cli, image), nil
}

// ensureImage pulls the image if it is not present locally. A failed pull means ganache is
// not available.
func (l *DockerLauncher) ensureImage(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pulled {
		return nil
	}

	images, err := l.client.ImageList(ctx, dockerimagetypes.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", l.image)),
	})
	if err != nil {
		return fmt.Errorf("listing images to check %s presence: %w", l.image, err)
	}
	if len(images) == 0 {
		rc, err := l.client.ImagePull(ctx, l.image, dockerimagetypes.PullOptions{})
		if err != nil {
			return newNotInstalledError(fmt.Errorf("pulling %s: %w", l.image, err))
		}
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}
	l.pulled = true
	return nil
}

// Launch creates and starts a container running ganache with spec.Args.
func (l *DockerLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := l.ensureImage(ctx); err != nil {
		return nil, err
	}
	logger := spec.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	name := internal.CondenseHostName(internal.SanitizeDockerResourceName(
		fmt.Sprintf("ganache-%d-%s", spec.Port, random.LowerCaseLetterString(6)),
	))
	args := append([]string{"--server.host", "0.0.0.0"}, spec.Args...)
	port := nat.Port(fmt.Sprintf("%d/tcp", spec.Port))

	logger.Info("starting ganache container",
		zap.String("container", name),
		zap.String("image", l.image),
		zap.Int("port", spec.Port),
		zap.String("cmd", internal.JoinArgs(internal.RedactArgs(args))),
	)

	created, err := l.client.ContainerCreate(ctx,
		&container.Config{
			Image:        l.image,
			Cmd:          args,
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels:       map[string]string{CleanupLabel: name},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: {{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.Port)}},
			},
		},
		nil, nil, name,
	)
	if err != nil {
		return nil, types.NewSubprocessError("failed to create ganache container", err)
	}

	p := &containerProcess{
		client: l.client,
		id:     created.ID,
		name:   name,
		logger: logger,
		tail:   newTailBuffer(outputTailSize),
		done:   make(chan struct{}),
	}
	if err := l.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = p.remove(context.Background())
		return nil, types.NewSubprocessError("failed to start ganache container", err)
	}

	go p.streamLogs()
	go p.wait()
	return p, nil
}

type containerProcess struct {
	client *client.Client
	id     string
	name   string
	logger *zap.Logger
	tail   *tailBuffer
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *containerProcess) Done() <-chan struct{} { return p.done }

func (p *containerProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *containerProcess) Output() string { return p.tail.String() }

func (p *containerProcess) wait() {
	defer close(p.done)
	waitCh, errCh := p.client.ContainerWait(context.Background(), p.id, container.WaitConditionNotRunning)
	var err error
	select {
	case err = <-errCh:
	case res := <-waitCh:
		switch {
		case res.Error != nil:
			err = fmt.Errorf("container %s: %s", p.name, res.Error.Message)
		case res.StatusCode != 0:
			err = fmt.Errorf("container %s exited with status %d", p.name, res.StatusCode)
		}
	}
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *containerProcess) streamLogs() {
	rc, err := p.client.ContainerLogs(context.Background(), p.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		p.logger.Debug("failed to follow container logs", zap.String("container", p.name), zap.Error(err))
		return
	}
	defer rc.Close()

	stdout := &zapio.Writer{Log: p.logger.With(zap.String("stream", "stdout")), Level: zap.DebugLevel}
	stderr := &zapio.Writer{Log: p.logger.With(zap.String("stream", "stderr")), Level: zap.DebugLevel}
	defer stdout.Close()
	defer stderr.Close()
	_, _ = stdcopy.StdCopy(stdout, io.MultiWriter(stderr, p.tail), rc)
}

// Stop stops and removes the container.
func (p *containerProcess) Stop(ctx context.Context) error {
	timeout := int(stopGracePeriod / time.Second)
	if err := p.client.ContainerStop(ctx, p.id, container.StopOptions{Timeout: &timeout}); isLoggableStopError(err) {
		p.logger.Warn("failed to stop ganache container", zap.String("container", p.name), zap.Error(err))
	}
	return p.remove(ctx)
}

func (p *containerProcess) remove(ctx context.Context) error {
	err := p.client.ContainerRemove(ctx, p.id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", p.name, err)
	}
	return nil
}

func isLoggableStopError(err error) bool {
	if err == nil {
		return false
	}
	return !(errdefs.IsNotModified(err) || errdefs.IsNotFound(err))
}

// RemoveStale stops and removes every container carrying CleanupLabel, for example those left
// behind by an interrupted run. It returns the number of containers removed.
func (l *DockerLauncher) RemoveStale(ctx context.Context, logger *zap.Logger) (int, error) {
	cs, err := l.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", CleanupLabel)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list ganache containers: %w", err)
	}

	removed := 0
	for _, c := range cs {
		timeout := int(stopGracePeriod / time.Second)
		if err := l.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); isLoggableStopError(err) {
			logger.Warn("failed to stop stale container", zap.String("id", c.ID), zap.Error(err))
		}
		if err := l.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			logger.Warn("failed to remove stale container", zap.String("id", c.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
