package ganache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/celestiaorg/tastora-ganache/framework/ganache/internal"
	"github.com/celestiaorg/tastora-ganache/framework/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

const (
	stopGracePeriod = 5 * time.Second
	outputTailSize  = 4096
)

// LaunchSpec describes one node process to start.
type LaunchSpec struct {
	// Port is the port the node must listen on.
	Port int
	// Args are the command-line arguments, excluding the executable.
	Args []string
	// Logger receives the process output at debug level.
	Logger *zap.Logger
}

// Launcher starts node processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// Process is a running node.
type Process interface {
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error once Done is closed.
	Err() error
	// Output returns the tail of the process's stderr.
	Output() string
	// Stop terminates the process and waits for it to exit.
	Stop(ctx context.Context) error
}

// ExecLauncher runs the ganache executable as a child process.
type ExecLauncher struct {
	// Bin is the executable name or path.
	Bin string

	mu   sync.Mutex
	path string
}

// NewExecLauncher returns an ExecLauncher for bin.
func NewExecLauncher(bin string) *ExecLauncher {
	return &ExecLauncher{Bin: bin}
}

// lookPath resolves the executable once per launcher.
func (l *ExecLauncher) lookPath() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" {
		return l.path, nil
	}
	p, err := exec.LookPath(l.Bin)
	if err != nil {
		return "", newNotInstalledError(err)
	}
	l.path = p
	return p, nil
}

// Launch starts the executable with spec.Args. The process is not bound to ctx; it runs
// until Stop is called.
func (l *ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	bin, err := l.lookPath()
	if err != nil {
		return nil, err
	}
	logger := spec.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("starting ganache process",
		zap.Int("port", spec.Port),
		zap.String("cmd", bin+" "+internal.JoinArgs(internal.RedactArgs(spec.Args))),
	)

	stdout := &zapio.Writer{Log: logger.With(zap.String("stream", "stdout")), Level: zap.DebugLevel}
	stderr := &zapio.Writer{Log: logger.With(zap.String("stream", "stderr")), Level: zap.DebugLevel}
	tail := newTailBuffer(outputTailSize)

	cmd := exec.Command(bin, spec.Args...)
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, types.NewSubprocessError("failed to start ganache process", err)
	}

	p := &execProcess{cmd: cmd, tail: tail, done: make(chan struct{}), logger: logger}
	go func() {
		err := cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	tail   *tailBuffer
	logger *zap.Logger
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Output() string { return p.tail.String() }

// Stop sends SIGTERM and kills the process if it is still running after the grace period.
func (p *execProcess) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return p.kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(stopGracePeriod):
		p.logger.Warn("ganache did not exit after SIGTERM, killing", zap.Int("pid", p.cmd.Process.Pid))
		return p.kill()
	case <-ctx.Done():
		return p.kill()
	}
}

func (p *execProcess) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill ganache process: %w", err)
	}
	<-p.done
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
