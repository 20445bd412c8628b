package ganache

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found on PATH", name)
	}
}

func TestExecLauncherNotInstalled(t *testing.T) {
	l := NewExecLauncher("ganache-binary-that-does-not-exist")
	_, err := l.Launch(context.Background(), LaunchSpec{Port: 1})

	var notInstalled *NotInstalledError
	require.ErrorAs(t, err, &notInstalled)
	require.ErrorIs(t, err, exec.ErrNotFound)
	require.True(t, isFatalStartError(err))
}

func TestExecLauncherStop(t *testing.T) {
	requireBinary(t, "sleep")

	l := NewExecLauncher("sleep")
	proc, err := l.Launch(context.Background(), LaunchSpec{Args: []string{"30"}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	select {
	case <-proc.Done():
		t.Fatal("process exited early")
	default:
	}

	require.NoError(t, proc.Stop(context.Background()))
	select {
	case <-proc.Done():
	case <-time.After(time.Second):
		t.Fatal("process still running after Stop")
	}
	// stopping twice is fine
	require.NoError(t, proc.Stop(context.Background()))
}

func TestExecLauncherCapturesOutput(t *testing.T) {
	requireBinary(t, "sh")

	l := NewExecLauncher("sh")
	proc, err := l.Launch(context.Background(), LaunchSpec{
		Args:   []string{"-c", "echo listen EADDRINUSE >&2; exit 3"},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.Error(t, proc.Err())
	require.Contains(t, proc.Output(), "listen EADDRINUSE")
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))
	require.Equal(t, "lo world", b.String())
}
