package channel

import (
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectOutput(t *testing.T) (onOutput func(uint64, []byte), snapshot func() string) {
	t.Helper()
	var mu sync.Mutex
	var buf strings.Builder
	return func(_ uint64, data []byte) {
			mu.Lock()
			defer mu.Unlock()
			buf.Write(data)
		}, func() string {
			mu.Lock()
			defer mu.Unlock()
			return buf.String()
		}
}

func TestSpawnRunsCommandAndCapturesOutput(t *testing.T) {
	onOutput, snapshot := collectOutput(t)
	exitCh := make(chan int, 1)

	c, err := Spawn(Options{
		Name:     "echo",
		Argv:     []string{"/bin/sh", "-c", "echo hello-nexus"},
		Rows:     24,
		Cols:     80,
		OnOutput: onOutput,
		OnExit:   func(code int) { exitCh <- code },
	})
	require.NoError(t, err)

	select {
	case code := <-exitCh:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("channel never exited")
	}

	require.Contains(t, snapshot(), "hello-nexus")
	require.Equal(t, 0, c.Wait())
}

func TestWriteDeliversStdinToChild(t *testing.T) {
	onOutput, snapshot := collectOutput(t)
	exitCh := make(chan int, 1)

	c, err := Spawn(Options{
		Name:     "cat",
		Argv:     []string{"cat"},
		Rows:     24,
		Cols:     80,
		OnOutput: onOutput,
		OnExit:   func(code int) { exitCh <- code },
	})
	require.NoError(t, err)

	require.NoError(t, c.Write([]byte("ping\n")))

	require.Eventually(t, func() bool {
		return strings.Contains(snapshot(), "ping")
	}, 2*time.Second, 10*time.Millisecond)

	c.Kill(syscall.SIGTERM)
	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("channel never exited after kill")
	}
}

func TestWriteAfterExitReturnsChannelGone(t *testing.T) {
	exitCh := make(chan int, 1)
	c, err := Spawn(Options{
		Name:   "true",
		Argv:   []string{"/bin/sh", "-c", "exit 0"},
		Rows:   24,
		Cols:   80,
		OnExit: func(code int) { exitCh <- code },
	})
	require.NoError(t, err)

	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("channel never exited")
	}
	// runReader sets the exited state and closes waitCh before it calls
	// onExit; Wait() blocks on that same close, so it is a direct way to
	// synchronize on the state change.
	c.Wait()

	err = c.Write([]byte("too late"))
	require.Error(t, err)
	require.ErrorContains(t, err, "exited")
}

func TestKillEscalatesToSigkillAfterGrace(t *testing.T) {
	exitCh := make(chan int, 1)
	c, err := Spawn(Options{
		Name:   "trap",
		Argv:   []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"},
		Rows:   24,
		Cols:   80,
		OnExit: func(code int) { exitCh <- code },
	})
	require.NoError(t, err)

	start := time.Now()
	c.Kill(syscall.SIGTERM)

	select {
	case <-exitCh:
	case <-time.After(10 * time.Second):
		t.Fatal("channel never exited; SIGKILL escalation failed")
	}
	require.GreaterOrEqual(t, time.Since(start), killGrace)
}

func TestResizeIsIdempotentAndSafeBeforeExecCompletes(t *testing.T) {
	c, err := Spawn(Options{
		Name: "sleeper",
		Argv: []string{"/bin/sh", "-c", "sleep 1"},
		Rows: 24,
		Cols: 80,
	})
	require.NoError(t, err)
	defer c.Kill(syscall.SIGKILL)

	require.NoError(t, c.Resize(40, 120))
	require.NoError(t, c.Resize(40, 120))
}

func TestSnapshotReflectsExitedState(t *testing.T) {
	exitCh := make(chan int, 1)
	c, err := Spawn(Options{
		Name:   "failer",
		Argv:   []string{"/bin/sh", "-c", "exit 7"},
		Rows:   24,
		Cols:   80,
		OnExit: func(code int) { exitCh <- code },
	})
	require.NoError(t, err)

	<-exitCh
	c.Wait()

	info := c.Snapshot()
	require.Equal(t, "failer", info.Name)
	require.True(t, info.HasExited)
	require.Equal(t, StateExited, info.State)
	require.Equal(t, 7, info.ExitCode)
}
