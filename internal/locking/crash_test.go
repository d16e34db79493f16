package locking

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperEnv      = "KOPI_LOCKING_HELPER"
	helperStateEnv = "KOPI_LOCKING_HELPER_STATE"
	helperReady    = "locked"
)

// TestHelperHoldLock is not a real test. It runs in a child process, takes
// the cache lock, reports readiness on stdout and then sleeps until killed.
func TestHelperHoldLock(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	c := NewCoordinator(os.Getenv(helperStateEnv), WithMode(ModeAdvisory))
	h, err := c.Acquire(context.Background(), CacheKey(), NoWait())
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n") //nolint:errcheck // best effort diagnostics
		os.Exit(2)
	}

	os.Stdout.WriteString(helperReady + "\n") //nolint:errcheck // parent waits for this line
	time.Sleep(5 * time.Minute)
	runtime.KeepAlive(h)
	os.Exit(0)
}

// startLockHolder launches a child process holding the cache lock under
// stateDir and returns once the child reports the lock is held.
func startLockHolder(t *testing.T, stateDir string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperHoldLock$") //nolint:gosec // re-exec of the test binary
	cmd.Env = append(os.Environ(), helperEnv+"=1", helperStateEnv+"="+stateDir)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	ready := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(stdout).ReadString('\n')
		if err == nil && strings.TrimSpace(line) != helperReady {
			err = assert.AnError
		}
		ready <- err
	}()

	select {
	case err := <-ready:
		require.NoError(t, err, "child failed to take the lock")
	case <-time.After(30 * time.Second):
		t.Fatal("child never reported holding the lock")
	}
	return cmd
}

func TestCrossProcess_ExclusionAndCrashRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}

	state := t.TempDir()
	child := startLockHolder(t, state)

	c := NewCoordinator(state, WithMode(ModeAdvisory), WithBackoffCap(20*time.Millisecond))

	_, err := c.Acquire(context.Background(), CacheKey(), NoWait())
	require.ErrorIs(t, err, ErrWouldBlock, "lock held by another process")

	held, err := HeldElsewhere(CacheKey().Path(state))
	require.NoError(t, err)
	assert.True(t, held)

	// Kill without any chance to clean up.
	require.NoError(t, child.Process.Kill())
	_ = child.Wait()

	h, err := c.Acquire(context.Background(), CacheKey(), Bounded(5*time.Second))
	require.NoError(t, err, "OS releases the lock of a dead process")
	require.NoError(t, h.Release())

	assert.FileExists(t, CacheKey().Path(state), "stale lock file is harmless")
}

func TestCrossProcess_WaiterAcquiresAfterCrash(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}

	state := t.TempDir()
	child := startLockHolder(t, state)

	fb := &recordingFeedback{}
	c := NewCoordinator(state, WithMode(ModeAdvisory), WithBackoffCap(20*time.Millisecond), WithFeedback(fb))

	time.AfterFunc(200*time.Millisecond, func() { _ = child.Process.Kill() })

	start := time.Now()
	h, err := c.Acquire(context.Background(), CacheKey(), Bounded(10*time.Second))
	require.NoError(t, err)
	require.NoError(t, h.Release())

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, []string{"wait", "acquired"}, fb.Events())
}
