//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kopictlPath returns the path to the kopictl binary.
func kopictlPath() string {
	// Get absolute path from environment if set (for CI)
	if p := os.Getenv("KOPICTL_PATH"); p != "" && fileExists(p) {
		return p
	}

	// Find from current working directory (assumes running from project root)
	if p := filepath.Join("bin", "kopictl"); fileExists(p) {
		return p
	}

	// Find relative to test file location (when running tests directly)
	testDir, _ := os.Getwd()
	projectRoot := filepath.Join(testDir, "..", "..")
	if p := filepath.Join(projectRoot, "bin", "kopictl"); fileExists(p) {
		absPath, _ := filepath.Abs(p)
		return absPath
	}

	// Fallback to PATH
	return "kopictl"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runKopictl executes kopictl against stateDir with the given arguments.
func runKopictl(t *testing.T, stateDir string, args ...string) (string, string, int) {
	t.Helper()

	cmd := exec.Command(kopictlPath(), append([]string{"--state-dir", stateDir}, args...)...)
	cmd.Env = append(os.Environ(), "KOPI_HOME=", "KOPI_LOCK_TIMEOUT=", "KOPI_LOCKING_MODE=advisory")

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("failed to run kopictl: %v", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode
}

// holdLock starts a kopictl process that holds the install lock for
// temurin 21 until the test ends, and waits until the lock is visible.
func holdLock(t *testing.T, stateDir string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(kopictlPath(), "--state-dir", stateDir,
		"lock", "run", "install", "temurin", "21", "--os", "linux", "--arch", "x64",
		"--", "sleep", "30")
	cmd.Env = append(os.Environ(), "KOPI_HOME=", "KOPI_LOCKING_MODE=advisory")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	require.Eventually(t, func() bool {
		stdout, _, code := runKopictl(t, stateDir, "lock", "status", "-o", "json")
		if code != 0 {
			return false
		}
		var report struct {
			Locks []struct {
				Key  string `json:"key"`
				Held bool   `json:"held"`
			} `json:"locks"`
		}
		if json.Unmarshal([]byte(stdout), &report) != nil {
			return false
		}
		for _, l := range report.Locks {
			if l.Key == "temurin-21-linux-x64" && l.Held {
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond, "holder never acquired the lock")

	return cmd
}

func skipUnlessUnix(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep(1) as the lock holder")
	}
}

// TestLockRun_NoWaitBusy verifies --no-wait fails fast with the busy exit code,
// for both install and uninstall of the held JDK.
func TestLockRun_NoWaitBusy(t *testing.T) {
	skipUnlessUnix(t)
	state := t.TempDir()
	holdLock(t, state)

	for _, scope := range []string{"install", "uninstall"} {
		start := time.Now()
		_, stderr, code := runKopictl(t, state, "--no-wait",
			"lock", "run", scope, "Temurin", "21", "--os", "linux", "--arch", "amd64", "--", "true")
		assert.Equal(t, 5, code, "stderr: %s", stderr)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Contains(t, stderr, "temurin-21-linux-x64")
	}
}

// TestLockRun_Timeout verifies a bounded wait fails with the timeout exit code
// and names the flag that extends it.
func TestLockRun_Timeout(t *testing.T) {
	skipUnlessUnix(t)
	state := t.TempDir()
	holdLock(t, state)

	start := time.Now()
	_, stderr, code := runKopictl(t, state, "--lock-timeout", "1",
		"lock", "run", "install", "temurin", "21", "--os", "linux", "--arch", "x64", "--", "true")
	elapsed := time.Since(start)

	assert.Equal(t, 4, code, "stderr: %s", stderr)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Contains(t, stderr, "--lock-timeout")
}

// TestLockRun_OtherKeysProceed verifies a held lock does not block other JDKs.
func TestLockRun_OtherKeysProceed(t *testing.T) {
	skipUnlessUnix(t)
	state := t.TempDir()
	holdLock(t, state)

	_, stderr, code := runKopictl(t, state, "--no-wait",
		"lock", "run", "install", "temurin", "17", "--os", "linux", "--arch", "x64", "--", "true")
	assert.Equal(t, 0, code, "stderr: %s", stderr)
}

// TestLockRun_ReleasedAfterKill verifies the lock frees when its holder dies.
func TestLockRun_ReleasedAfterKill(t *testing.T) {
	skipUnlessUnix(t)
	state := t.TempDir()
	holder := holdLock(t, state)

	require.NoError(t, holder.Process.Kill())
	_ = holder.Wait()

	// The orphaned sleep(1) keeps running but never inherited the lock fd.
	_, stderr, code := runKopictl(t, state, "--lock-timeout", "5",
		"lock", "run", "install", "temurin", "21", "--os", "linux", "--arch", "x64", "--", "true")
	assert.Equal(t, 0, code, "stderr: %s", stderr)
}

// TestLockRun_PropagatesChildExit verifies the child's exit code is returned.
func TestLockRun_PropagatesChildExit(t *testing.T) {
	skipUnlessUnix(t)
	state := t.TempDir()

	_, _, code := runKopictl(t, state, "lock", "run", "cache", "--", "sh", "-c", "exit 7")
	assert.Equal(t, 7, code)
}

// TestCache_RefreshAndShow verifies a refresh is visible to a lock-free reader.
func TestCache_RefreshAndShow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	state := t.TempDir()

	src := filepath.Join(t.TempDir(), "packages.json")
	content := `[{"id":"p1","distribution":"temurin","version":"21","os":"linux","arch":"x64"},
{"id":"p2","distribution":"corretto","version":"17","os":"linux","arch":"x64"}]`
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	stdout, stderr, code := runKopictl(t, state, "cache", "refresh", "--from", src)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "2 packages")

	stdout, stderr, code = runKopictl(t, state, "cache", "show", "-o", "json")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var summary struct {
		Packages      int      `json:"packages"`
		Distributions []string `json:"distributions"`
		Stale         bool     `json:"stale"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 2, summary.Packages)
	assert.ElementsMatch(t, []string{"corretto", "temurin"}, summary.Distributions)
	assert.False(t, summary.Stale)
}

// TestCache_ShowWithoutSnapshot verifies a missing cache is reported, not created.
func TestCache_ShowWithoutSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	state := t.TempDir()

	_, stderr, code := runKopictl(t, state, "cache", "show")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "cache refresh")

	_, err := os.Stat(filepath.Join(state, "cache"))
	assert.True(t, os.IsNotExist(err))
}

// TestLockRun_SignalCancelsWait verifies SIGINT while waiting exits 75.
func TestLockRun_SignalCancelsWait(t *testing.T) {
	skipUnlessUnix(t)
	state := t.TempDir()
	holdLock(t, state)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, kopictlPath(), "--state-dir", state, "--lock-timeout", "infinite",
		"lock", "run", "install", "temurin", "21", "--os", "linux", "--arch", "x64", "--", "true")
	cmd.Env = append(os.Environ(), "KOPI_HOME=", "KOPI_LOCKING_MODE=advisory")
	require.NoError(t, cmd.Start())

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, cmd.Process.Signal(os.Interrupt))

	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 75, exitErr.ExitCode())
}
