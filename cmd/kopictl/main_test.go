package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoobyPM/kopi-locking/internal/cache"
	"github.com/JoobyPM/kopi-locking/internal/config"
	"github.com/JoobyPM/kopi-locking/internal/locking"
)

func TestParseKeyArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		os      string
		arch    string
		want    string
		wantErr bool
	}{
		{name: "install", args: []string{"install", "temurin", "21"}, os: "linux", arch: "x64", want: "temurin-21-linux-x64"},
		{name: "uninstall shares key", args: []string{"uninstall", "Temurin", "21"}, os: "Linux", arch: "x64", want: "temurin-21-linux-x64"},
		{name: "cache", args: []string{"cache"}, want: "cache"},
		{name: "cache with extra args", args: []string{"cache", "temurin"}, wantErr: true},
		{name: "install missing version", args: []string{"install", "temurin"}, wantErr: true},
		{name: "unknown scope", args: []string{"remove", "temurin", "21"}, wantErr: true},
		{name: "empty", args: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := parseKeyArgs(tt.args, tt.os, tt.arch)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, locking.ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, key.String())
		})
	}
}

func TestParseKeyArgs_DefaultsToHost(t *testing.T) {
	key, err := parseKeyArgs([]string{"install", "temurin", "21"}, "", "")
	require.NoError(t, err)

	want, err := locking.Canonicalize(locking.ScopeInstall, locking.ResolveCoordinate(locking.Coordinate{
		Distribution: "temurin", Version: "21", OS: runtime.GOOS, Arch: runtime.GOARCH,
	}))
	require.NoError(t, err)
	assert.Equal(t, want.String(), key.String())
}

func TestLockExit(t *testing.T) {
	cfg = config.New()
	cfg.StateDir = t.TempDir()
	t.Cleanup(func() { cfg = nil })

	key := locking.CacheKey()
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "busy", err: &locking.WouldBlockError{Key: key}, code: exitBusy},
		{name: "timeout", err: &locking.TimeoutError{Key: key, Waited: time.Second, Timeout: time.Second}, code: exitTimeout},
		{name: "cancelled", err: &locking.CancelledError{Key: key, Cause: context.Canceled}, code: exitCancelled},
		{name: "lock io", err: &locking.IoError{Op: "lock", Path: "x", Err: os.ErrPermission}, code: exitWrite},
		{name: "cache write", err: &cache.WriteError{Op: "rename", Path: "x", Err: os.ErrPermission}, code: exitWrite},
		{name: "wrapped timeout", err: fmt.Errorf("refresh: %w", &locking.TimeoutError{Key: key}), code: exitTimeout},
		{name: "other", err: errors.New("boom"), code: exitValidation},
		{name: "exit error passes through", err: exitErr(42, "child"), code: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exitError *ExitError
			require.ErrorAs(t, lockExit(tt.err), &exitError)
			assert.Equal(t, tt.code, exitError.Code)
		})
	}
}

func TestProbeLocks(t *testing.T) {
	state := t.TempDir()
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	t.Run("missing directory", func(t *testing.T) {
		locks, err := probeLocks(cmd, locking.LocksDir(state))
		require.NoError(t, err)
		assert.Empty(t, locks)
	})

	t.Run("held and free", func(t *testing.T) {
		coord := locking.NewCoordinator(state, locking.WithMode(locking.ModeAdvisory))
		held, err := coord.Acquire(context.Background(), locking.CacheKey(), locking.NoWait())
		require.NoError(t, err)
		defer held.Release() //nolint:errcheck

		key, err := parseKeyArgs([]string{"install", "temurin", "21"}, "linux", "x64")
		require.NoError(t, err)
		free, err := coord.Acquire(context.Background(), key, locking.NoWait())
		require.NoError(t, err)
		require.NoError(t, free.Release())

		// Unrelated files are ignored.
		require.NoError(t, os.WriteFile(filepath.Join(locking.LocksDir(state), "README"), nil, 0o600))

		locks, err := probeLocks(cmd, locking.LocksDir(state))
		require.NoError(t, err)
		require.Len(t, locks, 2)

		byKey := map[string]LockStatus{}
		for _, l := range locks {
			byKey[l.Key] = l
		}
		assert.True(t, byKey["cache"].Held)
		assert.False(t, byKey["temurin-21-linux-x64"].Held)
		assert.Empty(t, byKey["cache"].Error)
	})
}
