package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/JoobyPM/kopi-locking/internal/fscap"
	"github.com/JoobyPM/kopi-locking/internal/locking"
)

// statusProbeLimit bounds concurrent lock probes in `lock status`.
const statusProbeLimit = 8

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Run commands under kopi locks and inspect lock state",
}

var lockRunCmd = &cobra.Command{
	Use:   "run <install|uninstall|cache> [distribution version] -- <command> [args...]",
	Short: "Run a command while holding a kopi lock",
	Long: `Run a command while holding the lock for an install, uninstall, or
metadata cache update. Install and uninstall of the same JDK share one lock.

The lock is released when the command exits, and also if kopictl dies.

Examples:
  kopictl lock run install temurin 21 -- ./install.sh
  kopictl lock run uninstall corretto 17.0.9 --arch arm64 -- rm -rf ~/.kopi/jdks/corretto-17
  kopictl --no-wait lock run cache -- ./refresh.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dash := cmd.ArgsLenAtDash()
		if dash < 0 || dash == len(args) {
			fmt.Fprintf(os.Stderr, "Error: missing command after --\n")
			return exitErr(exitValidation, "missing command")
		}

		key, err := parseKeyArgs(args[:dash], lockOS, lockArch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitValidation, "invalid lock key")
		}

		if err := initCoordinator(); err != nil {
			return err
		}
		policy, err := cfg.TimeoutPolicy()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitValidation, "invalid lock timeout")
		}

		ctx := cmd.Context()
		command := args[dash:]

		err = coordinator.WithLock(ctx, key, policy, func(h *locking.Handle) error {
			logger.Debug("running under lock",
				"key", key.String(), "backend", h.Backend().String(), "command", command[0])

			child := exec.CommandContext(ctx, command[0], command[1:]...) //nolint:gosec // command comes from the caller's argv
			child.Stdin = os.Stdin
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			child.Env = append(os.Environ(),
				"KOPI_LOCK_KEY="+key.String(),
				"KOPI_LOCK_PATH="+h.Path(),
			)
			return child.Run()
		})
		if err == nil {
			return nil
		}

		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			code := exitError.ExitCode()
			switch {
			case ctx.Err() != nil:
				code = exitCancelled
			case code < 0:
				code = exitValidation
			}
			return exitErr(code, "command failed")
		}
		return lockExit(err)
	},
}

// LockStatus is one entry of `lock status`.
type LockStatus struct {
	Key   string `json:"key" yaml:"key"`
	Path  string `json:"path" yaml:"path"`
	Held  bool   `json:"held" yaml:"held"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StatusReport is the full `lock status` output.
type StatusReport struct {
	StateDir   string       `json:"state_dir" yaml:"state_dir"`
	Mode       string       `json:"mode" yaml:"mode"`
	Filesystem string       `json:"filesystem" yaml:"filesystem"`
	Timeout    string       `json:"timeout" yaml:"timeout"`
	Source     string       `json:"timeout_source" yaml:"timeout_source"`
	Locks      []LockStatus `json:"locks" yaml:"locks"`
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which kopi locks are currently held",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		policy, err := cfg.TimeoutPolicy()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitValidation, "invalid lock timeout")
		}

		locksDir := locking.LocksDir(cfg.StateDir)
		report := StatusReport{
			StateDir:   cfg.StateDir,
			Mode:       string(cfg.LockingMode()),
			Filesystem: fscap.NewDetector(fscap.WithLogger(newLogger(os.Stderr, flagVerbose))).Detect(cfg.StateDir).String(),
			Timeout:    policy.String(),
			Source:     cfg.TimeoutSource().String(),
		}

		locks, err := probeLocks(cmd, locksDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitWrite, "failed to read lock directory")
		}
		report.Locks = locks

		switch lockOutput {
		case outputJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		case outputYAML:
			out, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}

		fmt.Printf("State dir:   %s\n", report.StateDir)
		fmt.Printf("Mode:        %s (filesystem: %s)\n", report.Mode, report.Filesystem)
		fmt.Printf("Timeout:     %s (%s)\n", report.Timeout, report.Source)
		if len(report.Locks) == 0 {
			fmt.Println("No lock files.")
			return nil
		}
		fmt.Println()
		for _, l := range report.Locks {
			state := "free"
			switch {
			case l.Error != "":
				state = "error: " + l.Error
			case l.Held:
				state = "HELD"
			}
			fmt.Printf("  %-48s %s\n", l.Key, state)
		}
		return nil
	},
}

// probeLocks tests every lock file under dir concurrently. A missing
// directory yields an empty list.
func probeLocks(cmd *cobra.Command, dir string) ([]LockStatus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}

	results := make([]LockStatus, len(paths))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(statusProbeLimit)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st := LockStatus{
				Key:  strings.TrimSuffix(filepath.Base(p), ".lock"),
				Path: p,
			}
			held, err := locking.HeldElsewhere(p)
			if err != nil {
				st.Error = err.Error()
			}
			st.Held = held
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

var lockKeyCmd = &cobra.Command{
	Use:   "key <install|uninstall|cache> [distribution version]",
	Short: "Print the canonical lock key and lock file path",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(_ *cobra.Command, args []string) error {
		key, err := parseKeyArgs(args, lockOS, lockArch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitValidation, "invalid lock key")
		}
		if err := initConfig(); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", key.String(), key.Path(cfg.StateDir))
		return nil
	},
}

// parseKeyArgs turns `<scope> [distribution version]` into a lock key.
// OS and arch default to the running machine.
func parseKeyArgs(args []string, osName, arch string) (locking.Key, error) {
	if len(args) == 0 {
		return locking.Key{}, fmt.Errorf("%w: missing scope", locking.ErrInvalidKey)
	}
	scope, err := locking.ParseScope(args[0])
	if err != nil {
		return locking.Key{}, err
	}

	if scope == locking.ScopeCache {
		if len(args) != 1 {
			return locking.Key{}, fmt.Errorf("%w: cache scope takes no distribution or version", locking.ErrInvalidKey)
		}
		return locking.CacheKey(), nil
	}

	if len(args) != 3 {
		return locking.Key{}, fmt.Errorf("%w: %s needs a distribution and a version", locking.ErrInvalidKey, scope)
	}
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}

	coord := locking.ResolveCoordinate(locking.Coordinate{
		Distribution: args[1],
		Version:      args[2],
		OS:           osName,
		Arch:         arch,
	})
	return locking.Canonicalize(scope, coord)
}
