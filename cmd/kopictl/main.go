// Package main provides the CLI entry point for kopictl.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JoobyPM/kopi-locking/internal/cache"
	"github.com/JoobyPM/kopi-locking/internal/config"
	"github.com/JoobyPM/kopi-locking/internal/locking"
	"github.com/JoobyPM/kopi-locking/internal/status"
)

// Output format constants.
const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputText = "text"
)

var (
	// Global flags
	flagConfigPath  string
	flagStateDir    string
	flagLockTimeout string
	flagNoWait      bool
	flagLockingMode string
	flagVerbose     bool

	// Lock flags
	lockOS      string
	lockArch    string
	lockOutput  string
	cacheFrom   string
	cacheOutput string

	// Config show flags
	configShowOutput string

	// Global config (loaded once, used by all commands)
	cfg *config.Config

	// Shared per-process collaborators, built by initCoordinator
	logger      *slog.Logger
	coordinator *locking.Coordinator
	store       *cache.Store
	swept       bool
)

// Exit codes.
// Commands use these semantically:
//   - exitValidation: invalid input or configuration, generic failure
//   - exitWrite: lock file or cache write failure
//   - exitTimeout: lock wait exceeded --lock-timeout
//   - exitBusy: lock held and --no-wait given
//   - exitCancelled: interrupted while waiting (EX_TEMPFAIL)
const (
	exitValidation = 1
	exitWrite      = 3
	exitTimeout    = 4
	exitBusy       = 5
	exitCancelled  = 75
)

// ExitError is an error that carries a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitErr creates an ExitError with the given code and message.
func exitErr(code int, msg string) error {
	return &ExitError{Code: code, Message: msg}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var exitError *ExitError
		if errors.As(err, &exitError) {
			os.Exit(exitError.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kopictl",
	Short: "Coordinate kopi JDK installs and metadata cache updates across processes",
	Long: `kopictl serializes mutating operations on a shared kopi state directory.

Installs and uninstalls of the same JDK (distribution, version, OS, arch)
take one advisory lock, metadata cache refreshes take another, and readers
of the cache never wait. On network filesystems where advisory locks cannot
be trusted, locking is bypassed with a warning.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// initConfig loads the configuration with proper precedence.
func initConfig() error {
	if cfg != nil {
		return nil
	}

	loaded, err := config.Load(config.LoadOptions{
		ExplicitPath: flagConfigPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitErr(exitValidation, "failed to load config")
	}

	// Apply CLI flag overrides (highest priority)
	loaded.ApplyCLIOverrides(config.CLIOverrides{
		StateDir:    flagStateDir,
		LockTimeout: flagLockTimeout,
		NoWait:      flagNoWait,
		LockingMode: flagLockingMode,
	})

	if err := loaded.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitErr(exitValidation, "invalid config")
	}

	cfg = loaded
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// initCoordinator builds the lock coordinator and cache store, then runs the
// startup temp-file sweep once per process.
func initCoordinator() error {
	if coordinator != nil {
		return nil
	}
	if err := initConfig(); err != nil {
		return err
	}

	logger = newLogger(os.Stderr, flagVerbose)
	reporter := status.NewReporter(os.Stderr, cfg.TimeoutSource().String())

	coordinator = locking.NewCoordinator(cfg.StateDir,
		locking.WithMode(cfg.LockingMode()),
		locking.WithBackoffCap(cfg.BackoffCapDuration()),
		locking.WithFeedback(reporter),
		locking.WithLogger(logger),
	)
	store = cache.NewStore(cfg.CacheDir(),
		cache.WithFileName(cfg.CacheFile()),
		cache.WithLogger(logger),
	)

	if !swept {
		swept = true
		if _, err := cache.Hygiene(coordinator, store, cache.DefaultSweepAge); err != nil {
			logger.Warn("startup cache sweep failed", "error", err)
		}
	}
	return nil
}

// lockExit prints a user-facing explanation for a lock or cache failure and
// maps it to an exit code.
func lockExit(err error) error {
	var (
		timeoutErr *locking.TimeoutError
		ioErr      *locking.IoError
		writeErr   *cache.WriteError
	)

	switch {
	case errors.Is(err, locking.ErrWouldBlock):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Another kopi process is working on it. Retry later, or drop --no-wait to wait for it.")
		return exitErr(exitBusy, "lock busy")

	case errors.As(err, &timeoutErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Wait longer with --lock-timeout <seconds|infinite> or %s.\n", config.EnvLockTimeout)
		return exitErr(exitTimeout, "lock timeout")

	case errors.Is(err, locking.ErrCancelled):
		fmt.Fprintln(os.Stderr, "Cancelled; nothing was changed.")
		return exitErr(exitCancelled, "cancelled")

	case errors.As(err, &ioErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Check that %s exists and is writable by this user.\n", locking.LocksDir(cfg.StateDir))
		return exitErr(exitWrite, "lock file error")

	case errors.As(err, &writeErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "The previous cache was kept.")
		return exitErr(exitWrite, "cache write failed")

	default:
		var exitError *ExitError
		if errors.As(err, &exitError) {
			return err
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitErr(exitValidation, err.Error())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Custom config file path")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "kopi state directory (default $KOPI_HOME or ~/.kopi)")
	rootCmd.PersistentFlags().StringVar(&flagLockTimeout, "lock-timeout", "", "Lock wait in seconds, 0 for no wait, or 'infinite'")
	rootCmd.PersistentFlags().BoolVar(&flagNoWait, "no-wait", false, "Fail immediately if the lock is held")
	rootCmd.PersistentFlags().StringVar(&flagLockingMode, "locking-mode", "", "Locking mode: auto, advisory, or bypass")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log lock diagnostics to stderr")

	// Lock flags
	lockRunCmd.Flags().StringVar(&lockOS, "os", "", "Target OS (default: this machine)")
	lockRunCmd.Flags().StringVar(&lockArch, "arch", "", "Target architecture (default: this machine)")
	lockKeyCmd.Flags().StringVar(&lockOS, "os", "", "Target OS (default: this machine)")
	lockKeyCmd.Flags().StringVar(&lockArch, "arch", "", "Target architecture (default: this machine)")
	lockStatusCmd.Flags().StringVarP(&lockOutput, "output", "o", "text", "Output format (text, json, yaml)")

	// Cache flags
	cacheRefreshCmd.Flags().StringVar(&cacheFrom, "from", "", "JSON file with metadata or a package array (required)")
	cacheShowCmd.Flags().StringVarP(&cacheOutput, "output", "o", "text", "Output format (text, json, yaml)")

	// Config show flags
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "yaml", "Output format (yaml, json)")

	// Build command tree
	lockCmd.AddCommand(lockRunCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockKeyCmd)
	cacheCmd.AddCommand(cacheRefreshCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}
