package locking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JoobyPM/kopi-locking/internal/fscap"
)

const locksDirMode os.FileMode = 0o700

// CapabilityDetector classifies the filesystem holding a directory.
type CapabilityDetector interface {
	Detect(dir string) fscap.Capability
}

// Coordinator issues exclusive handles for keys under one state directory.
// A process normally builds one Coordinator; its bypass warning fires at
// most once.
type Coordinator struct {
	stateDir string
	mode     Mode
	detector CapabilityDetector
	backoff  Backoff
	feedback Feedback
	logger   *slog.Logger
	newLock  func(path string) advisoryLock

	bypassWarning sync.Once
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMode overrides backend selection.
func WithMode(m Mode) Option {
	return func(c *Coordinator) {
		if m != "" {
			c.mode = m
		}
	}
}

// WithDetector replaces the filesystem capability detector.
func WithDetector(d CapabilityDetector) Option {
	return func(c *Coordinator) {
		if d != nil {
			c.detector = d
		}
	}
}

// WithBackoff replaces the retry interval schedule.
func WithBackoff(b Backoff) Option {
	return func(c *Coordinator) {
		c.backoff = b
	}
}

// WithBackoffCap keeps the default schedule but caps intervals at d.
func WithBackoffCap(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.backoff.Cap = d
		}
	}
}

// WithFeedback installs a wait observer.
func WithFeedback(f Feedback) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.feedback = f
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator returns a coordinator keeping lock files under
// {stateDir}/locks.
func NewCoordinator(stateDir string, opts ...Option) *Coordinator {
	c := &Coordinator{
		stateDir: stateDir,
		mode:     ModeAuto,
		backoff:  DefaultBackoff(),
		feedback: NoopFeedback{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		newLock:  newFlock,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.detector == nil {
		c.detector = fscap.NewDetector(fscap.WithLogger(c.logger))
	}
	return c
}

// StateDir returns the state directory the coordinator guards.
func (c *Coordinator) StateDir() string { return c.stateDir }

// Mode returns the configured locking mode.
func (c *Coordinator) Mode() Mode { return c.mode }

// Acquire returns a held handle for key, waiting according to policy.
//
// The lock is probed without blocking first. If it is held, NoWait fails
// with a *WouldBlockError; otherwise Acquire sleeps on the backoff schedule,
// clipped to the remaining budget, and probes again until it wins, the
// budget runs out (*TimeoutError) or ctx is done (*CancelledError). Failure
// to create or open the lock file is an *IoError and is never retried.
//
// On filesystems where advisory locks are unreliable a bypass handle is
// returned immediately and a warning is logged once per Coordinator.
//
// The same key acquired twice in one process contends with itself: there
// is no reentrancy.
func (c *Coordinator) Acquire(ctx context.Context, key Key, policy TimeoutPolicy) (*Handle, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	path := key.Path(c.stateDir)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, locksDirMode); err != nil {
		return nil, &IoError{Op: "create lock directory", Path: dir, Err: err}
	}

	if c.backendFor(dir) == BackendBypass {
		c.warnBypass(dir)
		return newHandle(key, path, BackendBypass, nil, c.logger), nil
	}

	if err := ensureLockFile(path); err != nil {
		return nil, &IoError{Op: "create lock file", Path: path, Err: err}
	}

	lk := c.newLock(path)
	start := time.Now()

	acquired, err := lk.TryLock()
	if err != nil {
		return nil, &IoError{Op: "lock", Path: path, Err: err}
	}
	if acquired {
		c.logger.Debug("lock acquired", "key", key.String(), "path", path)
		return newHandle(key, path, BackendAdvisory, lk, c.logger), nil
	}

	if policy.IsNoWait() {
		c.logger.Debug("lock busy", "key", key.String(), "policy", policy.String())
		return nil, &WouldBlockError{Key: key}
	}

	return c.wait(ctx, key, path, lk, policy, start)
}

func (c *Coordinator) wait(
	ctx context.Context,
	key Key,
	path string,
	lk advisoryLock,
	policy TimeoutPolicy,
	start time.Time,
) (*Handle, error) {
	c.feedback.OnWaitStarted(key, policy)
	c.logger.Debug("waiting for lock", "key", key.String(), "policy", policy.String())

	budget, bounded := policy.Budget()
	backoff := c.backoff
	backoff.Reset()

	for attempt := 1; ; attempt++ {
		delay := backoff.Next()
		if bounded {
			remaining := budget - time.Since(start)
			if remaining <= 0 {
				return nil, c.timedOut(key, budget, time.Since(start))
			}
			delay = min(delay, remaining)
		}

		if err := sleep(ctx, delay); err != nil {
			return nil, c.cancelled(ctx, key, time.Since(start))
		}

		acquired, err := lk.TryLock()
		if err != nil {
			return nil, &IoError{Op: "lock", Path: path, Err: err}
		}

		elapsed := time.Since(start)
		if acquired {
			c.feedback.OnAcquired(key, elapsed)
			c.logger.Debug("lock acquired after wait",
				"key", key.String(), "waited", elapsed.Round(time.Millisecond), "attempts", attempt+1)
			return newHandle(key, path, BackendAdvisory, lk, c.logger), nil
		}

		if bounded && elapsed >= budget {
			return nil, c.timedOut(key, budget, elapsed)
		}

		var remaining *time.Duration
		if bounded {
			r := budget - elapsed
			remaining = &r
		}
		c.feedback.OnTick(key, elapsed, remaining)
	}
}

func (c *Coordinator) timedOut(key Key, budget, elapsed time.Duration) error {
	c.feedback.OnTimeout(key, elapsed)
	return &TimeoutError{Key: key, Waited: elapsed, Timeout: budget}
}

func (c *Coordinator) cancelled(ctx context.Context, key Key, elapsed time.Duration) error {
	c.feedback.OnCancelled(key, elapsed)
	return &CancelledError{Key: key, Waited: elapsed, Cause: context.Cause(ctx)}
}

// TryAcquire takes the lock only if it is free. A busy lock yields
// (nil, nil); any other failure is returned as an error.
func (c *Coordinator) TryAcquire(key Key) (*Handle, error) {
	h, err := c.Acquire(context.Background(), key, NoWait())
	if errors.Is(err, ErrWouldBlock) {
		return nil, nil
	}
	return h, err
}

// WithLock runs fn while holding key and releases the lock on every path
// out of fn, including a panic, which is re-raised after release. A
// release failure is returned only when fn itself succeeded.
func (c *Coordinator) WithLock(ctx context.Context, key Key, policy TimeoutPolicy, fn func(*Handle) error) (err error) {
	h, err := c.Acquire(ctx, key, policy)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			if err == nil {
				err = rerr
			} else {
				c.logger.Warn("failed to release lock", "key", key.String(), "error", rerr)
			}
		}
	}()

	return fn(h)
}

func (c *Coordinator) backendFor(dir string) Backend {
	switch c.mode {
	case ModeAdvisory:
		return BackendAdvisory
	case ModeBypass:
		return BackendBypass
	}
	if c.detector.Detect(dir) == fscap.Unreliable {
		return BackendBypass
	}
	return BackendAdvisory
}

func (c *Coordinator) warnBypass(dir string) {
	c.bypassWarning.Do(func() {
		if c.mode == ModeBypass {
			c.logger.Warn("advisory locking disabled by configuration; concurrent kopi processes are not serialized",
				"dir", dir)
			return
		}
		c.logger.Warn("advisory locks are unreliable on this filesystem; concurrent kopi processes are not serialized",
			"dir", dir)
	})
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}
