package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/JoobyPM/kopi-locking/internal/locking"
)

// DefaultSweepAge is how old a temp file must be before Hygiene removes it
// when the cache lock cannot prove that no writer is active.
const DefaultSweepAge = 10 * time.Minute

// SweepResult summarizes a sweep.
type SweepResult struct {
	Removed []string
	Kept    int
}

// Sweep removes temp files left next to the snapshot by writers that died
// before renaming. Files younger than minAge are kept; pass 0 to remove
// every match. Errors are collected and joined; a file that vanished
// concurrently is not an error.
func (s *Store) Sweep(minAge time.Duration) (SweepResult, error) {
	var result SweepResult

	matches, err := filepath.Glob(filepath.Join(s.dir, s.tempPattern()))
	if err != nil {
		return result, fmt.Errorf("glob temp files: %w", err)
	}

	now := time.Now()
	var errs []error
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("stat %s: %w", path, err))
			}
			continue
		}
		if !info.Mode().IsRegular() || now.Sub(info.ModTime()) < minAge {
			result.Kept++
			continue
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			}
			continue
		}
		s.logger.Debug("removed orphaned temp file", "path", path)
		result.Removed = append(result.Removed, path)
	}

	return result, errors.Join(errs...)
}

// Hygiene runs the startup sweep. It takes the cache lock without waiting:
// if another process is writing, the sweep is skipped; if the lock is held
// through an advisory handle, every temp file is an orphan; under a bypass
// handle only files older than minAge are removed.
func Hygiene(c *locking.Coordinator, s *Store, minAge time.Duration) (SweepResult, error) {
	h, err := c.TryAcquire(locking.CacheKey())
	if err != nil {
		return SweepResult{}, err
	}
	if h == nil {
		s.logger.Debug("cache writer active; skipping temp file sweep")
		return SweepResult{}, nil
	}
	defer h.Release() //nolint:errcheck // released on every path; failure only affects waiters

	age := minAge
	if h.Backend() == locking.BackendAdvisory {
		age = 0
	}
	return s.Sweep(age)
}
