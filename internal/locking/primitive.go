package locking

import (
	"errors"
	"io/fs"
	"os"

	"github.com/gofrs/flock"
)

const lockFileMode fs.FileMode = 0o600

// advisoryLock is the platform primitive behind an advisory handle.
// TryLock never blocks: it returns false with a nil error when another
// open file description holds the lock.
type advisoryLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// newFlock opens path lazily through gofrs/flock, which uses flock(2) on
// unix and LockFileEx on Windows. Both release automatically when the
// process dies, however it dies.
func newFlock(path string) advisoryLock {
	return flock.New(path, flock.SetPermissions(lockFileMode))
}

// ensureLockFile creates the zero-length lock file if absent. The file's
// contents are never read or written; existence alone carries no meaning.
func ensureLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, lockFileMode)
	if err != nil {
		return err
	}
	return f.Close()
}

// HeldElsewhere reports whether some open file description other than a
// fresh one currently holds the advisory lock on path. A missing file is
// reported as not held. Locks held by the calling process count as held.
func HeldElsewhere(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &IoError{Op: "stat", Path: path, Err: err}
	}

	lk := flock.New(path, flock.SetPermissions(lockFileMode))
	ok, err := lk.TryLock()
	if err != nil {
		return false, &IoError{Op: "probe", Path: path, Err: err}
	}
	if !ok {
		return true, nil
	}
	if err := lk.Unlock(); err != nil {
		return false, &IoError{Op: "unlock", Path: path, Err: err}
	}
	return false, nil
}
