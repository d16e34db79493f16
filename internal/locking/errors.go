package locking

import (
	"errors"
	"fmt"
	"time"
)

// Errors.
var (
	ErrInvalidKey     = errors.New("invalid lock key")
	ErrInvalidTimeout = errors.New("invalid lock timeout")
	ErrInvalidMode    = errors.New("invalid locking mode")
	ErrWouldBlock     = errors.New("lock is held by another process")
	ErrTimeout        = errors.New("timed out waiting for lock")
	ErrCancelled      = errors.New("lock acquisition cancelled")
	ErrLockIO         = errors.New("lock file I/O failure")
)

// WouldBlockError reports a NoWait acquisition that found the lock held.
type WouldBlockError struct {
	Key Key
}

func (e *WouldBlockError) Error() string {
	return fmt.Sprintf("%s lock is held by another process", e.Key.Label())
}

func (e *WouldBlockError) Unwrap() error { return ErrWouldBlock }

// TimeoutError reports a bounded wait that ran out of budget.
type TimeoutError struct {
	Key     Key
	Waited  time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s lock after %s (timeout %s)",
		e.Key.Label(), FormatDuration(e.Waited), FormatDuration(e.Timeout))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// CancelledError reports a wait interrupted by context cancellation.
type CancelledError struct {
	Key    Key
	Waited time.Duration
	Cause  error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled while waiting for %s lock after %s", e.Key.Label(), FormatDuration(e.Waited))
}

// Unwrap exposes both ErrCancelled and the context's cause, so callers can
// match context.Canceled or context.DeadlineExceeded as well.
func (e *CancelledError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCancelled}
	}
	return []error{ErrCancelled, e.Cause}
}

// IoError is a fatal failure to create, open, or lock a lock file.
// It is never retried.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() []error { return []error{ErrLockIO, e.Err} }
