package locking

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the lock wait budget when nothing overrides it.
const DefaultTimeout = 600 * time.Second

type policyKind int

const (
	kindBounded policyKind = iota
	kindNoWait
	kindInfinite
)

// TimeoutPolicy bounds how long Acquire waits for a contended lock.
// The zero value is Bounded(0), which behaves like NoWait.
type TimeoutPolicy struct {
	kind     policyKind
	duration time.Duration
}

// NoWait fails immediately with ErrWouldBlock when the lock is held.
func NoWait() TimeoutPolicy {
	return TimeoutPolicy{kind: kindNoWait}
}

// Bounded waits at most d. A non-positive d is NoWait.
func Bounded(d time.Duration) TimeoutPolicy {
	if d <= 0 {
		return NoWait()
	}
	return TimeoutPolicy{kind: kindBounded, duration: d}
}

// Infinite waits until the lock is acquired or the context is cancelled.
func Infinite() TimeoutPolicy {
	return TimeoutPolicy{kind: kindInfinite}
}

// DefaultPolicy returns Bounded(DefaultTimeout).
func DefaultPolicy() TimeoutPolicy {
	return Bounded(DefaultTimeout)
}

// IsNoWait reports whether the policy never sleeps.
func (p TimeoutPolicy) IsNoWait() bool {
	return p.kind == kindNoWait || (p.kind == kindBounded && p.duration <= 0)
}

// IsInfinite reports whether the policy never times out.
func (p TimeoutPolicy) IsInfinite() bool {
	return p.kind == kindInfinite
}

// Budget returns the wait budget and true for bounded policies.
func (p TimeoutPolicy) Budget() (time.Duration, bool) {
	if p.kind != kindBounded || p.duration <= 0 {
		return 0, false
	}
	return p.duration, true
}

// String renders the policy for messages.
func (p TimeoutPolicy) String() string {
	switch {
	case p.IsInfinite():
		return "infinite"
	case p.IsNoWait():
		return "0s"
	default:
		return FormatDuration(p.duration)
	}
}

// ParseTimeout parses a user-supplied timeout: a non-negative integer number
// of seconds ("0" means no wait) or the word "infinite" (any case).
func ParseTimeout(value string) (TimeoutPolicy, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "infinite") {
		return Infinite(), nil
	}

	secs, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return TimeoutPolicy{}, fmt.Errorf(
			"%w: lock timeout value %q is invalid; use an integer number of seconds or the word 'infinite'",
			ErrInvalidTimeout, trimmed)
	}
	if secs == 0 {
		return NoWait(), nil
	}
	return Bounded(time.Duration(secs) * time.Second), nil
}

// FormatDuration renders d as "{s.t}s" from one second up and "{n}ms" below.
func FormatDuration(d time.Duration) string {
	if d >= time.Second {
		return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
