package locking

import (
	"log/slog"
	"sync"
	"time"
)

// Backend identifies how a Handle enforces exclusion.
type Backend int

// Handle backends.
const (
	// BackendAdvisory holds an OS advisory lock on the key's lock file.
	BackendAdvisory Backend = iota
	// BackendBypass holds nothing; it is issued when the lock directory
	// lives on a filesystem whose advisory locks cannot be trusted.
	BackendBypass
)

func (b Backend) String() string {
	if b == BackendBypass {
		return "bypass"
	}
	return "advisory"
}

// Handle is proof of exclusive access to a key. Release it exactly once,
// normally with defer; further calls are no-ops. If the process dies
// without releasing, the operating system drops the lock.
type Handle struct {
	key        Key
	path       string
	backend    Backend
	lock       advisoryLock
	acquiredAt time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	released bool
}

func newHandle(key Key, path string, backend Backend, lock advisoryLock, logger *slog.Logger) *Handle {
	return &Handle{
		key:        key,
		path:       path,
		backend:    backend,
		lock:       lock,
		acquiredAt: time.Now(),
		logger:     logger,
	}
}

// Key returns the key the handle guards.
func (h *Handle) Key() Key { return h.key }

// Path returns the lock file path.
func (h *Handle) Path() string { return h.path }

// Backend returns how exclusion is enforced.
func (h *Handle) Backend() Backend { return h.backend }

// AcquiredAt returns when the handle was issued.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release drops the lock. It is idempotent and safe for concurrent use.
// Only the first call can return an error.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if h.lock == nil {
		h.logger.Debug("bypass handle released", "key", h.key.String())
		return nil
	}
	if err := h.lock.Unlock(); err != nil {
		return &IoError{Op: "unlock", Path: h.path, Err: err}
	}

	h.logger.Debug("lock released",
		"key", h.key.String(),
		"held", time.Since(h.acquiredAt).Round(time.Millisecond))
	return nil
}
