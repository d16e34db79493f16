package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/JoobyPM/kopi-locking/internal/locking"
)

// Source produces fresh metadata.
type Source interface {
	Fetch(ctx context.Context) (*Metadata, error)
}

// FileSource reads metadata from a local JSON file holding either a full
// Metadata document or a bare array of packages.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (f FileSource) Fetch(ctx context.Context) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read metadata source: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pkgs []Package
		if err := json.Unmarshal(trimmed, &pkgs); err != nil {
			return nil, fmt.Errorf("parse metadata source %s: %w", f.Path, err)
		}
		return &Metadata{Packages: pkgs, Source: f.Path}, nil
	}

	var m Metadata
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("parse metadata source %s: %w", f.Path, err)
	}
	if m.Source == "" {
		m.Source = f.Path
	}
	return &m, nil
}

// Refresher replaces the snapshot under the cache lock.
type Refresher struct {
	store  *Store
	coord  *locking.Coordinator
	policy locking.TimeoutPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewRefresher returns a refresher writing to store, waiting for the cache
// lock according to policy.
func NewRefresher(store *Store, coord *locking.Coordinator, policy locking.TimeoutPolicy, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Refresher{
		store:  store,
		coord:  coord,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Refresh fetches from src and writes the result as the new snapshot.
// The fetch runs before the lock is taken so the lock is held only for the
// write. Lock errors (*locking.TimeoutError, *locking.CancelledError, ...)
// and *WriteError are returned unchanged for the caller to classify.
func (r *Refresher) Refresh(ctx context.Context, src Source) (*Metadata, error) {
	m, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	m.Version = SchemaVersion
	m.LastUpdated = r.now().UTC()

	err = r.coord.WithLock(ctx, locking.CacheKey(), r.policy, func(h *locking.Handle) error {
		r.logger.Debug("writing cache snapshot",
			"path", r.store.Path(), "packages", len(m.Packages), "backend", h.Backend().String())
		return r.store.Save(m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
