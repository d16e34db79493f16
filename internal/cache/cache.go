// Package cache stores the kopi metadata cache as a single JSON snapshot
// that is replaced atomically.
//
// Writers serialize on the cache lock (see Refresher); readers never lock.
// A snapshot is written to a sibling temp file, fsynced, and renamed over
// the final path, so a reader opening the file sees either the complete
// previous snapshot or the complete new one. Temp files abandoned by a
// crashed writer are removed by Sweep.
package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// File names and modes.
const (
	DefaultFileName = "metadata.json"

	dirMode  fs.FileMode = 0o755
	fileMode fs.FileMode = 0o644
)

// Errors.
var (
	ErrNoSnapshot = errors.New("no cache snapshot")
	ErrCacheWrite = errors.New("cache write failed")
	ErrCorrupt    = errors.New("corrupt cache snapshot")
)

// WriteError is a failed snapshot write. The previous snapshot, if any, is
// untouched; TempPath may be left behind for Sweep.
type WriteError struct {
	Op       string
	Path     string
	TempPath string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrCacheWrite, e.Err} }

// Store reads and writes one snapshot file inside a directory.
type Store struct {
	dir    string
	name   string
	logger *slog.Logger

	rename func(oldpath, newpath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithFileName overrides DefaultFileName.
func WithFileName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a store for dir. Nothing is touched on disk.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		name:   DefaultFileName,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		rename: os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the final snapshot path.
func (s *Store) Path() string { return filepath.Join(s.dir, s.name) }

func (s *Store) tempPattern() string { return "." + s.name + "-*.tmp" }

// WriteSnapshot atomically replaces the snapshot with data.
//
// The caller must hold the cache lock. Any failure before the rename
// returns a *WriteError and leaves the current snapshot as it was.
func (s *Store) WriteSnapshot(data []byte) error {
	path := s.Path()

	if err := os.MkdirAll(s.dir, dirMode); err != nil { //nolint:gosec // cache is readable by other tools
		return &WriteError{Op: "create directory", Path: s.dir, Err: err}
	}

	tmpFile, err := os.CreateTemp(s.dir, s.tempPattern())
	if err != nil {
		return &WriteError{Op: "create temp file", Path: path, Err: err}
	}
	tmpPath := tmpFile.Name()

	fail := func(op string, err error) error {
		tmpFile.Close() //nolint:errcheck,gosec // already failing
		s.logger.Debug("snapshot write failed", "op", op, "temp", tmpPath, "error", err)
		return &WriteError{Op: op, Path: path, TempPath: tmpPath, Err: err}
	}

	if _, err := tmpFile.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmpFile.Chmod(fileMode); err != nil {
		return fail("set permissions", err)
	}
	// Durable before visible.
	if err := tmpFile.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmpFile.Close(); err != nil {
		return &WriteError{Op: "close", Path: path, TempPath: tmpPath, Err: err}
	}

	if err := s.rename(tmpPath, path); err != nil {
		return &WriteError{Op: "rename", Path: path, TempPath: tmpPath, Err: err}
	}

	if err := syncDir(s.dir); err != nil {
		s.logger.Debug("directory sync failed", "dir", s.dir, "error", err)
	}

	s.logger.Debug("snapshot written", "path", path, "bytes", len(data))
	return nil
}

// ReadSnapshot returns the current snapshot bytes without locking.
// A missing snapshot is ErrNoSnapshot (which also matches fs.ErrNotExist).
func (s *Store) ReadSnapshot() ([]byte, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}
	return data, nil
}
