// Package fscap decides whether OS advisory locks can be trusted on the
// filesystem backing a directory.
package fscap

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
)

// Capability classifies a filesystem for advisory locking.
type Capability int

// Capabilities.
const (
	// Full means flock/LockFileEx semantics hold across processes.
	Full Capability = iota
	// Unreliable means advisory locks may be silently ignored or
	// emulated inconsistently (network and remote filesystems).
	Unreliable
)

func (c Capability) String() string {
	if c == Unreliable {
		return "unreliable"
	}
	return "full"
}

// Info describes the filesystem behind a path.
type Info struct {
	// Type is a short filesystem name such as "ext4" or "nfs", or a hex
	// magic number when the type is not recognized.
	Type string
	// Network is true for remote filesystems.
	Network bool
}

// Capability maps Info onto a locking capability.
func (i Info) Capability() Capability {
	if i.Network {
		return Unreliable
	}
	return Full
}

// ProbeFunc inspects the filesystem holding path.
type ProbeFunc func(path string) (Info, error)

// ErrUnsupported is returned by the probe on platforms without a
// filesystem query.
var ErrUnsupported = errors.New("filesystem detection not supported on this platform")

// Detector classifies directories and caches the answer per directory for
// its lifetime. A directory is probed at most once.
type Detector struct {
	probe  ProbeFunc
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Capability
}

// Option configures a Detector.
type Option func(*Detector)

// WithProbe replaces the platform probe.
func WithProbe(p ProbeFunc) Option {
	return func(d *Detector) {
		d.probe = p
	}
}

// WithLogger sets the logger used for detection warnings.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDetector returns a detector using the platform probe.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		probe:  Probe,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cache:  make(map[string]Capability),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies dir. When the probe fails, the nearest ancestor that
// can be probed decides (a missing directory lives on its parent's
// filesystem); when nothing can be probed the result is Unreliable and a
// warning is logged.
func (d *Detector) Detect(dir string) Capability {
	key := normalize(dir)

	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.cache[key]; ok {
		return c
	}

	c := d.classify(key)
	d.cache[key] = c
	return c
}

func (d *Detector) classify(dir string) Capability {
	info, err := d.probe(dir)
	if err == nil {
		d.logger.Debug("filesystem detected", "dir", dir, "type", info.Type, "network", info.Network)
		return info.Capability()
	}

	for child, parent := dir, filepath.Dir(dir); parent != child; child, parent = parent, filepath.Dir(parent) {
		ancestor, aerr := d.probe(parent)
		if aerr != nil {
			continue
		}
		d.logger.Debug("filesystem detected from ancestor",
			"dir", dir, "ancestor", parent, "type", ancestor.Type, "network", ancestor.Network)
		return ancestor.Capability()
	}

	d.logger.Warn("could not determine filesystem type; treating advisory locks as unreliable",
		"dir", dir, "error", err)
	return Unreliable
}

func normalize(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
