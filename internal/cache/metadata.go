package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JoobyPM/kopi-locking/internal/locking"
)

// SchemaVersion is written into every snapshot.
const SchemaVersion = "1"

// DefaultTTL is how long a snapshot is considered fresh.
const DefaultTTL = 24 * time.Hour

// Package is one downloadable JDK build.
type Package struct {
	ID           string `json:"id"`
	Distribution string `json:"distribution"`
	Version      string `json:"version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	PackageType  string `json:"package_type,omitempty"`
	ArchiveType  string `json:"archive_type,omitempty"`
	DownloadURL  string `json:"download_url,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// Coordinate returns the package's lock coordinate with aliases resolved.
func (p Package) Coordinate() locking.Coordinate {
	return locking.ResolveCoordinate(locking.Coordinate{
		Distribution: p.Distribution,
		Version:      p.Version,
		OS:           p.OS,
		Arch:         p.Arch,
	})
}

// Metadata is the snapshot document.
type Metadata struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	Source      string    `json:"source,omitempty"`
	Packages    []Package `json:"packages"`
}

// IsStale reports whether the snapshot is older than ttl (DefaultTTL when
// ttl is zero).
func (m *Metadata) IsStale(ttl time.Duration) bool {
	if m == nil || m.LastUpdated.IsZero() {
		return true
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return time.Since(m.LastUpdated) > ttl
}

// Distributions returns the sorted set of distribution names.
func (m *Metadata) Distributions() []string {
	seen := make(map[string]struct{})
	for _, p := range m.Packages {
		seen[p.Coordinate().Distribution] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns the package matching coord after alias resolution, or nil.
func (m *Metadata) Find(coord locking.Coordinate) *Package {
	want := locking.ResolveCoordinate(coord)
	for i := range m.Packages {
		if m.Packages[i].Coordinate() == want {
			return &m.Packages[i]
		}
	}
	return nil
}

// Load parses the current snapshot. A missing snapshot is ErrNoSnapshot;
// unparsable content is ErrCorrupt.
func (s *Store) Load() (*Metadata, error) {
	data, err := s.ReadSnapshot()
	if err != nil {
		return nil, err
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrCorrupt)
	}
	return &m, nil
}

// Save serializes m and replaces the snapshot. The caller must hold the
// cache lock.
func (s *Store) Save(m *Metadata) error {
	if m == nil {
		return errors.New("save cache: nil metadata")
	}
	if m.Version == "" {
		m.Version = SchemaVersion
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	return s.WriteSnapshot(append(data, '\n'))
}
