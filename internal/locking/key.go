// Package locking serializes mutating operations on a shared kopi state
// directory across independently launched processes.
//
// A Coordinator hands out exclusive Handles for canonical Keys. On local
// filesystems the exclusion is an OS advisory lock on a per-key file under
// {state}/locks; on filesystems where advisory locks cannot be trusted the
// coordinator degrades to bypass handles and warns once.
package locking

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JoobyPM/kopi-locking/internal/stringutil"
)

// LocksDirName is the directory under the state root that holds lock files.
const LocksDirName = "locks"

const (
	lockFileExt  = ".lock"
	cacheKeyName = "cache"
)

// Scope identifies which kind of mutation a key protects.
type Scope int

// Lock scopes.
const (
	ScopeInstall Scope = iota + 1
	ScopeUninstall
	ScopeCache
)

// String returns the scope name used on the command line.
func (s Scope) String() string {
	switch s {
	case ScopeInstall:
		return "install"
	case ScopeUninstall:
		return "uninstall"
	case ScopeCache:
		return "cache"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope parses a scope name as printed by Scope.String.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "install":
		return ScopeInstall, nil
	case "uninstall":
		return ScopeUninstall, nil
	case "cache":
		return ScopeCache, nil
	default:
		return 0, fmt.Errorf("%w: unknown scope %q (want install, uninstall, or cache)", ErrInvalidKey, s)
	}
}

// Coordinate names one installed JDK.
type Coordinate struct {
	Distribution string `json:"distribution" yaml:"distribution"`
	Version      string `json:"version" yaml:"version"`
	OS           string `json:"os" yaml:"os"`
	Arch         string `json:"arch" yaml:"arch"`
}

// Key is a canonical lock identity. Keys for install and uninstall of the
// same coordinate have the same String and Path; only Scope differs.
type Key struct {
	scope Scope
	name  string
}

// Canonicalize derives the lock key for scope. Install and uninstall scopes
// require every coordinate field; the cache scope ignores coord.
//
// Each field is lower-cased and sanitized with stringutil.Slug, so two
// coordinates that differ only in case or separator characters share a key.
// Callers resolve aliases (see ResolveCoordinate) before canonicalizing.
func Canonicalize(scope Scope, coord Coordinate) (Key, error) {
	switch scope {
	case ScopeCache:
		return CacheKey(), nil
	case ScopeInstall, ScopeUninstall:
	default:
		return Key{}, fmt.Errorf("%w: unknown scope %d", ErrInvalidKey, int(scope))
	}

	fields := []struct {
		name  string
		value string
	}{
		{"distribution", coord.Distribution},
		{"version", coord.Version},
		{"os", coord.OS},
		{"arch", coord.Arch},
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		slug := stringutil.Slug(f.value)
		if slug == "" {
			return Key{}, fmt.Errorf("%w: %s is required", ErrInvalidKey, f.name)
		}
		parts = append(parts, slug)
	}

	return Key{scope: scope, name: strings.Join(parts, "-")}, nil
}

// CacheKey returns the single key guarding metadata cache writes.
func CacheKey() Key {
	return Key{scope: ScopeCache, name: cacheKeyName}
}

// Scope returns the scope the key was derived for.
func (k Key) Scope() Scope { return k.scope }

// String returns the canonical key string, e.g. "temurin-21-linux-x64".
func (k Key) String() string { return k.name }

// IsZero reports whether k was never canonicalized.
func (k Key) IsZero() bool { return k.name == "" }

// Label is the human-readable lock name used in wait messages.
func (k Key) Label() string {
	switch k.scope {
	case ScopeCache:
		return "cache writer"
	case ScopeUninstall:
		return "uninstallation " + k.name
	default:
		return "installation " + k.name
	}
}

// Path returns the lock file path for k under stateDir.
func (k Key) Path(stateDir string) string {
	return filepath.Join(LocksDir(stateDir), k.name+lockFileExt)
}

// LocksDir returns the directory holding lock files under stateDir.
func LocksDir(stateDir string) string {
	return filepath.Join(stateDir, LocksDirName)
}
