// Package config provides configuration management for kopictl.
// Configuration is loaded from YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoobyPM/kopi-locking/internal/locking"
)

// Version is the current config schema version.
const Version = "1"

// Default file paths.
const (
	DefaultStateDirName = ".kopi"
	GlobalConfigFile    = "config.yaml"
	ProjectConfigFile   = ".kopi.yaml"
	CacheDirName        = "cache"
)

// Default values.
const (
	DefaultLockingMode = string(locking.ModeAuto)
	DefaultLockTimeout = "600"
	DefaultBackoffCap  = "1s"
	DefaultCacheFile   = "metadata.json"
	DefaultCacheTTL    = "24h"
)

// Environment variable names.
const (
	EnvHome        = "KOPI_HOME"
	EnvLockTimeout = "KOPI_LOCK_TIMEOUT"
	EnvLockingMode = "KOPI_LOCKING_MODE"
	EnvCacheTTL    = "KOPI_CACHE_TTL"
)

// TimeoutSource records which layer supplied the lock timeout. It is only
// used to explain waits to the user.
type TimeoutSource int

// Timeout sources, lowest precedence first.
const (
	SourceDefault TimeoutSource = iota
	SourceConfig
	SourceEnv
	SourceCLI
)

func (s TimeoutSource) String() string {
	switch s {
	case SourceConfig:
		return "configuration file"
	case SourceEnv:
		return "environment variable"
	case SourceCLI:
		return "CLI flag"
	default:
		return "built-in default"
	}
}

// Config represents the complete kopictl configuration.
type Config struct {
	Version  string        `yaml:"version" json:"version"`
	StateDir string        `yaml:"state_dir" json:"state_dir"`
	Locking  LockingConfig `yaml:"locking" json:"locking"`
	Cache    CacheConfig   `yaml:"cache" json:"cache"`

	timeoutSource TimeoutSource
}

// LockingConfig holds lock coordination settings.
type LockingConfig struct {
	// Mode is auto, advisory, or bypass.
	Mode string `yaml:"mode" json:"mode"`
	// Timeout is whole seconds or "infinite"; "0" means do not wait.
	Timeout string `yaml:"timeout" json:"timeout"`
	// BackoffCap bounds the sleep between lock probes.
	BackoffCap string `yaml:"backoff_cap" json:"backoff_cap"`
}

// CacheConfig holds metadata cache settings.
type CacheConfig struct {
	File string `yaml:"file" json:"file"`
	TTL  string `yaml:"ttl" json:"ttl"`
}

// Errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoStateDir    = errors.New("state_dir is required")
)

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Version:  Version,
		StateDir: defaultStateDir(),
		Locking: LockingConfig{
			Mode:       DefaultLockingMode,
			Timeout:    DefaultLockTimeout,
			BackoffCap: DefaultBackoffCap,
		},
		Cache: CacheConfig{
			File: DefaultCacheFile,
			TTL:  DefaultCacheTTL,
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultStateDirName
	}
	return filepath.Join(home, DefaultStateDirName)
}

// LoadOptions configures config loading behavior.
type LoadOptions struct {
	// ExplicitPath overrides config discovery (--config flag).
	ExplicitPath string
	// SkipGlobal skips loading the global config ({state_dir}/config.yaml).
	SkipGlobal bool
	// SkipProject skips loading project config (.kopi.yaml).
	SkipProject bool
	// SkipEnv skips environment variable overrides.
	SkipEnv bool
}

// Load loads configuration with the following precedence (highest to lowest):
// 1. Environment variables
// 2. Project config (.kopi.yaml, searched up to the git root)
// 3. Global config ($KOPI_HOME/config.yaml or ~/.kopi/config.yaml)
// 4. Built-in defaults
//
// If ExplicitPath is set, it replaces both global and project configs.
// CLI flags are applied afterwards with ApplyCLIOverrides.
func Load(opts LoadOptions) (*Config, error) {
	cfg := New()
	if !opts.SkipEnv {
		if v := os.Getenv(EnvHome); v != "" {
			cfg.StateDir = v
		}
	}

	// Load global config (lowest priority file)
	if !opts.SkipGlobal && opts.ExplicitPath == "" {
		globalPath := filepath.Join(expandHome(cfg.StateDir), GlobalConfigFile)
		if loadErr := loadFile(cfg, globalPath); loadErr != nil && !os.IsNotExist(loadErr) {
			return nil, fmt.Errorf("load global config: %w", loadErr)
		}
	}

	// Load project config (higher priority than global)
	if !opts.SkipProject && opts.ExplicitPath == "" {
		projectPath, err := discoverProjectConfig()
		if err == nil {
			if loadErr := loadFile(cfg, projectPath); loadErr != nil && !os.IsNotExist(loadErr) {
				return nil, fmt.Errorf("load project config: %w", loadErr)
			}
		}
	}

	// Load explicit config (replaces global and project)
	if opts.ExplicitPath != "" {
		if err := loadFile(cfg, opts.ExplicitPath); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.ExplicitPath, err)
		}
	}

	// A file that restates the default does not count as an override.
	if strings.TrimSpace(cfg.Locking.Timeout) != DefaultLockTimeout {
		cfg.timeoutSource = SourceConfig
	}

	if !opts.SkipEnv {
		applyEnvOverrides(cfg)
	}

	cfg.StateDir = expandHome(cfg.StateDir)
	return cfg, nil
}

// loadFile reads and unmarshals a YAML config file into cfg.
// Fields not present in the file retain their current values (merge behavior).
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // Config path from trusted source
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// discoverProjectConfig walks up from CWD looking for .kopi.yaml.
// Stops at git root or filesystem root.
func discoverProjectConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// applyEnvOverrides applies environment variable overrides to config.
// KOPI_HOME was already applied before the global file was located.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv(EnvLockTimeout); v != "" {
		cfg.Locking.Timeout = v
		cfg.timeoutSource = SourceEnv
	}
	if v := os.Getenv(EnvLockingMode); v != "" {
		cfg.Locking.Mode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvCacheTTL); v != "" {
		cfg.Cache.TTL = v
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// CLIOverrides contains values from CLI flags that override config.
type CLIOverrides struct {
	StateDir    string
	LockTimeout string
	NoWait      bool
	LockingMode string
}

// ApplyCLIOverrides applies CLI flag values to config.
// Only non-empty values are applied (highest priority). NoWait wins over
// LockTimeout.
func (cfg *Config) ApplyCLIOverrides(o CLIOverrides) {
	if o.StateDir != "" {
		cfg.StateDir = expandHome(o.StateDir)
	}
	if o.LockTimeout != "" {
		cfg.Locking.Timeout = o.LockTimeout
		cfg.timeoutSource = SourceCLI
	}
	if o.NoWait {
		cfg.Locking.Timeout = "0"
		cfg.timeoutSource = SourceCLI
	}
	if o.LockingMode != "" {
		cfg.Locking.Mode = strings.ToLower(o.LockingMode)
	}
}

// Validate checks the configuration for errors.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.StateDir) == "" {
		return ErrNoStateDir
	}

	if _, err := locking.ParseMode(cfg.Locking.Mode); err != nil {
		return fmt.Errorf("%w: locking.mode: %w", ErrInvalidConfig, err)
	}

	if _, err := locking.ParseTimeout(cfg.Locking.Timeout); err != nil {
		return fmt.Errorf("%w: locking.timeout (from %s): %w", ErrInvalidConfig, cfg.timeoutSource, err)
	}

	if cfg.Locking.BackoffCap != "" {
		d, err := time.ParseDuration(cfg.Locking.BackoffCap)
		if err != nil {
			return fmt.Errorf("%w: invalid locking.backoff_cap %q: %w", ErrInvalidConfig, cfg.Locking.BackoffCap, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: locking.backoff_cap must be positive, got %q", ErrInvalidConfig, cfg.Locking.BackoffCap)
		}
	}

	if f := cfg.Cache.File; f != "" && (f != filepath.Base(f) || f == "." || f == "..") {
		return fmt.Errorf("%w: cache.file must be a bare file name, got %q", ErrInvalidConfig, f)
	}

	if cfg.Cache.TTL != "" {
		if _, err := time.ParseDuration(cfg.Cache.TTL); err != nil {
			return fmt.Errorf("%w: invalid cache.ttl %q: %w", ErrInvalidConfig, cfg.Cache.TTL, err)
		}
	}

	return nil
}

// TimeoutPolicy returns the parsed lock timeout.
func (cfg *Config) TimeoutPolicy() (locking.TimeoutPolicy, error) {
	return locking.ParseTimeout(cfg.Locking.Timeout)
}

// TimeoutSource returns which layer supplied the lock timeout.
func (cfg *Config) TimeoutSource() TimeoutSource {
	return cfg.timeoutSource
}

// LockingMode returns the parsed locking mode, defaulting to auto.
func (cfg *Config) LockingMode() locking.Mode {
	m, err := locking.ParseMode(cfg.Locking.Mode)
	if err != nil {
		return locking.ModeAuto
	}
	return m
}

// BackoffCapDuration returns the backoff ceiling, or the default when unset
// or invalid.
func (cfg *Config) BackoffCapDuration() time.Duration {
	d, err := time.ParseDuration(cfg.Locking.BackoffCap)
	if err != nil || d <= 0 {
		return locking.DefaultBackoffCap
	}
	return d
}

// CacheDir returns the metadata cache directory under the state directory.
func (cfg *Config) CacheDir() string {
	return filepath.Join(cfg.StateDir, CacheDirName)
}

// CacheFile returns the snapshot file name.
func (cfg *Config) CacheFile() string {
	if cfg.Cache.File == "" {
		return DefaultCacheFile
	}
	return cfg.Cache.File
}

// CacheTTLDuration returns the cache TTL as a time.Duration.
// Returns DefaultCacheTTL parsed if TTL is empty or invalid.
func (cfg *Config) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(cfg.Cache.TTL)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultCacheTTL)
	}
	return d
}

// String returns the config as YAML.
func (cfg *Config) String() string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Sprintf("config error: %v", err)
	}
	return string(data)
}

// SaveTo writes the config to the specified path.
// Creates parent directories if needed.
func (cfg *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// DiscoveredPaths returns which config files were found for cfg's state
// directory. Returns empty strings for paths that don't exist.
func (cfg *Config) DiscoveredPaths() (global, project string) {
	globalPath := filepath.Join(cfg.StateDir, GlobalConfigFile)
	if _, err := os.Stat(globalPath); err == nil {
		global = globalPath
	}
	if projectPath, err := discoverProjectConfig(); err == nil {
		project = projectPath
	}
	return global, project
}
