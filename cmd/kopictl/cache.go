package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JoobyPM/kopi-locking/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the metadata cache",
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Replace the metadata cache atomically under the cache lock",
	Long: `Replace the metadata cache with the contents of a JSON file.

The file may hold a full metadata document or a bare array of packages.
Concurrent readers see either the old or the new cache, never a mix.

Example:
  kopictl cache refresh --from ./packages.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cacheFrom == "" {
			fmt.Fprintf(os.Stderr, "Error: --from is required\n")
			return exitErr(exitValidation, "missing --from")
		}
		if err := initCoordinator(); err != nil {
			return err
		}
		policy, err := cfg.TimeoutPolicy()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitValidation, "invalid lock timeout")
		}

		refresher := cache.NewRefresher(store, coordinator, policy, logger)
		m, err := refresher.Refresh(cmd.Context(), cache.FileSource{Path: cacheFrom})
		if err != nil {
			return lockExit(err)
		}

		fmt.Printf("✓ Cache refreshed: %d packages, %s\n", len(m.Packages), snapshotSize(store.Path()))
		fmt.Printf("  %s\n", store.Path())
		return nil
	},
}

// CacheSummary is the `cache show` output.
type CacheSummary struct {
	Path          string    `json:"path" yaml:"path"`
	Version       string    `json:"version" yaml:"version"`
	LastUpdated   time.Time `json:"last_updated" yaml:"last_updated"`
	Source        string    `json:"source,omitempty" yaml:"source,omitempty"`
	Packages      int       `json:"packages" yaml:"packages"`
	Distributions []string  `json:"distributions" yaml:"distributions"`
	Stale         bool      `json:"stale" yaml:"stale"`
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current metadata cache without taking any lock",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		s := cache.NewStore(cfg.CacheDir(), cache.WithFileName(cfg.CacheFile()))
		m, err := s.Load()
		if err != nil {
			if errors.Is(err, cache.ErrNoSnapshot) {
				fmt.Fprintf(os.Stderr, "No metadata cache at %s\n", s.Path())
				fmt.Fprintf(os.Stderr, "Run 'kopictl cache refresh --from <file>' to create one.\n")
				return exitErr(exitValidation, "no cache")
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitValidation, "failed to read cache")
		}

		summary := CacheSummary{
			Path:          s.Path(),
			Version:       m.Version,
			LastUpdated:   m.LastUpdated,
			Source:        m.Source,
			Packages:      len(m.Packages),
			Distributions: m.Distributions(),
			Stale:         m.IsStale(cfg.CacheTTLDuration()),
		}

		switch cacheOutput {
		case outputJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		case outputYAML:
			out, err := yaml.Marshal(summary)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}

		fmt.Printf("Cache:         %s (%s)\n", summary.Path, snapshotSize(summary.Path))
		fmt.Printf("Updated:       %s", humanize.Time(summary.LastUpdated))
		if summary.Stale {
			fmt.Printf(" (stale, TTL %s)", cfg.CacheTTLDuration())
		}
		fmt.Println()
		if summary.Source != "" {
			fmt.Printf("Source:        %s\n", summary.Source)
		}
		fmt.Printf("Packages:      %s\n", humanize.Comma(int64(summary.Packages)))
		if len(summary.Distributions) > 0 {
			fmt.Printf("Distributions: %s\n", strings.Join(summary.Distributions, ", "))
		}
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove temp files left by interrupted cache writes",
	RunE: func(_ *cobra.Command, _ []string) error {
		// Skip the silent startup sweep so removals are reported here.
		swept = true
		if err := initCoordinator(); err != nil {
			return err
		}
		result, err := cache.Hygiene(coordinator, store, cache.DefaultSweepAge)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitErr(exitWrite, "sweep failed")
		}
		if len(result.Removed) == 0 && result.Kept == 0 {
			fmt.Println("✓ No leftover temp files")
			return nil
		}
		for _, p := range result.Removed {
			fmt.Printf("  removed %s\n", p)
		}
		fmt.Printf("✓ Removed %d temp files", len(result.Removed))
		if result.Kept > 0 {
			fmt.Printf(", kept %d (too recent or cache busy)", result.Kept)
		}
		fmt.Println()
		return nil
	},
}

// snapshotSize formats the file size at path, or "missing".
func snapshotSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return humanize.Bytes(uint64(info.Size())) //nolint:gosec // file sizes are non-negative
}
