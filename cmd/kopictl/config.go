package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the effective configuration after merging all sources.

Configuration is loaded with the following precedence (highest to lowest):
1. CLI flags (--state-dir, --lock-timeout, --no-wait, --locking-mode)
2. Environment variables (KOPI_HOME, KOPI_LOCK_TIMEOUT, KOPI_LOCKING_MODE, KOPI_CACHE_TTL)
3. Project config (.kopi.yaml)
4. Global config ($KOPI_HOME/config.yaml)
5. Built-in defaults`,
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		if configShowOutput == outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		}

		fmt.Print(cfg.String())

		fmt.Println("\n# Lock timeout source:", cfg.TimeoutSource())
		global, project := cfg.DiscoveredPaths()
		fmt.Println("# Config sources:")
		if global != "" {
			fmt.Printf("#   global:  %s\n", global)
		}
		if project != "" {
			fmt.Printf("#   project: %s\n", project)
		}
		if global == "" && project == "" {
			fmt.Println("#   (using defaults only)")
		}
		return nil
	},
}
