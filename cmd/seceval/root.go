package main

import (
	"fmt"
	"strings"

	"github.com/hakim/seceval/internal/app"
	"github.com/hakim/seceval/internal/config"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "seceval",
	Short: "Static security scanner for source trees",
	Long: `seceval scans source trees for insecure code patterns.

It matches a catalogue of built-in and custom rules against every source file
under a target directory, records each completed scan in a capped history,
and reports what changed between runs.

Rules, rule sets, history and settings are kept in a local database; full
scan results are also written as JSON under the results directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		skipConfig := map[string]bool{
			"init":    true,
			"help":    true,
			"version": true,
		}

		if skipConfig[cmd.Name()] {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Log.Debug = true
		}

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: search for seceval.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	// Version flag
	rootCmd.Version = version
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// openApp builds the engine from the loaded config.
func openApp() (*app.App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded. Run 'seceval init' first to create config")
	}
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening seceval: %w", err)
	}
	return a, nil
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// shortID returns the first 8 characters of a UUID followed by "..." for
// compact table display. Falls back to the full ID when shorter than 8 chars.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

const separator = "────────────────────────────────────────────────────────────────────────"
