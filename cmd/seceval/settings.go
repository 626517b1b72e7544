package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hakim/seceval/internal/app"
	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change stored preferences",
	Long: `Settings are stored in the database and override the defaults taken
from the config file. They control the defaults applied to new scans and the
engine's concurrent scan ceiling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := json.MarshalIndent(a.Settings(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting and save it. Supported keys:

  scan.default_kind           quick, full or custom
  scan.max_concurrent_scans   1 to 10
  scan.default_excludes       comma-separated patterns
  scan.include_test_files     true or false
  scan.max_depth              0 for unlimited
  scan.timeout                duration, e.g. 10m
  rules.enable_custom_rules   true or false
  rules.default_severity_filter  comma-separated severities
  storage.max_history         number of scans kept
  storage.retention_days      days before a scan is purged`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.Settings()
		if err := setSetting(&s, args[0], args[1]); err != nil {
			return err
		}
		if err := a.SaveSettings(s); err != nil {
			return err
		}
		fmt.Printf("[+] %s = %s\n", args[0], args[1])
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore settings derived from the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SaveSettings(app.DefaultSettings(a.Config)); err != nil {
			return err
		}
		fmt.Println("[+] Settings reset")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd, settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func setSetting(s *models.Settings, key, value string) error {
	var err error
	switch key {
	case "scan.default_kind":
		s.Scan.DefaultKind = models.ScanKind(value)
	case "scan.max_concurrent_scans":
		s.Scan.MaxConcurrentScans, err = strconv.Atoi(value)
	case "scan.default_excludes":
		s.Scan.DefaultExcludes = splitCSV(value)
	case "scan.include_test_files":
		s.Scan.IncludeTestFiles, err = strconv.ParseBool(value)
	case "scan.max_depth":
		s.Scan.MaxDepth, err = strconv.Atoi(value)
	case "scan.timeout":
		s.Scan.Timeout, err = time.ParseDuration(value)
	case "rules.enable_custom_rules":
		s.Rules.EnableCustomRules, err = strconv.ParseBool(value)
	case "rules.default_severity_filter":
		s.Rules.DefaultSeverityFilter = nil
		for _, v := range splitCSV(value) {
			s.Rules.DefaultSeverityFilter = append(s.Rules.DefaultSeverityFilter, models.Severity(strings.ToLower(v)))
		}
	case "storage.max_history":
		s.Storage.MaxHistory, err = strconv.Atoi(value)
	case "storage.retention_days":
		s.Storage.RetentionDays, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}
