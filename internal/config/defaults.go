package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		DBPath:     "seceval.db",
		ResultsDir: "results",
		Log: LogConfig{
			Debug: false,
		},
		Engine: EngineConfig{
			MaxConcurrentScans:   3,
			DefaultTimeout:       "30m",
			HeuristicSuppression: false,
			HeuristicSeed:        0,
			MaxFileSizeMB:        10,
		},
		Cache: CacheConfig{
			MaxSizeBytes:  100 * 1024 * 1024,
			SweepSchedule: "@daily",
			RetentionDays: 30,
		},
		History: HistoryConfig{
			MaxRecords: 100,
		},
		Scan: ScanConfig{
			DefaultKind:      "quick",
			DefaultExcludes:  []string{"node_modules", "dist", "build", ".git"},
			IncludeTestFiles: false,
			MaxDepth:         10,
		},
		Notify: NotifyConfig{},
		Scope: ScopeConfig{
			AllowedRoots: []string{},
		},
	}
}

// setDefaults registers every key so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("results_dir", d.ResultsDir)
	v.SetDefault("log.debug", d.Log.Debug)

	v.SetDefault("engine.max_concurrent_scans", d.Engine.MaxConcurrentScans)
	v.SetDefault("engine.default_timeout", d.Engine.DefaultTimeout)
	v.SetDefault("engine.heuristic_suppression", d.Engine.HeuristicSuppression)
	v.SetDefault("engine.heuristic_seed", d.Engine.HeuristicSeed)
	v.SetDefault("engine.max_file_size_mb", d.Engine.MaxFileSizeMB)

	v.SetDefault("cache.max_size_bytes", d.Cache.MaxSizeBytes)
	v.SetDefault("cache.sweep_schedule", d.Cache.SweepSchedule)
	v.SetDefault("cache.retention_days", d.Cache.RetentionDays)

	v.SetDefault("history.max_records", d.History.MaxRecords)

	v.SetDefault("scan.default_kind", d.Scan.DefaultKind)
	v.SetDefault("scan.default_excludes", d.Scan.DefaultExcludes)
	v.SetDefault("scan.include_test_files", d.Scan.IncludeTestFiles)
	v.SetDefault("scan.max_depth", d.Scan.MaxDepth)

	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("scope.allowed_roots", d.Scope.AllowedRoots)
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
