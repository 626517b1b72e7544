package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hakim/seceval/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix namespaces environment overrides: engine.max_concurrent_scans is
// read from SECEVAL_ENGINE_MAX_CONCURRENT_SCANS.
const EnvPrefix = "SECEVAL"

// Config represents the application configuration
type Config struct {
	DBPath     string        `mapstructure:"db_path" yaml:"db_path"`
	ResultsDir string        `mapstructure:"results_dir" yaml:"results_dir"`
	Log        LogConfig     `mapstructure:"log" yaml:"log"`
	Engine     EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Cache      CacheConfig   `mapstructure:"cache" yaml:"cache"`
	History    HistoryConfig `mapstructure:"history" yaml:"history"`
	Scan       ScanConfig    `mapstructure:"scan" yaml:"scan"`
	Notify     NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Scope      ScopeConfig   `mapstructure:"scope" yaml:"scope"`
}

// LogConfig controls logger construction
type LogConfig struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// EngineConfig tunes the scan orchestrator and matcher
type EngineConfig struct {
	MaxConcurrentScans   int    `mapstructure:"max_concurrent_scans" yaml:"max_concurrent_scans"`
	DefaultTimeout       string `mapstructure:"default_timeout" yaml:"default_timeout"`
	HeuristicSuppression bool   `mapstructure:"heuristic_suppression" yaml:"heuristic_suppression"`
	HeuristicSeed        int64  `mapstructure:"heuristic_seed" yaml:"heuristic_seed"`
	MaxFileSizeMB        int64  `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// CacheConfig contains the result cache and housekeeping settings
type CacheConfig struct {
	MaxSizeBytes  int64  `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	SweepSchedule string `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// HistoryConfig caps the scan ledger
type HistoryConfig struct {
	MaxRecords int `mapstructure:"max_records" yaml:"max_records"`
}

// ScanConfig holds defaults applied to scans started from the CLI
type ScanConfig struct {
	DefaultKind      string   `mapstructure:"default_kind" yaml:"default_kind"`
	DefaultExcludes  []string `mapstructure:"default_excludes" yaml:"default_excludes"`
	IncludeTestFiles bool     `mapstructure:"include_test_files" yaml:"include_test_files"`
	MaxDepth         int      `mapstructure:"max_depth" yaml:"max_depth"`
}

// NotifyConfig configures the completion webhook
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// ScopeConfig restricts which directories may be scanned
type ScopeConfig struct {
	AllowedRoots []string `mapstructure:"allowed_roots" yaml:"allowed_roots"`
}

// Timeout parses Engine.DefaultTimeout.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.DefaultTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Retention returns the history retention window; zero disables purging.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Cache.RetentionDays) * 24 * time.Hour
}

// Load reads and parses configuration from a YAML file.
// If path is empty, searches for seceval.yaml in the current directory,
// ./configs and ~/.config/seceval/, falling back to defaults when none is
// found. SECEVAL_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// Watch reloads the file at path whenever it changes and hands every valid
// new configuration to onChange. Invalid edits are logged and ignored.
func Watch(path string, log *zap.Logger, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("config: watch needs an explicit file")
	}
	if log == nil {
		log = zap.NewNop()
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		// Use explicit path
		v.SetConfigFile(path)
	} else {
		// Search for config in default locations
		v.SetConfigName("seceval")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "seceval"))
		}
	}

	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path cannot be empty"))
	}

	if c.ResultsDir == "" {
		errs = append(errs, errors.New("results_dir cannot be empty"))
	}

	if n := c.Engine.MaxConcurrentScans; n < 1 || n > 10 {
		errs = append(errs, fmt.Errorf("engine.max_concurrent_scans must be between 1 and 10, got %d", n))
	}

	if d, err := time.ParseDuration(c.Engine.DefaultTimeout); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("engine.default_timeout must be a positive duration, got %q", c.Engine.DefaultTimeout))
	}

	if c.Engine.MaxFileSizeMB < 0 {
		errs = append(errs, errors.New("engine.max_file_size_mb cannot be negative"))
	}

	if c.Cache.MaxSizeBytes <= 0 {
		errs = append(errs, errors.New("cache.max_size_bytes must be positive"))
	}

	if _, err := cron.ParseStandard(c.Cache.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cache.sweep_schedule: %w", err))
	}

	if c.Cache.RetentionDays < 0 {
		errs = append(errs, errors.New("cache.retention_days cannot be negative"))
	}

	if c.History.MaxRecords <= 0 {
		errs = append(errs, errors.New("history.max_records must be positive"))
	}

	switch models.ScanKind(c.Scan.DefaultKind) {
	case models.ScanQuick, models.ScanFull, models.ScanCustom:
	default:
		errs = append(errs, fmt.Errorf("scan.default_kind must be quick, full or custom, got %q", c.Scan.DefaultKind))
	}

	if c.Scan.MaxDepth < 0 {
		errs = append(errs, errors.New("scan.max_depth cannot be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
