// Package app assembles the engine components from a Config and hands
// explicit handles to the CLI.
package app

import (
	"fmt"
	"slices"
	"time"

	"github.com/hakim/seceval/internal/cache"
	"github.com/hakim/seceval/internal/config"
	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/history"
	"github.com/hakim/seceval/internal/logging"
	"github.com/hakim/seceval/internal/matcher"
	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/pipeline"
	"github.com/hakim/seceval/internal/rules"
	"github.com/hakim/seceval/internal/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// SettingsKey is the cache key of the settings document.
const SettingsKey = "settings"

// Options overrides collaborators, mainly for tests.
type Options struct {
	Fs     afero.Fs
	Logger *zap.Logger
}

// App owns every long-lived component.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Bus     *events.Bus
	Store   *storage.Store
	Rules   *rules.Store
	Cache   *cache.Cache
	History *history.Ledger
	Engine  *pipeline.Engine
	Janitor *cache.Janitor
	Notify  *pipeline.NotifyConfig

	stopNotify func()
}

// New opens the database, restores rules and history, and builds the engine.
// Call Close when done.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	log := opts.Logger
	if log == nil {
		l, err := logging.New(cfg.Log.Debug)
		if err != nil {
			return nil, err
		}
		log = l
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Bus:    events.NewBus(log),
		Store:  store,
	}

	a.Rules = rules.NewStore(rules.Options{Persister: store, Bus: a.Bus, Logger: log})
	if err := a.Rules.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("app: loading rules: %w", err)
	}

	a.Cache = cache.New(cache.Options{MaxSizeBytes: cfg.Cache.MaxSizeBytes, Logger: log})

	a.History = history.New(history.Options{
		MaxRecords: cfg.History.MaxRecords,
		Backend:    store,
		Artifacts:  storage.NewArtifacts(opts.Fs, cfg.ResultsDir),
		Cache:      a.Cache,
		Bus:        a.Bus,
		Logger:     log,
	})
	if err := a.History.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("app: loading history: %w", err)
	}

	settings := a.Settings()
	a.Engine, err = pipeline.NewEngine(pipeline.Options{
		Rules: settingsRules{a},
		Fs:    opts.Fs,
		Matcher: matcher.New(matcher.Options{
			Suppression: cfg.Engine.HeuristicSuppression,
			Seed:        uint64(cfg.Engine.HeuristicSeed),
		}),
		Bus:                a.Bus,
		Sink:               a.History,
		Scope:              &pipeline.ScopeConfig{AllowedRoots: cfg.Scope.AllowedRoots},
		MaxConcurrentScans: settings.Scan.MaxConcurrentScans,
		DefaultTimeout:     cfg.Timeout(),
		MaxFileSizeMB:      cfg.Engine.MaxFileSizeMB,
		Logger:             log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a.Janitor, err = cache.NewJanitor(cfg.Cache.SweepSchedule, log,
		cache.SweepTask(a.Cache),
		a.History.RetentionTask(cfg.Retention()),
	)
	if err != nil {
		a.Engine.Close()
		store.Close()
		return nil, err
	}

	a.Notify = &pipeline.NotifyConfig{WebhookURL: cfg.Notify.WebhookURL}
	if cfg.Notify.WebhookURL != "" {
		a.stopNotify = a.Notify.Attach(a.Bus, log)
	}

	return a, nil
}

// Start begins scheduled housekeeping.
func (a *App) Start() {
	a.Janitor.Start()
}

// Apply takes the parts of a reloaded config that can change at runtime.
func (a *App) Apply(cfg *config.Config) {
	a.Engine.SetMaxConcurrentScans(cfg.Engine.MaxConcurrentScans)
}

// Settings returns the stored settings document, or defaults derived from
// the config when none has been saved.
func (a *App) Settings() models.Settings {
	if s, ok := cache.GetAs[models.Settings](a.Cache, SettingsKey); ok {
		return s
	}
	s, found, err := a.Store.LoadSettings()
	if err != nil {
		a.Log.Warn("could not load settings, using defaults", zap.Error(err))
	}
	if err != nil || !found {
		s = DefaultSettings(a.Config)
	}
	if err := a.Cache.Set(SettingsKey, s, 0); err != nil {
		a.Log.Debug("settings not cached", zap.Error(err))
	}
	return s
}

// SaveSettings validates, persists and applies s.
func (a *App) SaveSettings(s models.Settings) error {
	if err := ValidateSettings(s); err != nil {
		return err
	}
	if err := a.Store.SaveSettings(s); err != nil {
		return err
	}
	if err := a.Cache.Set(SettingsKey, s, 0); err != nil {
		a.Log.Debug("settings not cached", zap.Error(err))
	}
	a.Engine.SetMaxConcurrentScans(s.Scan.MaxConcurrentScans)
	a.Bus.Publish(events.Event{Type: events.SettingsSaved})
	return nil
}

// ScanDefaults returns a scan config for target filled from the settings.
// The least severe entry of the default severity filter becomes the minimum
// severity.
func (a *App) ScanDefaults(target string) models.ScanConfig {
	s := a.Settings()
	cfg := models.ScanConfig{
		TargetPath:       target,
		Kind:             s.Scan.DefaultKind,
		Exclude:          append([]string(nil), s.Scan.DefaultExcludes...),
		IncludeTestFiles: s.Scan.IncludeTestFiles,
		MaxDepth:         s.Scan.MaxDepth,
		Timeout:          s.Scan.Timeout,
		MaxFileSizeMB:    a.Config.Engine.MaxFileSizeMB,
		Concurrency:      1,
	}
	for _, sev := range s.Rules.DefaultSeverityFilter {
		if cfg.MinSeverity == "" || sev.Rank() < cfg.MinSeverity.Rank() {
			cfg.MinSeverity = sev
		}
	}
	if s.Performance.EnableParallelProcessing {
		cfg.Concurrency = s.Performance.MaxWorkerThreads
	}
	return cfg
}

// settingsRules hides custom rules from the engine while the settings
// disable them.
type settingsRules struct {
	a *App
}

func (r settingsRules) ActiveRules(lang string, allow []string) []matcher.CompiledRule {
	active := r.a.Rules.ActiveRules(lang, allow)
	if r.a.Settings().Rules.EnableCustomRules {
		return active
	}
	return slices.DeleteFunc(active, func(c matcher.CompiledRule) bool {
		return !c.Def.IsBuiltin()
	})
}

// Close stops the engine and housekeeping and closes the database.
func (a *App) Close() error {
	a.Engine.Close()
	a.Janitor.Stop()
	if a.stopNotify != nil {
		a.stopNotify()
	}
	err := a.Store.Close()
	_ = a.Log.Sync()
	return err
}

// DefaultSettings overlays config values on the built-in settings.
func DefaultSettings(cfg *config.Config) models.Settings {
	s := models.DefaultSettings()
	if cfg == nil {
		return s
	}
	s.Scan.DefaultKind = models.ScanKind(cfg.Scan.DefaultKind)
	s.Scan.MaxConcurrentScans = cfg.Engine.MaxConcurrentScans
	s.Scan.DefaultExcludes = append([]string(nil), cfg.Scan.DefaultExcludes...)
	s.Scan.IncludeTestFiles = cfg.Scan.IncludeTestFiles
	s.Scan.MaxDepth = cfg.Scan.MaxDepth
	if d := cfg.Timeout(); d > 0 {
		s.Scan.Timeout = d
	}
	s.Performance.CacheSizeBytes = cfg.Cache.MaxSizeBytes
	s.Storage.ResultsDir = cfg.ResultsDir
	s.Storage.MaxHistory = cfg.History.MaxRecords
	s.Storage.RetentionDays = cfg.Cache.RetentionDays
	return s
}

// ValidateSettings lists every problem with s.
func ValidateSettings(s models.Settings) error {
	var problems []string
	switch s.Scan.DefaultKind {
	case models.ScanQuick, models.ScanFull, models.ScanCustom:
	default:
		problems = append(problems, fmt.Sprintf("unknown default scan kind %q", s.Scan.DefaultKind))
	}
	if n := s.Scan.MaxConcurrentScans; n < pipeline.MinConcurrentScans || n > pipeline.MaxConcurrentScansLimit {
		problems = append(problems, fmt.Sprintf("max concurrent scans must be between %d and %d", pipeline.MinConcurrentScans, pipeline.MaxConcurrentScansLimit))
	}
	if s.Scan.MaxDepth < 0 {
		problems = append(problems, "max depth must not be negative")
	}
	if s.Scan.Timeout < 0 || (s.Scan.Timeout > 0 && s.Scan.Timeout < time.Second) {
		problems = append(problems, "timeout must be at least one second")
	}
	for _, sev := range s.Rules.DefaultSeverityFilter {
		if !sev.Valid() {
			problems = append(problems, fmt.Sprintf("unknown severity %q", sev))
		}
	}
	if s.Performance.MaxWorkerThreads < 0 {
		problems = append(problems, "max worker threads must not be negative")
	}
	if s.Storage.MaxHistory < 0 || s.Storage.RetentionDays < 0 {
		problems = append(problems, "history limits must not be negative")
	}
	return models.NewValidationError("settings", problems)
}
