package models

import "time"

// Settings is the user-editable preferences document persisted under a
// single key.
type Settings struct {
	Scan        ScanSettings        `json:"scan"`
	Rules       RuleSettings        `json:"rules"`
	Performance PerformanceSettings `json:"performance"`
	Storage     StorageSettings     `json:"storage"`
}

// ScanSettings are defaults applied to new scan configs
type ScanSettings struct {
	DefaultKind        ScanKind      `json:"default_kind"`
	MaxConcurrentScans int           `json:"max_concurrent_scans"`
	DefaultExcludes    []string      `json:"default_excludes"`
	IncludeTestFiles   bool          `json:"include_test_files"`
	MaxDepth           int           `json:"max_depth"`
	Timeout            time.Duration `json:"timeout"`
}

// RuleSettings control rule handling
type RuleSettings struct {
	EnableCustomRules     bool       `json:"enable_custom_rules"`
	DefaultSeverityFilter []Severity `json:"default_severity_filter"`
}

// PerformanceSettings tune the engine
type PerformanceSettings struct {
	EnableCaching            bool  `json:"enable_caching"`
	CacheSizeBytes           int64 `json:"cache_size_bytes"`
	EnableParallelProcessing bool  `json:"enable_parallel_processing"`
	MaxWorkerThreads         int   `json:"max_worker_threads"`
}

// StorageSettings control retention
type StorageSettings struct {
	ResultsDir    string `json:"results_dir"`
	MaxHistory    int    `json:"max_history"`
	RetentionDays int    `json:"retention_days"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{
		Scan: ScanSettings{
			DefaultKind:        ScanQuick,
			MaxConcurrentScans: 3,
			DefaultExcludes:    []string{"node_modules", "dist", "build", ".git"},
			IncludeTestFiles:   false,
			MaxDepth:           10,
			Timeout:            30 * time.Minute,
		},
		Rules: RuleSettings{
			EnableCustomRules:     true,
			DefaultSeverityFilter: []Severity{SeverityCritical, SeverityHigh, SeverityMedium},
		},
		Performance: PerformanceSettings{
			EnableCaching:            true,
			CacheSizeBytes:           100 * 1024 * 1024,
			EnableParallelProcessing: true,
			MaxWorkerThreads:         4,
		},
		Storage: StorageSettings{
			ResultsDir:    "results",
			MaxHistory:    100,
			RetentionDays: 30,
		},
	}
}
