package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ScanConfig describes what a scan session should cover
type ScanConfig struct {
	TargetPath       string        `json:"target_path"`
	Kind             ScanKind      `json:"kind"`
	Include          []string      `json:"include,omitempty"`
	Exclude          []string      `json:"exclude,omitempty"`
	IncludeTestFiles bool          `json:"include_test_files"`
	MaxDepth         int           `json:"max_depth,omitempty"`
	RuleIDs          []string      `json:"rule_ids,omitempty"`
	MinSeverity      Severity      `json:"min_severity,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	Concurrency      int           `json:"concurrency,omitempty"`
	MaxFileSizeMB    int64         `json:"max_file_size_mb,omitempty"`
}

// Clone returns a deep copy of the config.
func (c ScanConfig) Clone() ScanConfig {
	cp := c
	cp.Include = slices.Clone(c.Include)
	cp.Exclude = slices.Clone(c.Exclude)
	cp.RuleIDs = slices.Clone(c.RuleIDs)
	return cp
}

// Progress holds the live counters of a running session
type Progress struct {
	ProcessedFiles     int           `json:"processed_files"`
	TotalFiles         int           `json:"total_files"`
	FindingsCount      int           `json:"findings_count"`
	Percent            int           `json:"percent"`
	CurrentFile        string        `json:"current_file,omitempty"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining,omitempty"`
	HasEstimate        bool          `json:"has_estimate"`
}

// ScanSession is the live record of a scan owned by the orchestrator
type ScanSession struct {
	ID        string     `json:"id"`
	Status    ScanStatus `json:"status"`
	Config    ScanConfig `json:"config"`
	Progress  Progress   `json:"progress"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// NewSession creates a pending session with a fresh id
func NewSession(cfg ScanConfig) *ScanSession {
	return &ScanSession{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Config:    cfg.Clone(),
		StartedAt: time.Now(),
	}
}

// Snapshot returns a copy safe to hand outside the orchestrator.
func (s *ScanSession) Snapshot() ScanSession {
	cp := *s
	cp.Config = s.Config.Clone()
	cp.Warnings = slices.Clone(s.Warnings)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return cp
}

// Statistics aggregates a finished scan
type Statistics struct {
	TotalFiles   int              `json:"total_files"`
	ScannedFiles int              `json:"scanned_files"`
	SkippedFiles int              `json:"skipped_files"`
	FindingCount int              `json:"finding_count"`
	BySeverity   map[Severity]int `json:"by_severity"`
	ByCategory   map[string]int   `json:"by_category"`
	ByLanguage   map[string]int   `json:"by_language"`
}

// NewStatistics returns statistics with every severity bucket present.
func NewStatistics() Statistics {
	bySeverity := make(map[Severity]int, 5)
	for _, s := range AllSeverities() {
		bySeverity[s] = 0
	}
	return Statistics{
		BySeverity: bySeverity,
		ByCategory: make(map[string]int),
		ByLanguage: make(map[string]int),
	}
}

// ResourceUsage is a process snapshot taken when a scan finishes
type ResourceUsage struct {
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
	Goroutines      int    `json:"goroutines"`
}

// ScanResult is the immutable summary of a completed session
type ScanResult struct {
	ScanID      string        `json:"scan_id"`
	ProjectPath string        `json:"project_path"`
	Config      ScanConfig    `json:"config"`
	Status      ScanStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration"`
	Findings    []Finding     `json:"findings"`
	Statistics  Statistics    `json:"statistics"`
	Resources   ResourceUsage `json:"resources"`
	Errors      []string      `json:"errors,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
}
