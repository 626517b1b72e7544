package models

import (
	"maps"
	"path/filepath"
	"time"
)

// HistoryRecord is the ledger entry kept for a completed scan
type HistoryRecord struct {
	ID            string           `json:"id"`
	ProjectPath   string           `json:"project_path"`
	ProjectName   string           `json:"project_name"`
	Kind          ScanKind         `json:"kind"`
	Status        ScanStatus       `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	Duration      time.Duration    `json:"duration"`
	Config        ScanConfig       `json:"config"`
	ResultPath    string           `json:"result_path,omitempty"`
	FindingCount  int              `json:"finding_count"`
	SeverityStats map[Severity]int `json:"severity_stats"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

// NewHistoryRecord summarises res. resultPath points at the stored artifact.
func NewHistoryRecord(res *ScanResult, resultPath string) HistoryRecord {
	ended := res.EndedAt
	rec := HistoryRecord{
		ID:            res.ScanID,
		ProjectPath:   res.ProjectPath,
		ProjectName:   ProjectName(res.ProjectPath),
		Kind:          res.Config.Kind,
		Status:        res.Status,
		StartedAt:     res.StartedAt,
		EndedAt:       &ended,
		Duration:      res.Duration,
		Config:        res.Config.Clone(),
		ResultPath:    resultPath,
		FindingCount:  len(res.Findings),
		SeverityStats: maps.Clone(res.Statistics.BySeverity),
	}
	if len(res.Errors) > 0 {
		rec.ErrorMessage = res.Errors[0]
	}
	return rec
}

// ProjectName derives a display name from a project path.
func ProjectName(projectPath string) string {
	base := filepath.Base(filepath.Clean(projectPath))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "unknown-project"
	}
	return base
}
