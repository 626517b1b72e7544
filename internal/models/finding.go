package models

import (
	"slices"
	"time"
)

// Finding is a single rule match. Rule fields are copied at detection time
// so later rule edits leave historical findings untouched.
type Finding struct {
	ID           string        `json:"id"`
	RuleID       string        `json:"rule_id"`
	RuleName     string        `json:"rule_name"`
	Severity     Severity      `json:"severity"`
	Category     string        `json:"category"`
	Description  string        `json:"description,omitempty"`
	FilePath     string        `json:"file_path"`
	StartLine    int           `json:"start_line"`
	EndLine      int           `json:"end_line"`
	StartColumn  int           `json:"start_column"`
	EndColumn    int           `json:"end_column"`
	Snippet      string        `json:"snippet"`
	CWE          string        `json:"cwe,omitempty"`
	RiskScore    float64       `json:"risk_score,omitempty"`
	Confidence   int           `json:"confidence"`
	Status       FindingStatus `json:"status"`
	DiscoveredAt time.Time     `json:"discovered_at"`
	Remediation  string        `json:"remediation,omitempty"`
	References   []string      `json:"references,omitempty"`
}

// FileMeta describes a discovered source file. Path is relative to the scan
// target and slash-separated; FullPath is what the file system is asked for.
type FileMeta struct {
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
	Language string `json:"language"`
	Size     int64  `json:"size"`
}

// SortFindings orders findings by file path, then line, then rule id.
func SortFindings(findings []Finding) {
	slices.SortStableFunc(findings, func(a, b Finding) int {
		if a.FilePath != b.FilePath {
			if a.FilePath < b.FilePath {
				return -1
			}
			return 1
		}
		if a.StartLine != b.StartLine {
			return a.StartLine - b.StartLine
		}
		if a.RuleID < b.RuleID {
			return -1
		}
		if a.RuleID > b.RuleID {
			return 1
		}
		return 0
	})
}
