package models

// ScanStatus represents the current state of a scan session
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
	StatusCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s.
func (s ScanStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Severity represents the severity level of a rule or finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities returns every severity, most severe first.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Rank orders severities: critical=5 down to info=1. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is as severe as min. An empty min admits everything.
func (s Severity) AtLeast(min Severity) bool {
	if min == "" {
		return true
	}
	return s.Rank() >= min.Rank()
}

// ScanKind selects a scan preset
type ScanKind string

const (
	ScanQuick  ScanKind = "quick"
	ScanFull   ScanKind = "full"
	ScanCustom ScanKind = "custom"
)

// FindingStatus tracks triage state of a finding
type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingFixed         FindingStatus = "fixed"
	FindingIgnored       FindingStatus = "ignored"
	FindingFalsePositive FindingStatus = "false_positive"
)

// RuleOrigin distinguishes shipped rules from user-defined ones
type RuleOrigin string

const (
	OriginBuiltin RuleOrigin = "builtin"
	OriginCustom  RuleOrigin = "custom"
)

// PatternKind selects how a rule's expression is interpreted
type PatternKind string

const (
	PatternRegex    PatternKind = "regex"
	PatternAST      PatternKind = "ast"
	PatternSemantic PatternKind = "semantic"
)
