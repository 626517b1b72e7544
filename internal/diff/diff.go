// Package diff computes the delta between two scan results of the same
// project. It identifies findings that are new, resolved, or still present
// between consecutive runs.
package diff

import (
	"fmt"

	"github.com/hakim/seceval/internal/models"
)

// ---------------------------------------------------------------------------
// DiffResult
// ---------------------------------------------------------------------------

// SeverityChange is a finding still present whose severity moved because the
// rule was edited between runs.
type SeverityChange struct {
	Finding  models.Finding
	Previous models.Severity
}

// DiffResult holds the complete delta between a current and a previous scan
// result. All slice fields are non-nil (empty slices, not nil) so callers
// can range over them unconditionally.
type DiffResult struct {
	CurrentScanID  string
	PreviousScanID string

	NewFindings        []models.Finding
	ResolvedFindings   []models.Finding
	PersistentFindings []models.Finding
	SeverityChanges    []SeverityChange

	// SeverityDelta is current minus previous count per severity.
	SeverityDelta map[models.Severity]int

	// Summary counts (convenient for rendering without re-iterating slices)
	CurrentFindingCount  int
	PreviousFindingCount int
	CurrentFileCount     int
	PreviousFileCount    int
}

// ---------------------------------------------------------------------------
// ComputeDiff
// ---------------------------------------------------------------------------

// ComputeDiff calculates the delta between current and previous results.
// previous may be nil for the "no previous scan" case, in which case every
// current finding is new. Output slices follow the input finding order.
func ComputeDiff(current, previous *models.ScanResult) *DiffResult {
	if previous == nil {
		previous = &models.ScanResult{}
	}
	if current == nil {
		current = &models.ScanResult{}
	}

	dr := &DiffResult{
		CurrentScanID:      current.ScanID,
		PreviousScanID:     previous.ScanID,
		NewFindings:        []models.Finding{},
		ResolvedFindings:   []models.Finding{},
		PersistentFindings: []models.Finding{},
		SeverityChanges:    []SeverityChange{},
		SeverityDelta:      make(map[models.Severity]int),
	}

	diffFindings(dr, current.Findings, previous.Findings)

	for _, s := range models.AllSeverities() {
		dr.SeverityDelta[s] = countSeverity(current.Findings, s) - countSeverity(previous.Findings, s)
	}

	// Summary counts
	dr.CurrentFindingCount = len(current.Findings)
	dr.PreviousFindingCount = len(previous.Findings)
	dr.CurrentFileCount = current.Statistics.ScannedFiles
	dr.PreviousFileCount = previous.Statistics.ScannedFiles

	return dr
}

// HasChanges reports whether anything was added, resolved or re-rated.
func (dr *DiffResult) HasChanges() bool {
	return len(dr.NewFindings) > 0 || len(dr.ResolvedFindings) > 0 || len(dr.SeverityChanges) > 0
}

// ---------------------------------------------------------------------------
// Finding diff
// ---------------------------------------------------------------------------

// findingKey identifies a finding across runs. Line numbers are left out so
// that edits above a finding do not make it look new.
// Format: "ruleID::path::snippet"
func findingKey(f models.Finding) string {
	return fmt.Sprintf("%s::%s::%s", f.RuleID, f.FilePath, f.Snippet)
}

// diffFindings computes new, resolved and persistent findings. Duplicate keys
// are matched pairwise, so a second identical line counts as new.
func diffFindings(dr *DiffResult, current, previous []models.Finding) {
	prevByKey := make(map[string][]models.Finding, len(previous))
	for _, f := range previous {
		k := findingKey(f)
		prevByKey[k] = append(prevByKey[k], f)
	}

	matched := make(map[string]int, len(previous))
	for _, f := range current {
		k := findingKey(f)
		candidates := prevByKey[k]
		if matched[k] >= len(candidates) {
			dr.NewFindings = append(dr.NewFindings, f)
			continue
		}
		prev := candidates[matched[k]]
		matched[k]++

		dr.PersistentFindings = append(dr.PersistentFindings, f)
		if prev.Severity != f.Severity {
			dr.SeverityChanges = append(dr.SeverityChanges, SeverityChange{Finding: f, Previous: prev.Severity})
		}
	}

	// Resolved: in previous but not matched by current
	seen := make(map[string]int, len(previous))
	for _, f := range previous {
		k := findingKey(f)
		seen[k]++
		if seen[k] > matched[k] {
			dr.ResolvedFindings = append(dr.ResolvedFindings, f)
		}
	}
}

func countSeverity(findings []models.Finding, s models.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}
