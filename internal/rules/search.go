package rules

import (
	"slices"
	"strings"

	"github.com/hakim/seceval/internal/models"
)

// Criteria filters rules. Zero-valued fields are ignored; supplied fields are
// ANDed. Within a set-valued field any member matches.
type Criteria struct {
	Keyword    string
	Severities []models.Severity
	Categories []string
	Languages  []string
	Enabled    *bool
	Origin     models.RuleOrigin
	Tags       []string
}

// Search returns matching rules in insertion order.
func (s *Store) Search(c Criteria) []models.Rule {
	keyword := strings.ToLower(strings.TrimSpace(c.Keyword))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Rule
	for _, id := range s.order {
		r := s.rules[id].rule
		if keyword != "" && !containsKeyword(r, keyword) {
			continue
		}
		if len(c.Severities) > 0 && !slices.Contains(c.Severities, r.Severity) {
			continue
		}
		if len(c.Categories) > 0 && !slices.Contains(c.Categories, r.Category) {
			continue
		}
		if len(c.Languages) > 0 && !slices.ContainsFunc(c.Languages, r.AppliesTo) {
			continue
		}
		if c.Enabled != nil && r.Enabled != *c.Enabled {
			continue
		}
		if c.Origin != "" && r.Origin != c.Origin {
			continue
		}
		if len(c.Tags) > 0 && !slices.ContainsFunc(c.Tags, func(t string) bool { return slices.Contains(r.Tags, t) }) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

func containsKeyword(r models.Rule, keyword string) bool {
	if strings.Contains(strings.ToLower(r.Name), keyword) ||
		strings.Contains(strings.ToLower(r.Description), keyword) {
		return true
	}
	for _, t := range r.Tags {
		if strings.Contains(strings.ToLower(t), keyword) {
			return true
		}
	}
	return false
}

// Statistics summarises the catalogue.
type Statistics struct {
	Total      int                     `json:"total"`
	Enabled    int                     `json:"enabled"`
	Disabled   int                     `json:"disabled"`
	Custom     int                     `json:"custom"`
	Builtin    int                     `json:"builtin"`
	BySeverity map[models.Severity]int `json:"by_severity"`
	ByCategory map[string]int          `json:"by_category"`
	ByLanguage map[string]int          `json:"by_language"`
}

// Statistics recomputes the catalogue summary in one pass.
func (s *Store) Statistics() Statistics {
	st := Statistics{
		BySeverity: make(map[models.Severity]int, 5),
		ByCategory: make(map[string]int),
		ByLanguage: make(map[string]int),
	}
	for _, sev := range models.AllSeverities() {
		st.BySeverity[sev] = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		r := s.rules[id].rule
		st.Total++
		if r.Enabled {
			st.Enabled++
		}
		if r.IsBuiltin() {
			st.Builtin++
		} else {
			st.Custom++
		}
		st.BySeverity[r.Severity]++
		st.ByCategory[r.Category]++
		for _, lang := range r.Languages {
			st.ByLanguage[lang]++
		}
	}
	st.Disabled = st.Total - st.Enabled
	return st
}
