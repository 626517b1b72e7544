package models

import (
	"slices"
	"time"
)

// Pattern is the match expression attached to a rule.
type Pattern struct {
	Kind       PatternKind `json:"kind" yaml:"kind"`
	Expression string      `json:"expression" yaml:"expression"`
}

// RuleDocs holds remediation guidance shown alongside findings
type RuleDocs struct {
	Vulnerable string   `json:"vulnerable,omitempty" yaml:"vulnerable,omitempty"`
	Secure     string   `json:"secure,omitempty" yaml:"secure,omitempty"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// Rule is a single detection rule
type Rule struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Severity    Severity   `json:"severity" yaml:"severity"`
	Category    string     `json:"category" yaml:"category"`
	Languages   []string   `json:"languages" yaml:"languages"`
	Pattern     Pattern    `json:"pattern" yaml:"pattern"`
	CWE         string     `json:"cwe,omitempty" yaml:"cwe,omitempty"`
	RiskScore   float64    `json:"risk_score,omitempty" yaml:"risk_score,omitempty"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	Origin      RuleOrigin `json:"origin" yaml:"origin"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Docs        RuleDocs   `json:"docs" yaml:"docs"`
}

// IsBuiltin reports whether the rule shipped with the catalogue.
func (r Rule) IsBuiltin() bool {
	return r.Origin == OriginBuiltin
}

// AppliesTo reports whether lang is in the rule's language set.
func (r Rule) AppliesTo(lang string) bool {
	return slices.Contains(r.Languages, lang)
}

// Clone returns a deep copy so callers cannot alias the store's slices.
func (r Rule) Clone() Rule {
	cp := r
	cp.Languages = slices.Clone(r.Languages)
	cp.Tags = slices.Clone(r.Tags)
	cp.Docs.References = slices.Clone(r.Docs.References)
	return cp
}

// RulePatch carries a partial update. Nil fields are left untouched.
type RulePatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Severity    *Severity `json:"severity,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Languages   []string  `json:"languages,omitempty"`
	Pattern     *Pattern  `json:"pattern,omitempty"`
	CWE         *string   `json:"cwe,omitempty"`
	RiskScore   *float64  `json:"risk_score,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Docs        *RuleDocs `json:"docs,omitempty"`
}

// Apply merges the patch into r.
func (p RulePatch) Apply(r *Rule) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Severity != nil {
		r.Severity = *p.Severity
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Languages != nil {
		r.Languages = slices.Clone(p.Languages)
	}
	if p.Pattern != nil {
		r.Pattern = *p.Pattern
	}
	if p.CWE != nil {
		r.CWE = *p.CWE
	}
	if p.RiskScore != nil {
		r.RiskScore = *p.RiskScore
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Tags != nil {
		r.Tags = slices.Clone(p.Tags)
	}
	if p.Docs != nil {
		r.Docs = *p.Docs
		r.Docs.References = slices.Clone(p.Docs.References)
	}
}

// RuleSet groups rules by id. It references rules, it does not own them.
type RuleSet struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	RuleIDs     []string  `json:"rule_ids" yaml:"rule_ids"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Languages   []string  `json:"languages,omitempty" yaml:"languages,omitempty"`
	Categories  []string  `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// Clone returns a deep copy of the rule set.
func (rs RuleSet) Clone() RuleSet {
	cp := rs
	cp.RuleIDs = slices.Clone(rs.RuleIDs)
	cp.Tags = slices.Clone(rs.Tags)
	cp.Languages = slices.Clone(rs.Languages)
	cp.Categories = slices.Clone(rs.Categories)
	return cp
}

// Category describes a rule category
type Category struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	ParentID    string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
}
