package rules

import (
	"strings"

	"github.com/hakim/seceval/internal/models"
)

// ValidateRule reports every missing or malformed field of rule. It returns
// nil for a well-formed rule and a *models.ValidationError otherwise.
func ValidateRule(rule models.Rule) error {
	var problems []string

	if strings.TrimSpace(rule.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(rule.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(rule.Description) == "" {
		problems = append(problems, "description is required")
	}
	if !rule.Severity.Valid() {
		problems = append(problems, "severity must be one of critical, high, medium, low, info")
	}
	if strings.TrimSpace(rule.Category) == "" {
		problems = append(problems, "category is required")
	}
	if len(rule.Languages) == 0 {
		problems = append(problems, "at least one language is required")
	}
	if strings.TrimSpace(rule.Pattern.Expression) == "" {
		problems = append(problems, "pattern is required")
	}

	subject := "rule"
	if rule.ID != "" {
		subject = "rule " + rule.ID
	}
	return models.NewValidationError(subject, problems)
}
