package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
	"go.uber.org/zap"
)

// RuleSetPatch carries a partial rule set update. Nil fields are untouched.
type RuleSetPatch struct {
	Name        *string
	Description *string
	Version     *string
	RuleIDs     []string
	Enabled     *bool
	Tags        []string
}

// AddRuleSet registers a rule set. Unknown rule ids are dropped.
func (s *Store) AddRuleSet(rs models.RuleSet) (models.RuleSet, error) {
	if strings.TrimSpace(rs.ID) == "" || strings.TrimSpace(rs.Name) == "" {
		return models.RuleSet{}, models.NewValidationError("rule set", []string{"id and name are required"})
	}
	rs = rs.Clone()

	s.mu.Lock()
	if _, ok := s.sets[rs.ID]; ok {
		s.mu.Unlock()
		return models.RuleSet{}, fmt.Errorf("rules: adding rule set %q: %w", rs.ID, models.ErrDuplicateKey)
	}
	now := s.now()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now
	rs.RuleIDs = s.knownIDsLocked(rs.RuleIDs)
	s.sets[rs.ID] = rs
	s.setOrder = append(s.setOrder, rs.ID)
	s.mu.Unlock()

	s.saveRuleSet(rs)
	s.bus.Publish(events.Event{Type: events.RuleSetAdded, RuleSetID: rs.ID})
	return rs.Clone(), nil
}

// UpdateRuleSet merges patch into the rule set.
func (s *Store) UpdateRuleSet(id string, patch RuleSetPatch) (models.RuleSet, error) {
	s.mu.Lock()
	rs, ok := s.sets[id]
	if !ok {
		s.mu.Unlock()
		return models.RuleSet{}, fmt.Errorf("rules: updating rule set %q: %w", id, models.ErrNotFound)
	}
	rs = rs.Clone()
	if patch.Name != nil {
		rs.Name = *patch.Name
	}
	if patch.Description != nil {
		rs.Description = *patch.Description
	}
	if patch.Version != nil {
		rs.Version = *patch.Version
	}
	if patch.RuleIDs != nil {
		rs.RuleIDs = s.knownIDsLocked(patch.RuleIDs)
	}
	if patch.Enabled != nil {
		rs.Enabled = *patch.Enabled
	}
	if patch.Tags != nil {
		rs.Tags = slices.Clone(patch.Tags)
	}
	rs.UpdatedAt = s.now()
	s.sets[id] = rs
	s.mu.Unlock()

	s.saveRuleSet(rs)
	s.bus.Publish(events.Event{Type: events.RuleSetUpdated, RuleSetID: id})
	return rs.Clone(), nil
}

// DeleteRuleSet removes a rule set. The rules it referenced are untouched.
func (s *Store) DeleteRuleSet(id string) error {
	s.mu.Lock()
	if _, ok := s.sets[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("rules: deleting rule set %q: %w", id, models.ErrNotFound)
	}
	delete(s.sets, id)
	s.setOrder = slices.DeleteFunc(s.setOrder, func(x string) bool { return x == id })
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.DeleteRuleSet(id); err != nil {
			s.log.Warn("could not delete stored rule set", zap.String("id", id), zap.Error(err))
		}
	}
	s.bus.Publish(events.Event{Type: events.RuleSetDeleted, RuleSetID: id})
	return nil
}

// GetRuleSet returns a copy of the rule set.
func (s *Store) GetRuleSet(id string) (models.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.sets[id]
	if !ok {
		return models.RuleSet{}, fmt.Errorf("rules: rule set %q: %w", id, models.ErrNotFound)
	}
	return rs.Clone(), nil
}

// ListRuleSets returns every rule set in insertion order.
func (s *Store) ListRuleSets() []models.RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RuleSet, 0, len(s.setOrder))
	for _, id := range s.setOrder {
		out = append(out, s.sets[id].Clone())
	}
	return out
}

// RuleSetRules resolves a rule set's ids to rules, skipping dangling ids.
func (s *Store) RuleSetRules(id string) ([]models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.sets[id]
	if !ok {
		return nil, fmt.Errorf("rules: rule set %q: %w", id, models.ErrNotFound)
	}
	out := make([]models.Rule, 0, len(rs.RuleIDs))
	for _, rid := range rs.RuleIDs {
		if e, ok := s.rules[rid]; ok {
			out = append(out, e.rule.Clone())
		}
	}
	return out, nil
}

// AddCategory registers a category.
func (s *Store) AddCategory(c models.Category) error {
	if strings.TrimSpace(c.ID) == "" {
		return models.NewValidationError("category", []string{"id is required"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; ok {
		return fmt.Errorf("rules: adding category %q: %w", c.ID, models.ErrDuplicateKey)
	}
	s.categories[c.ID] = c
	s.catOrder = append(s.catOrder, c.ID)
	return nil
}

// GetCategory looks up a category.
func (s *Store) GetCategory(id string) (models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return models.Category{}, fmt.Errorf("rules: category %q: %w", id, models.ErrNotFound)
	}
	return c, nil
}

// ListCategories returns every category in insertion order.
func (s *Store) ListCategories() []models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Category, 0, len(s.catOrder))
	for _, id := range s.catOrder {
		out = append(out, s.categories[id])
	}
	return out
}
