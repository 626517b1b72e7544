// Package rules holds the rule catalogue: rule definitions with their
// compiled patterns, rule sets, and categories.
package rules

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/matcher"
	"github.com/hakim/seceval/internal/models"
	"go.uber.org/zap"
)

// Persister is the storage contract the store writes through to. Errors are
// logged and never fail the in-memory operation.
type Persister interface {
	SaveRule(rule models.Rule) error
	DeleteRule(id string) error
	LoadRules() ([]models.Rule, error)
	SaveRuleSet(set models.RuleSet) error
	DeleteRuleSet(id string) error
	LoadRuleSets() ([]models.RuleSet, error)
}

// Options configures a Store. Every field is optional.
type Options struct {
	Persister Persister
	Bus       *events.Bus
	Logger    *zap.Logger
	Now       func() time.Time
}

type entry struct {
	rule models.Rule
	expr *matcher.Compiled
}

// Store owns every rule value. Rule sets reference rules by id only.
type Store struct {
	mu         sync.RWMutex
	rules      map[string]*entry
	order      []string
	sets       map[string]models.RuleSet
	setOrder   []string
	categories map[string]models.Category
	catOrder   []string

	persist Persister
	bus     *events.Bus
	log     *zap.Logger
	now     func() time.Time
}

// NewStore creates a store seeded with the built-in catalogue.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		persist: opts.Persister,
		bus:     opts.Bus,
		log:     opts.Logger.Named("rules"),
		now:     opts.Now,
	}
	s.seed()
	return s
}

// seed resets the maps to the built-in catalogue. Caller holds mu or owns s.
func (s *Store) seed() {
	s.rules = make(map[string]*entry)
	s.order = nil
	s.sets = make(map[string]models.RuleSet)
	s.setOrder = nil
	s.categories = make(map[string]models.Category)
	s.catOrder = nil

	for _, c := range BuiltinCategories() {
		s.categories[c.ID] = c
		s.catOrder = append(s.catOrder, c.ID)
	}
	for _, r := range BuiltinRules() {
		s.rules[r.ID] = &entry{rule: r, expr: matcher.MustCompile(r.Pattern)}
		s.order = append(s.order, r.ID)
	}
	for _, rs := range BuiltinRuleSets(s.now()) {
		s.sets[rs.ID] = rs
		s.setOrder = append(s.setOrder, rs.ID)
	}
}

// Load merges persisted rules and rule sets over the built-in catalogue.
// A persisted copy of a built-in rule keeps its built-in origin. Records that
// fail validation are logged and skipped.
func (s *Store) Load() error {
	if s.persist == nil {
		return nil
	}
	rules, err := s.persist.LoadRules()
	if err != nil {
		return fmt.Errorf("rules: loading rules: %w", err)
	}
	sets, err := s.persist.LoadRuleSets()
	if err != nil {
		return fmt.Errorf("rules: loading rule sets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rules {
		if existing, ok := s.rules[r.ID]; ok && existing.rule.IsBuiltin() {
			r.Origin = models.OriginBuiltin
		} else if r.Origin == "" {
			r.Origin = models.OriginCustom
		}
		expr, err := compileValid(r)
		if err != nil {
			s.log.Warn("skipping stored rule", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		s.putLocked(r.Clone(), expr)
	}
	for _, rs := range sets {
		rs.RuleIDs = s.knownIDsLocked(rs.RuleIDs)
		if _, ok := s.sets[rs.ID]; !ok {
			s.setOrder = append(s.setOrder, rs.ID)
		}
		s.sets[rs.ID] = rs.Clone()
	}
	s.log.Debug("catalogue loaded", zap.Int("stored_rules", len(rules)), zap.Int("stored_sets", len(sets)))
	return nil
}

// AddRule inserts a new custom rule.
func (s *Store) AddRule(rule models.Rule) (models.Rule, error) {
	rule = rule.Clone()
	rule.Origin = models.OriginCustom
	expr, err := compileValid(rule)
	if err != nil {
		return models.Rule{}, err
	}

	s.mu.Lock()
	if _, ok := s.rules[rule.ID]; ok {
		s.mu.Unlock()
		return models.Rule{}, fmt.Errorf("rules: adding %q: %w", rule.ID, models.ErrDuplicateKey)
	}
	s.putLocked(rule, expr)
	s.mu.Unlock()

	s.saveRule(rule)
	s.publishRule(events.RuleAdded, rule)
	return rule.Clone(), nil
}

// UpdateRule merges patch into the rule. Built-in rules may be edited; the
// id and origin never change.
func (s *Store) UpdateRule(id string, patch models.RulePatch) (models.Rule, error) {
	s.mu.Lock()
	e, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return models.Rule{}, fmt.Errorf("rules: updating %q: %w", id, models.ErrNotFound)
	}

	updated := e.rule.Clone()
	patch.Apply(&updated)
	updated.ID = e.rule.ID
	updated.Origin = e.rule.Origin

	expr := e.expr
	if updated.Pattern != e.rule.Pattern {
		var err error
		if expr, err = compileValid(updated); err != nil {
			s.mu.Unlock()
			return models.Rule{}, err
		}
	} else if err := ValidateRule(updated); err != nil {
		s.mu.Unlock()
		return models.Rule{}, err
	}

	e.rule = updated
	e.expr = expr
	s.mu.Unlock()

	s.saveRule(updated)
	s.publishRule(events.RuleUpdated, updated)
	return updated.Clone(), nil
}

// DeleteRule removes a custom rule and scrubs its id from every rule set.
func (s *Store) DeleteRule(id string) error {
	s.mu.Lock()
	e, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rules: deleting %q: %w", id, models.ErrNotFound)
	}
	if e.rule.IsBuiltin() {
		s.mu.Unlock()
		return fmt.Errorf("rules: deleting built-in rule %q: %w", id, models.ErrProtected)
	}

	delete(s.rules, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })

	var touched []models.RuleSet
	now := s.now()
	for _, setID := range s.setOrder {
		rs := s.sets[setID]
		if !slices.Contains(rs.RuleIDs, id) {
			continue
		}
		rs.RuleIDs = slices.DeleteFunc(slices.Clone(rs.RuleIDs), func(x string) bool { return x == id })
		rs.UpdatedAt = now
		s.sets[setID] = rs
		touched = append(touched, rs.Clone())
	}
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.DeleteRule(id); err != nil {
			s.log.Warn("could not delete stored rule", zap.String("id", id), zap.Error(err))
		}
	}
	for _, rs := range touched {
		s.saveRuleSet(rs)
	}
	s.bus.Publish(events.Event{Type: events.RuleDeleted, RuleID: id})
	return nil
}

// GetRule returns a copy of the rule.
func (s *Store) GetRule(id string) (models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rules[id]
	if !ok {
		return models.Rule{}, fmt.Errorf("rules: %q: %w", id, models.ErrNotFound)
	}
	return e.rule.Clone(), nil
}

// ListRules returns every rule in insertion order.
func (s *Store) ListRules() []models.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id].rule.Clone())
	}
	return out
}

// Toggle enables or disables a rule.
func (s *Store) Toggle(id string, enabled bool) (models.Rule, error) {
	return s.UpdateRule(id, models.RulePatch{Enabled: &enabled})
}

// BatchUpdate applies patch to every id and returns how many were updated.
// Unknown ids are skipped.
func (s *Store) BatchUpdate(ids []string, patch models.RulePatch) int {
	n := 0
	for _, id := range ids {
		if _, err := s.UpdateRule(id, patch); err != nil {
			s.log.Debug("batch update skipped rule", zap.String("id", id), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// ActiveRules returns the compiled rules that apply to a file of language
// lang. A non-empty allow list selects exactly those ids that exist and are
// enabled, regardless of language. Results follow insertion order.
func (s *Store) ActiveRules(lang string, allow []string) []matcher.CompiledRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []matcher.CompiledRule
	for _, id := range s.order {
		e := s.rules[id]
		if !e.rule.Enabled {
			continue
		}
		if len(allow) > 0 {
			if !slices.Contains(allow, id) {
				continue
			}
		} else if !e.rule.AppliesTo(lang) {
			continue
		}
		out = append(out, matcher.CompiledRule{Def: e.rule.Clone(), Expr: e.expr})
	}
	return out
}

// Reset discards every custom rule and restores the built-in catalogue.
func (s *Store) Reset() {
	s.mu.Lock()
	oldRules := slices.Clone(s.order)
	oldSets := slices.Clone(s.setOrder)
	s.seed()
	rules := make([]models.Rule, 0, len(s.order))
	for _, id := range s.order {
		rules = append(rules, s.rules[id].rule.Clone())
	}
	sets := make([]models.RuleSet, 0, len(s.setOrder))
	for _, id := range s.setOrder {
		sets = append(sets, s.sets[id].Clone())
	}
	s.mu.Unlock()

	if s.persist != nil {
		for _, id := range oldRules {
			if err := s.persist.DeleteRule(id); err != nil {
				s.log.Warn("could not delete stored rule", zap.String("id", id), zap.Error(err))
			}
		}
		for _, id := range oldSets {
			if err := s.persist.DeleteRuleSet(id); err != nil {
				s.log.Warn("could not delete stored rule set", zap.String("id", id), zap.Error(err))
			}
		}
	}
	for _, r := range rules {
		s.saveRule(r)
	}
	for _, rs := range sets {
		s.saveRuleSet(rs)
	}
	s.log.Info("catalogue reset", zap.Int("rules", len(rules)))
}

func (s *Store) putLocked(rule models.Rule, expr *matcher.Compiled) {
	if _, ok := s.rules[rule.ID]; !ok {
		s.order = append(s.order, rule.ID)
	}
	s.rules[rule.ID] = &entry{rule: rule, expr: expr}
}

// knownIDsLocked drops ids that do not name a rule, keeping order.
func (s *Store) knownIDsLocked(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.rules[id]; ok && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) saveRule(rule models.Rule) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveRule(rule); err != nil {
		s.log.Warn("could not persist rule", zap.String("id", rule.ID), zap.Error(err))
	}
}

func (s *Store) saveRuleSet(rs models.RuleSet) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveRuleSet(rs); err != nil {
		s.log.Warn("could not persist rule set", zap.String("id", rs.ID), zap.Error(err))
	}
}

func (s *Store) publishRule(t events.Type, rule models.Rule) {
	r := rule.Clone()
	s.bus.Publish(events.Event{Type: t, RuleID: rule.ID, Rule: &r})
}

// compileValid validates rule and compiles its pattern.
func compileValid(rule models.Rule) (*matcher.Compiled, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	expr, err := matcher.Compile(rule.Pattern)
	if err != nil {
		return nil, models.NewValidationError("rule "+rule.ID, []string{"pattern: " + err.Error()})
	}
	return expr, nil
}
