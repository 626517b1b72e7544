package rules

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
	"gopkg.in/yaml.v3"
)

// Bundle is the portable export format.
type Bundle struct {
	Version    string            `json:"version" yaml:"version"`
	ExportedAt time.Time         `json:"exported_at" yaml:"exported_at"`
	Rules      []models.Rule     `json:"rules" yaml:"rules"`
	RuleSets   []models.RuleSet  `json:"rule_sets,omitempty" yaml:"rule_sets,omitempty"`
	Categories []models.Category `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// ImportReport counts the outcome of an import. One bad record never aborts
// the rest.
type ImportReport struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ExportRules bundles the given rules (all rules when ids is empty). Unknown
// ids are ignored.
func (s *Store) ExportRules(ids []string, includeSets bool) Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := Bundle{
		Version:    CatalogueVersion,
		ExportedAt: s.now().UTC(),
	}
	selected := s.order
	if len(ids) > 0 {
		selected = ids
	}
	for _, id := range selected {
		if e, ok := s.rules[id]; ok {
			b.Rules = append(b.Rules, e.rule.Clone())
		}
	}
	if includeSets {
		for _, id := range s.setOrder {
			b.RuleSets = append(b.RuleSets, s.sets[id].Clone())
		}
	}
	for _, id := range s.catOrder {
		b.Categories = append(b.Categories, s.categories[id])
	}
	return b
}

// ImportRules merges a decoded bundle. An existing id is skipped unless
// overwrite is set; overwriting a built-in rule keeps it built-in. Rule set
// members that name no rule are dropped.
func (s *Store) ImportRules(b Bundle, overwrite bool) ImportReport {
	var report ImportReport
	s.importBundle(b, overwrite, &report)
	return report
}

// ImportBundle decodes a YAML or JSON bundle record by record and imports
// it. Only a document that cannot be parsed at all is returned as an error.
func (s *Store) ImportBundle(data []byte, overwrite bool) (ImportReport, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ImportReport{}, fmt.Errorf("rules: parsing bundle: %w", err)
	}

	var (
		report ImportReport
		b      Bundle
	)
	b.Version, _ = doc["version"].(string)

	for i, raw := range asList(doc["categories"]) {
		var c models.Category
		if err := decodeRecord(raw, &c); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("category #%d: %v", i, err))
			continue
		}
		b.Categories = append(b.Categories, c)
	}
	for i, raw := range asList(doc["rules"]) {
		r := models.Rule{Enabled: true}
		if err := decodeRecord(raw, &r); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("rule #%d: %v", i, err))
			continue
		}
		b.Rules = append(b.Rules, r)
	}
	for i, raw := range asList(doc["rule_sets"]) {
		rs := models.RuleSet{Enabled: true}
		if err := decodeRecord(raw, &rs); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("rule set #%d: %v", i, err))
			continue
		}
		b.RuleSets = append(b.RuleSets, rs)
	}

	s.importBundle(b, overwrite, &report)
	return report, nil
}

func (s *Store) importBundle(b Bundle, overwrite bool, report *ImportReport) {
	var (
		added, updated []models.Rule
		savedSets      []models.RuleSet
	)

	s.mu.Lock()
	for _, c := range b.Categories {
		if c.ID == "" {
			report.Errors = append(report.Errors, "category without id")
			continue
		}
		if _, ok := s.categories[c.ID]; ok && !overwrite {
			continue
		} else if !ok {
			s.catOrder = append(s.catOrder, c.ID)
		}
		s.categories[c.ID] = c
	}

	for _, r := range b.Rules {
		r = r.Clone()
		existing, exists := s.rules[r.ID]
		if exists && !overwrite {
			report.Skipped++
			continue
		}
		r.Origin = models.OriginCustom
		if exists && existing.rule.IsBuiltin() {
			r.Origin = models.OriginBuiltin
		}
		expr, err := compileValid(r)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("rule %q: %v", r.ID, err))
			continue
		}
		s.putLocked(r, expr)
		report.Imported++
		if exists {
			updated = append(updated, r)
		} else {
			added = append(added, r)
		}
	}

	now := s.now()
	for _, rs := range b.RuleSets {
		if rs.ID == "" {
			report.Errors = append(report.Errors, "rule set without id")
			continue
		}
		if _, ok := s.sets[rs.ID]; ok && !overwrite {
			continue
		} else if !ok {
			s.setOrder = append(s.setOrder, rs.ID)
		}
		rs = rs.Clone()
		rs.RuleIDs = s.knownIDsLocked(rs.RuleIDs)
		if rs.CreatedAt.IsZero() {
			rs.CreatedAt = now
		}
		rs.UpdatedAt = now
		s.sets[rs.ID] = rs
		savedSets = append(savedSets, rs.Clone())
	}
	s.mu.Unlock()

	for _, r := range added {
		s.saveRule(r)
		s.publishRule(events.RuleAdded, r)
	}
	for _, r := range updated {
		s.saveRule(r)
		s.publishRule(events.RuleUpdated, r)
	}
	for _, rs := range savedSets {
		s.saveRuleSet(rs)
		s.bus.Publish(events.Event{Type: events.RuleSetAdded, RuleSetID: rs.ID})
	}
	s.log.Sugar().Infow("bundle imported",
		"imported", report.Imported, "skipped", report.Skipped, "errors", len(report.Errors))
}

// decodeRecord maps one generic record onto out using the json field names.
func decodeRecord(raw any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.DecodeHookFuncType(stringToPattern),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

var patternType = reflect.TypeOf(models.Pattern{})

// stringToPattern accepts a bare expression string as a regex pattern.
func stringToPattern(from, to reflect.Type, data any) (any, error) {
	if to != patternType || from.Kind() != reflect.String {
		return data, nil
	}
	return models.Pattern{Kind: models.PatternRegex, Expression: reflect.ValueOf(data).String()}, nil
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}
