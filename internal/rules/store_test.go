package rules

import (
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu    sync.Mutex
	order []string
	rules map[string]models.Rule
	sets  map[string]models.RuleSet
	fail  bool
}

func newMemPersister() *memPersister {
	return &memPersister{rules: map[string]models.Rule{}, sets: map[string]models.RuleSet{}}
}

func (m *memPersister) SaveRule(r models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	if _, ok := m.rules[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.rules[r.ID] = r
	return nil
}

func (m *memPersister) DeleteRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	m.order = slices.DeleteFunc(m.order, func(o string) bool { return o == id })
	return nil
}

func (m *memPersister) LoadRules() ([]models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Rule
	for _, id := range m.order {
		if r, ok := m.rules[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memPersister) SaveRuleSet(rs models.RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[rs.ID] = rs
	return nil
}

func (m *memPersister) DeleteRuleSet(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, id)
	return nil
}

func (m *memPersister) LoadRuleSets() ([]models.RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RuleSet
	for _, rs := range m.sets {
		out = append(out, rs)
	}
	return out, nil
}

func ruleIDs(rules []models.Rule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}

func customRule(id string) models.Rule {
	return models.Rule{
		ID:          id,
		Name:        "console logging of secrets",
		Description: "secret passed to console.log",
		Severity:    models.SeverityLow,
		Category:    "credentials",
		Languages:   []string{"javascript"},
		Pattern:     models.Pattern{Kind: models.PatternRegex, Expression: `console\.log\(.*secret`},
		Enabled:     true,
		Tags:        []string{"logging"},
	}
}

func TestBuiltinCatalogueCompiles(t *testing.T) {
	s := NewStore(Options{})
	rules := s.ListRules()
	require.Len(t, rules, 10)
	assert.Equal(t, "SEC001", rules[0].ID)
	assert.Equal(t, "SEC010", rules[9].ID)
	for _, r := range rules {
		assert.True(t, r.IsBuiltin(), r.ID)
		assert.NoError(t, ValidateRule(r), r.ID)
	}
	assert.Len(t, s.ListRuleSets(), 4)
	assert.Len(t, s.ListCategories(), 10)
}

func TestBuiltinPatterns(t *testing.T) {
	s := NewStore(Options{})
	tests := []struct {
		id    string
		line  string
		match bool
	}{
		{"SEC001", `query = "SELECT * FROM users WHERE id = " + userId`, true},
		{"SEC001", `db.query("SELECT * FROM users WHERE id = ?", [id])`, false},
		{"SEC002", `el.innerHTML = "<b>" + name`, true},
		{"SEC003", `const password = "hunter2hunter2"`, true},
		{"SEC004", `const t = Math.random()`, true},
		{"SEC005", `eval(userInput)`, true},
		{"SEC005", `medieval(x)`, false},
		{"SEC009", `<form method="post" action="/transfer">`, true},
		{"SEC009", `<form method="post"><input name="csrf_token">`, false},
		{"SEC010", `location = "/page?sessionid=" + sid`, true},
	}
	for _, tt := range tests {
		t.Run(tt.id+"_"+tt.line, func(t *testing.T) {
			active := s.ActiveRules("", []string{tt.id})
			require.Len(t, active, 1)
			_, _, ok := active[0].Expr.MatchLine(tt.line)
			assert.Equal(t, tt.match, ok)
		})
	}
}

func TestAddRule(t *testing.T) {
	bus := events.NewBus(nil)
	sub := bus.Subscribe(4, events.RuleAdded)
	defer sub.Close()
	p := newMemPersister()
	s := NewStore(Options{Bus: bus, Persister: p})

	r := customRule("CUSTOM-1")
	r.Origin = models.OriginBuiltin
	added, err := s.AddRule(r)
	require.NoError(t, err)
	assert.Equal(t, models.OriginCustom, added.Origin)
	assert.Contains(t, p.rules, "CUSTOM-1")

	ev := <-sub.C
	assert.Equal(t, "CUSTOM-1", ev.RuleID)

	_, err = s.AddRule(customRule("CUSTOM-1"))
	assert.ErrorIs(t, err, models.ErrDuplicateKey)
	_, err = s.AddRule(customRule("SEC001"))
	assert.ErrorIs(t, err, models.ErrDuplicateKey)
}

func TestAddRuleValidation(t *testing.T) {
	s := NewStore(Options{})

	_, err := s.AddRule(models.Rule{ID: "X"})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, verr.Problems, 6)

	bad := customRule("BAD")
	bad.Pattern.Expression = "(["
	_, err = s.AddRule(bad)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateRule(t *testing.T) {
	s := NewStore(Options{})

	sev := models.SeverityLow
	expr := models.Pattern{Kind: models.PatternRegex, Expression: `Math\.random`}
	updated, err := s.UpdateRule("SEC004", models.RulePatch{Severity: &sev, Pattern: &expr})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityLow, updated.Severity)
	assert.True(t, updated.IsBuiltin())

	active := s.ActiveRules("javascript", []string{"SEC004"})
	require.Len(t, active, 1)
	_, _, ok := active[0].Expr.MatchLine("Math.random")
	assert.True(t, ok, "pattern must be recompiled")

	_, err = s.UpdateRule("NOPE", models.RulePatch{Severity: &sev})
	assert.ErrorIs(t, err, models.ErrNotFound)

	empty := ""
	_, err = s.UpdateRule("SEC004", models.RulePatch{Name: &empty})
	assert.ErrorIs(t, err, models.ErrValidation)
	got, _ := s.GetRule("SEC004")
	assert.NotEmpty(t, got.Name, "failed update must not change the rule")
}

func TestDeleteRuleScrubsRuleSets(t *testing.T) {
	s := NewStore(Options{})
	_, err := s.AddRule(customRule("CUSTOM-1"))
	require.NoError(t, err)
	_, err = s.AddRuleSet(models.RuleSet{ID: "mine", Name: "Mine", RuleIDs: []string{"SEC001", "CUSTOM-1", "GHOST"}})
	require.NoError(t, err)
	_, err = s.UpdateRuleSet("owasp-top10", RuleSetPatch{RuleIDs: []string{"SEC001", "CUSTOM-1"}})
	require.NoError(t, err)

	mine, _ := s.GetRuleSet("mine")
	assert.Equal(t, []string{"SEC001", "CUSTOM-1"}, mine.RuleIDs, "unknown ids are dropped")

	require.NoError(t, s.DeleteRule("CUSTOM-1"))
	for _, rs := range s.ListRuleSets() {
		assert.NotContains(t, rs.RuleIDs, "CUSTOM-1", rs.ID)
	}

	assert.ErrorIs(t, s.DeleteRule("CUSTOM-1"), models.ErrNotFound)
	assert.ErrorIs(t, s.DeleteRule("SEC001"), models.ErrProtected)
}

func TestSearch(t *testing.T) {
	s := NewStore(Options{})
	_, err := s.AddRule(customRule("CUSTOM-1"))
	require.NoError(t, err)
	_, err = s.Toggle("SEC002", false)
	require.NoError(t, err)

	enabled := true
	disabled := false
	tests := []struct {
		name string
		c    Criteria
		want []string
	}{
		{"keyword_in_tags", Criteria{Keyword: "SQL"}, []string{"SEC001"}},
		{"severity", Criteria{Severities: []models.Severity{models.SeverityCritical}}, []string{"SEC001", "SEC005"}},
		{"category_and_language", Criteria{Categories: []string{"injection"}, Languages: []string{"python"}}, []string{"SEC001"}},
		{"disabled", Criteria{Enabled: &disabled}, []string{"SEC002"}},
		{"custom_origin", Criteria{Origin: models.OriginCustom}, []string{"CUSTOM-1"}},
		{"tags", Criteria{Tags: []string{"logging", "eval"}}, []string{"SEC005", "CUSTOM-1"}},
		{"anded", Criteria{Languages: []string{"html"}, Enabled: &enabled, Severities: []models.Severity{models.SeverityHigh}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range s.Search(tt.c) {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBatchUpdateSkipsUnknown(t *testing.T) {
	s := NewStore(Options{})
	off := false
	n := s.BatchUpdate([]string{"SEC001", "NOPE", "SEC002"}, models.RulePatch{Enabled: &off})
	assert.Equal(t, 2, n)

	st := s.Statistics()
	assert.Equal(t, 10, st.Total)
	assert.Equal(t, 8, st.Enabled)
	assert.Equal(t, 2, st.Disabled)
	assert.Equal(t, 10, st.Builtin)
	assert.Equal(t, 0, st.Custom)
	assert.Equal(t, 2, st.BySeverity[models.SeverityCritical])
	assert.Equal(t, 0, st.BySeverity[models.SeverityInfo])
	assert.Equal(t, 2, st.ByCategory["injection"])
	assert.Equal(t, 10, st.ByLanguage["javascript"])
}

func TestActiveRules(t *testing.T) {
	s := NewStore(Options{})
	_, err := s.Toggle("SEC004", false)
	require.NoError(t, err)

	var ids []string
	for _, r := range s.ActiveRules("python", nil) {
		ids = append(ids, r.Def.ID)
	}
	assert.Equal(t, []string{"SEC001", "SEC003", "SEC006", "SEC007"}, ids)

	ids = nil
	for _, r := range s.ActiveRules("python", []string{"SEC005", "SEC004", "NOPE"}) {
		ids = append(ids, r.Def.ID)
	}
	assert.Equal(t, []string{"SEC005"}, ids, "allow list ignores language but honours enabled")
}

func TestRuleSetRules(t *testing.T) {
	s := NewStore(Options{})
	rules, err := s.RuleSetRules("crypto-security")
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = s.RuleSetRules("nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.DeleteRuleSet("crypto-security"))
	assert.ErrorIs(t, s.DeleteRuleSet("crypto-security"), models.ErrNotFound)
	_, err = s.GetRule("SEC004")
	assert.NoError(t, err, "deleting a rule set keeps its rules")
}

func TestCategories(t *testing.T) {
	s := NewStore(Options{})
	require.NoError(t, s.AddCategory(models.Category{ID: "logging", Name: "Logging"}))
	assert.ErrorIs(t, s.AddCategory(models.Category{ID: "xss"}), models.ErrDuplicateKey)
	c, err := s.GetCategory("logging")
	require.NoError(t, err)
	assert.Equal(t, "Logging", c.Name)
	assert.Len(t, s.ListCategories(), 11)
}

func TestLoadMergesPersisted(t *testing.T) {
	p := newMemPersister()
	first := NewStore(Options{Persister: p})
	_, err := first.AddRule(customRule("CUSTOM-1"))
	require.NoError(t, err)
	_, err = first.Toggle("SEC001", false)
	require.NoError(t, err)

	p.rules["BROKEN"] = models.Rule{ID: "BROKEN"}

	second := NewStore(Options{Persister: p})
	require.NoError(t, second.Load())

	r, err := second.GetRule("SEC001")
	require.NoError(t, err)
	assert.False(t, r.Enabled)
	assert.True(t, r.IsBuiltin())

	c, err := second.GetRule("CUSTOM-1")
	require.NoError(t, err)
	assert.Equal(t, models.OriginCustom, c.Origin)

	_, err = second.GetRule("BROKEN")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLoadKeepsInsertionOrder(t *testing.T) {
	db, err := storage.NewStore(filepath.Join(t.TempDir(), "seceval.db"))
	require.NoError(t, err)
	defer db.Close()

	first := NewStore(Options{Persister: db})
	require.NoError(t, first.Load())
	for _, id := range []string{"ZZZ-1", "AAA-1", "MMM-1"} {
		_, err := first.AddRule(customRule(id))
		require.NoError(t, err)
	}
	custom := Criteria{Origin: models.OriginCustom}
	want := ruleIDs(first.Search(custom))
	require.Equal(t, []string{"ZZZ-1", "AAA-1", "MMM-1"}, want)

	second := NewStore(Options{Persister: db})
	require.NoError(t, second.Load())
	assert.Equal(t, want, ruleIDs(second.Search(custom)))

	require.NoError(t, second.DeleteRule("AAA-1"))
	_, err = second.AddRule(customRule("AAA-1"))
	require.NoError(t, err)

	third := NewStore(Options{Persister: db})
	require.NoError(t, third.Load())
	assert.Equal(t, []string{"ZZZ-1", "MMM-1", "AAA-1"}, ruleIDs(third.Search(custom)))
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	p := newMemPersister()
	p.fail = true
	s := NewStore(Options{Persister: p})
	_, err := s.AddRule(customRule("CUSTOM-1"))
	assert.NoError(t, err)
	_, err = s.GetRule("CUSTOM-1")
	assert.NoError(t, err)
}

func TestReset(t *testing.T) {
	s := NewStore(Options{})
	_, err := s.AddRule(customRule("CUSTOM-1"))
	require.NoError(t, err)
	_, err = s.Toggle("SEC001", false)
	require.NoError(t, err)

	s.Reset()

	_, err = s.GetRule("CUSTOM-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	r, _ := s.GetRule("SEC001")
	assert.True(t, r.Enabled)
}

func TestExportImportRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	src := NewStore(Options{Now: func() time.Time { return now }})
	_, err := src.AddRule(customRule("CUSTOM-1"))
	require.NoError(t, err)

	b := src.ExportRules([]string{"CUSTOM-1", "SEC001", "NOPE"}, true)
	assert.Equal(t, CatalogueVersion, b.Version)
	assert.Equal(t, now, b.ExportedAt)
	require.Len(t, b.Rules, 2)
	assert.Len(t, b.RuleSets, 4)

	dst := NewStore(Options{})
	report := dst.ImportRules(b, false)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Errors)

	report = dst.ImportRules(b, true)
	assert.Equal(t, 2, report.Imported)
	r, _ := dst.GetRule("SEC001")
	assert.True(t, r.IsBuiltin(), "overwrite keeps built-in origin")
}

func TestImportBundlePerRecordErrors(t *testing.T) {
	doc := []byte(`
version: "1.0.0"
categories:
  - id: logging
    name: Logging
rules:
  - id: LOG-1
    name: Secret in log
    description: secret passed to a logger
    severity: medium
    category: logging
    languages: [javascript, python]
    pattern: 'log.*secret'
    risk_score: 4
  - id: LOG-2
    name: Missing severity
    description: no severity
    category: logging
    languages: [javascript]
    pattern:
      kind: ast
      expression: "logger . debug ("
  - "not a mapping"
  - id: SEC001
    name: dup
    description: dup
    severity: low
    category: injection
    languages: [go]
    pattern: x
rule_sets:
  - id: logs
    name: Logs
    rule_ids: [LOG-1, LOG-2, SEC005]
`)
	s := NewStore(Options{})
	report, err := s.ImportBundle(doc, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.Errors, 2)

	r, err := s.GetRule("LOG-1")
	require.NoError(t, err)
	assert.Equal(t, models.PatternRegex, r.Pattern.Kind)
	assert.Equal(t, 4.0, r.RiskScore)
	assert.True(t, r.Enabled)
	assert.Equal(t, models.OriginCustom, r.Origin)

	rs, err := s.GetRuleSet("logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"LOG-1", "SEC005"}, rs.RuleIDs)

	_, err = s.GetCategory("logging")
	assert.NoError(t, err)

	_, err = s.ImportBundle([]byte("rules: [\n"), false)
	assert.Error(t, err)
}

func TestConcurrentReadsAndToggles(t *testing.T) {
	s := NewStore(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Toggle("SEC004", (i+j)%2 == 0)
				_ = s.ActiveRules("javascript", nil)
				_ = s.Search(Criteria{Keyword: "random"})
			}
		}(i)
	}
	wg.Wait()
	assert.True(t, slices.ContainsFunc(s.ListRules(), func(r models.Rule) bool { return r.ID == "SEC004" }))
}
