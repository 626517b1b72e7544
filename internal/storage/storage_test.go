package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "seceval.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRulesRoundTrip(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveRule(models.Rule{ID: "B", Name: "b"}))
	require.NoError(t, s.SaveRule(models.Rule{ID: "A", Name: "a", Languages: []string{"go"}}))
	require.NoError(t, s.SaveRuleSet(models.RuleSet{ID: "set", RuleIDs: []string{"A"}}))

	rules, err := s.LoadRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "B", rules[0].ID, "first saved comes first")
	assert.Equal(t, "A", rules[1].ID)
	assert.Equal(t, []string{"go"}, rules[1].Languages)

	require.NoError(t, s.SaveRule(models.Rule{ID: "B", Name: "b2"}))
	rules, err = s.LoadRules()
	require.NoError(t, err)
	assert.Equal(t, "B", rules[0].ID, "re-saving keeps the position")
	assert.Equal(t, "b2", rules[0].Name)

	require.NoError(t, s.DeleteRule("A"))
	require.NoError(t, s.DeleteRule("missing"))
	rules, err = s.LoadRules()
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	sets, err := s.LoadRuleSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.NoError(t, s.DeleteRuleSet("set"))
	sets, err = s.LoadRuleSets()
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestRulesMissingFromIndexFollow(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveRule(models.Rule{ID: "Z"}))
	require.NoError(t, s.put(bucketRules, "A", models.Rule{ID: "A"}))
	require.NoError(t, s.SaveRule(models.Rule{ID: "M"}))

	rules, err := s.LoadRules()
	require.NoError(t, err)
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"Z", "M", "A"}, ids)
}

func TestSettings(t *testing.T) {
	s := openStore(t)

	_, found, err := s.LoadSettings()
	require.NoError(t, err)
	assert.False(t, found)

	want := models.DefaultSettings()
	want.Scan.MaxConcurrentScans = 5
	require.NoError(t, s.SaveSettings(want))

	got, found, err := s.LoadSettings()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestHistoryOrder(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveHistory(models.HistoryRecord{ID: "one", StartedAt: base}, []string{"one"}))
	require.NoError(t, s.SaveHistory(models.HistoryRecord{ID: "two", StartedAt: base.Add(time.Hour)}, []string{"two", "one"}))
	require.NoError(t, s.SaveHistory(models.HistoryRecord{ID: "three", StartedAt: base.Add(2 * time.Hour)}, []string{"three", "two", "one"}))

	recs, err := s.LoadHistory()
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two", "one"}, historyIDs(recs))

	require.NoError(t, s.DeleteHistory([]string{"two"}, []string{"three", "one"}))
	recs, err = s.LoadHistory()
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "one"}, historyIDs(recs))
}

func TestHistoryOrphansAppended(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveHistory(models.HistoryRecord{ID: "old", StartedAt: base}, []string{"old"}))
	require.NoError(t, s.SaveHistory(models.HistoryRecord{ID: "new", StartedAt: base.Add(time.Hour)}, []string{"ghost"}))

	recs, err := s.LoadHistory()
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, historyIDs(recs))
}

func TestResults(t *testing.T) {
	s := openStore(t)

	_, err := s.GetResult("nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	res := &models.ScanResult{ScanID: "scan-1", ProjectPath: "/src/app", Findings: []models.Finding{{RuleID: "SEC001", FilePath: "a.js"}}}
	require.NoError(t, s.SaveResult(res))

	got, err := s.GetResult("scan-1")
	require.NoError(t, err)
	assert.Equal(t, "SEC001", got.Findings[0].RuleID)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records[bucketResults])
	assert.Positive(t, st.SizeBytes)

	require.NoError(t, s.DeleteResult("scan-1"))
	_, err = s.GetResult("scan-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestArtifacts(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewArtifacts(fs, "results")
	started := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	res := &models.ScanResult{ScanID: "0123456789", ProjectPath: "/work/my app", StartedAt: started}

	path, err := a.WriteResult(res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("results", "my_app_20240304_050607", "result.json"), path)

	second, err := a.WriteResult(res)
	require.NoError(t, err)
	assert.NotEqual(t, path, second)

	got, err := a.ReadResult(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", got.ScanID)

	require.NoError(t, a.Remove(path))
	exists, _ := afero.DirExists(fs, filepath.Dir(path))
	assert.False(t, exists)
	require.NoError(t, a.Remove(path))

	_, err = a.ReadResult(path)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func historyIDs(recs []models.HistoryRecord) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}
