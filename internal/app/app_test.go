package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hakim/seceval/internal/config"
	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "seceval.db")
	cfg.ResultsDir = "/results"
	return cfg
}

func open(t *testing.T, cfg *config.Config, fs afero.Fs) *App {
	t.Helper()
	a, err := New(cfg, Options{Fs: fs, Logger: zap.NewNop()})
	require.NoError(t, err)
	return a
}

func TestScanEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/web/app.js", []byte("const out = eval(req.query.q)\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/web/app.test.js", []byte("eval(fixture)\n"), 0o644))

	a := open(t, cfg, fs)
	defer a.Close()

	scan := a.ScanDefaults("/src")
	assert.Equal(t, models.ScanQuick, scan.Kind)
	assert.Contains(t, scan.Exclude, "node_modules")
	assert.Equal(t, models.SeverityMedium, scan.MinSeverity)
	assert.Equal(t, 4, scan.Concurrency)

	res, err := a.Engine.RunScan(context.Background(), scan, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Findings)
	for _, f := range res.Findings {
		assert.Equal(t, "web/app.js", f.FilePath, "test files are skipped by default")
	}

	rec, err := a.History.Get(res.ScanID)
	require.NoError(t, err)
	assert.Equal(t, "src", rec.ProjectName)
	exists, _ := afero.Exists(fs, rec.ResultPath)
	assert.True(t, exists)

	loaded, err := a.History.LoadResult(res.ScanID)
	require.NoError(t, err)
	assert.Equal(t, len(res.Findings), len(loaded.Findings))
}

func TestSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.MaxConcurrentScans = 4
	fs := afero.NewMemMapFs()

	a := open(t, cfg, fs)
	s := a.Settings()
	assert.Equal(t, 4, s.Scan.MaxConcurrentScans, "defaults follow the config")
	assert.Equal(t, 4, a.Engine.MaxConcurrentScans())

	s.Scan.MaxConcurrentScans = 11
	s.Scan.DefaultKind = "deep"
	err := a.SaveSettings(s)
	assert.ErrorIs(t, err, models.ErrValidation)

	s.Scan.MaxConcurrentScans = 6
	s.Scan.DefaultKind = models.ScanFull
	require.NoError(t, a.SaveSettings(s))
	assert.Equal(t, 6, a.Engine.MaxConcurrentScans())
	require.NoError(t, a.Close())

	reopened := open(t, cfg, fs)
	defer reopened.Close()
	assert.Equal(t, models.ScanFull, reopened.Settings().Scan.DefaultKind)
	assert.Equal(t, 6, reopened.Engine.MaxConcurrentScans())
}

func TestRulesPersistAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	fs := afero.NewMemMapFs()

	a := open(t, cfg, fs)
	_, err := a.Rules.AddRule(models.Rule{
		ID:        "CUSTOM-1",
		Name:      "Debug flag",
		Severity:  models.SeverityLow,
		Category:  "configuration",
		Languages: []string{"python"},
		Pattern:   models.Pattern{Kind: models.PatternRegex, Expression: `DEBUG\s*=\s*True`},
		Enabled:   true,
	})
	require.NoError(t, err)
	_, err = a.Rules.Toggle("SEC001", false)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b := open(t, cfg, fs)
	defer b.Close()
	r, err := b.Rules.GetRule("CUSTOM-1")
	require.NoError(t, err)
	assert.Equal(t, models.OriginCustom, r.Origin)
	builtin, err := b.Rules.GetRule("SEC001")
	require.NoError(t, err)
	assert.False(t, builtin.Enabled)
	assert.True(t, builtin.IsBuiltin())
}

func TestCustomRulesFollowSettings(t *testing.T) {
	cfg := testConfig(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/settings.py", []byte("DEBUG = True\n"), 0o644))

	a := open(t, cfg, fs)
	defer a.Close()
	_, err := a.Rules.AddRule(models.Rule{
		ID:        "CUSTOM-1",
		Name:      "Debug flag",
		Severity:  models.SeverityHigh,
		Category:  "configuration",
		Languages: []string{"python"},
		Pattern:   models.Pattern{Kind: models.PatternRegex, Expression: `DEBUG\s*=\s*True`},
		Enabled:   true,
	})
	require.NoError(t, err)

	scan := models.ScanConfig{TargetPath: "/src", Kind: models.ScanFull, RuleIDs: []string{"CUSTOM-1"}}
	res, err := a.Engine.RunScan(context.Background(), scan, nil)
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)

	s := a.Settings()
	s.Rules.EnableCustomRules = false
	require.NoError(t, a.SaveSettings(s))

	res, err = a.Engine.RunScan(context.Background(), scan, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}

func TestValidateSettings(t *testing.T) {
	assert.NoError(t, ValidateSettings(models.DefaultSettings()))

	s := models.DefaultSettings()
	s.Rules.DefaultSeverityFilter = []models.Severity{"urgent"}
	s.Scan.MaxDepth = -1
	err := ValidateSettings(s)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2)
}
