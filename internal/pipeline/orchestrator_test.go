package pipeline

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/matcher"
	"github.com/hakim/seceval/internal/models"
	"github.com/hakim/seceval/internal/rules"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRules serves a fixed rule list, filtered the way the store filters.
type fakeRules struct {
	rules []matcher.CompiledRule
}

func (f *fakeRules) ActiveRules(lang string, allow []string) []matcher.CompiledRule {
	var out []matcher.CompiledRule
	for _, r := range f.rules {
		if len(allow) > 0 {
			for _, id := range allow {
				if id == r.Def.ID {
					out = append(out, r)
				}
			}
			continue
		}
		if r.Def.AppliesTo(lang) {
			out = append(out, r)
		}
	}
	return out
}

func rule(id string, sev models.Severity, expr string, langs ...string) matcher.CompiledRule {
	def := models.Rule{
		ID:        id,
		Name:      id,
		Severity:  sev,
		Category:  "injection",
		Languages: langs,
		Pattern:   models.Pattern{Kind: models.PatternRegex, Expression: expr},
		Enabled:   true,
	}
	return matcher.CompiledRule{Def: def, Expr: matcher.MustCompile(def.Pattern)}
}

type memSink struct {
	mu      sync.Mutex
	results map[string]*models.ScanResult
}

func (m *memSink) SaveResult(res *models.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[string]*models.ScanResult)
	}
	m.results[res.ScanID] = res
	return nil
}

func (m *memSink) get(id string) (*models.ScanResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	return r, ok
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// gateFs blocks Stat calls until release is closed.
type gateFs struct {
	afero.Fs
	release chan struct{}
}

func (g *gateFs) Stat(name string) (os.FileInfo, error) {
	<-g.release
	return g.Fs.Stat(name)
}

// openGate blocks opening files whose name ends in suffix, signalling
// reached the first time it happens.
type openGate struct {
	afero.Fs
	suffix  string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *openGate) Open(name string) (afero.File, error) {
	if strings.HasSuffix(name, g.suffix) {
		g.once.Do(func() { close(g.reached) })
		<-g.release
	}
	return g.Fs.Open(name)
}

// brokenFile fails to open files whose name ends in suffix.
type brokenFile struct {
	afero.Fs
	suffix string
}

func (b *brokenFile) Open(name string) (afero.File, error) {
	if strings.HasSuffix(name, b.suffix) {
		return nil, os.ErrPermission
	}
	return b.Fs.Open(name)
}

func project(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, "/proj/"+name, []byte(content), 0o644))
	}
	return fs
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Rules == nil {
		opts.Rules = &fakeRules{rules: []matcher.CompiledRule{rule("R1", models.SeverityCritical, `eval\(`, "javascript")}}
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(nil)
	}
	e, err := NewEngine(opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func threeFiles(t *testing.T) afero.Fs {
	return project(t, map[string]string{
		"file1.js": "console.log('hello')\n",
		"file2.js": "const a = 1\neval(userInput)\n",
		"file3.js": "export default {}\n",
	})
}

func TestSingleMatchingFile(t *testing.T) {
	sink := &memSink{}
	e := newEngine(t, Options{Fs: threeFiles(t), Sink: sink})

	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj", Kind: models.ScanFull}, nil)
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, "file2.js", f.FilePath)
	assert.Equal(t, models.SeverityCritical, f.Severity)
	assert.Equal(t, 2, f.StartLine)
	assert.Equal(t, 2, f.EndLine)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Statistics.TotalFiles)
	assert.Equal(t, 3, res.Statistics.ScannedFiles)
	assert.Equal(t, 1, res.Statistics.BySeverity[models.SeverityCritical])
	assert.Equal(t, 0, res.Statistics.BySeverity[models.SeverityLow])
	assert.Equal(t, 1, res.Statistics.ByCategory["injection"])
	assert.Equal(t, 1, res.Statistics.ByLanguage["javascript"])
	assert.Positive(t, res.Resources.Goroutines)

	stored, ok := sink.get(res.ScanID)
	require.True(t, ok)
	assert.Same(t, res, stored)

	_, live := e.GetProgress(res.ScanID)
	assert.False(t, live, "terminal sessions are discarded")
}

func TestAdmissionCeiling(t *testing.T) {
	gate := &gateFs{Fs: threeFiles(t), release: make(chan struct{})}
	e := newEngine(t, Options{Fs: gate, MaxConcurrentScans: 3})
	released := false
	t.Cleanup(func() {
		if !released {
			close(gate.release)
		}
	})

	cfg := models.ScanConfig{TargetPath: "/proj"}
	for i := 0; i < 3; i++ {
		_, err := e.StartScan(cfg)
		require.NoError(t, err)
	}
	_, err := e.StartScan(cfg)
	assert.ErrorIs(t, err, models.ErrConcurrencyLimitExceeded)
	assert.Len(t, e.ListActiveSessions(), 3)

	close(gate.release)
	released = true
	e.Wait()

	assert.Empty(t, e.ListActiveSessions())
	_, err = e.StartScan(cfg)
	assert.NoError(t, err, "a slot frees once a session terminates")
}

func TestCancelCompletedSession(t *testing.T) {
	sink := &memSink{}
	e := newEngine(t, Options{Fs: threeFiles(t), Sink: sink})

	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj"}, nil)
	require.NoError(t, err)

	assert.False(t, e.CancelScan(res.ScanID))
	stored, ok := sink.get(res.ScanID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Len(t, stored.Findings, 1)
	assert.False(t, e.CancelScan("no-such-session"))
}

func TestProgressIsMonotonic(t *testing.T) {
	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		files[n+".js"] = "eval(" + n + ")\n"
	}
	e := newEngine(t, Options{Fs: project(t, files)})

	var seen []models.ScanSession
	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj"}, func(s models.ScanSession) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	require.Len(t, seen, 5)

	for i, s := range seen {
		assert.Equal(t, i+1, s.Progress.ProcessedFiles)
		assert.Equal(t, 5, s.Progress.TotalFiles)
		assert.True(t, s.Progress.HasEstimate)
		assert.Equal(t, i+1, s.Progress.FindingsCount)
		if i > 0 {
			assert.GreaterOrEqual(t, s.Progress.Percent, seen[i-1].Progress.Percent)
		}
	}
	assert.Equal(t, 20, seen[0].Progress.Percent)
	assert.Equal(t, 100, seen[4].Progress.Percent)
	assert.Zero(t, seen[4].Progress.EstimatedRemaining)
	assert.Len(t, res.Findings, 5)
}

func TestCancelRunningSession(t *testing.T) {
	gate := &openGate{
		Fs:      threeFiles(t),
		suffix:  "file2.js",
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	sink := &memSink{}
	bus := events.NewBus(nil)
	e := newEngine(t, Options{Fs: gate, Sink: sink, Bus: bus})

	sub := bus.Subscribe(16, events.ScanCancelled, events.ScanCompleted)
	defer sub.Close()

	id, err := e.StartScan(models.ScanConfig{TargetPath: "/proj"})
	require.NoError(t, err)
	<-gate.reached

	assert.True(t, e.CancelScan(id))
	assert.False(t, e.CancelScan(id), "already cancelling")
	close(gate.release)

	ev := <-sub.C
	assert.Equal(t, events.ScanCancelled, ev.Type)
	assert.Equal(t, id, ev.SessionID)
	require.NotNil(t, ev.Session)
	assert.Equal(t, models.StatusCancelled, ev.Session.Status)
	assert.NotNil(t, ev.Session.EndedAt)
	assert.Nil(t, ev.Result)

	e.Wait()
	assert.Zero(t, sink.len(), "cancelled sessions leave no result")
}

func TestTimeoutCancels(t *testing.T) {
	gate := &openGate{
		Fs:      threeFiles(t),
		suffix:  "file1.js",
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newEngine(t, Options{Fs: gate})

	go func() {
		<-gate.reached
		time.Sleep(100 * time.Millisecond)
		close(gate.release)
	}()

	_, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj", Timeout: 20 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDiscoveryFailure(t *testing.T) {
	sink := &memSink{}
	bus := events.NewBus(nil)
	e := newEngine(t, Options{Fs: afero.NewMemMapFs(), Sink: sink, Bus: bus})

	sub := bus.Subscribe(4, events.ScanFailed)
	defer sub.Close()

	_, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/missing"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.ErrDiscoveryFailure.Error())

	ev := <-sub.C
	assert.Equal(t, models.StatusFailed, ev.Session.Status)
	assert.Zero(t, sink.len())
}

func TestMatchingErrorsBecomeWarnings(t *testing.T) {
	broken := rule("BROKEN", models.SeverityHigh, `x`, "javascript")
	broken.Expr = &matcher.Compiled{} // panics on use
	missing := rule("NOEXPR", models.SeverityHigh, `x`, "javascript")
	missing.Expr = nil

	src := &fakeRules{rules: []matcher.CompiledRule{
		rule("R1", models.SeverityCritical, `eval\(`, "javascript"),
		broken,
		missing,
	}}
	e := newEngine(t, Options{Fs: threeFiles(t), Rules: src})

	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj"}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)
	assert.Len(t, res.Warnings, 6, "two failing rules on each of three files")
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "panicked")
}

func TestUnreadableFilesBecomeErrors(t *testing.T) {
	e := newEngine(t, Options{Fs: &brokenFile{Fs: threeFiles(t), suffix: "file3.js"}})

	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Len(t, res.Findings, 1)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "file3.js: reading file")
	assert.Equal(t, 2, res.Statistics.ScannedFiles)
	assert.Equal(t, 1, res.Statistics.SkippedFiles)

	rec := models.NewHistoryRecord(res, "")
	assert.Equal(t, res.Errors[0], rec.ErrorMessage)
}

func TestCancelWhilePendingIsRetried(t *testing.T) {
	bus := events.NewBus(nil)
	e := newEngine(t, Options{Fs: afero.NewMemMapFs(), Bus: bus})

	sessCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := models.NewSession(models.ScanConfig{TargetPath: "/proj"})
	s := &session{rec: *rec, cancel: cancel}
	e.mu.Lock()
	e.sessions[rec.ID] = s
	e.mu.Unlock()

	sub := bus.Subscribe(8, events.ScanTypes()...)
	defer sub.Close()
	ctx, stop := context.WithCancel(context.Background())
	stop()

	errc := make(chan error, 1)
	go func() {
		_, err := e.await(ctx, rec.ID, sub, nil)
		errc <- err
	}()

	// The loop sees the cancelled context while the session is still pending.
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, sessCtx.Err(), "a pending session cannot be cancelled yet")

	snap := e.update(s, func(r *models.ScanSession) { r.Status = models.StatusRunning })
	bus.Publish(events.Event{Type: events.ScanStarted, SessionID: rec.ID, Session: &snap})

	select {
	case <-sessCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel was not retried once the session started")
	}

	final := e.finish(s, models.StatusCancelled, "scan cancelled", time.Now())
	bus.Publish(events.Event{Type: events.ScanCancelled, SessionID: rec.ID, Session: &final, Message: final.Error})
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestRuleSelection(t *testing.T) {
	src := &fakeRules{rules: []matcher.CompiledRule{
		rule("CRIT", models.SeverityCritical, `eval\(`, "javascript"),
		rule("LOW", models.SeverityLow, `const`, "javascript"),
		rule("PY", models.SeverityHigh, `eval\(`, "python"),
	}}
	fs := project(t, map[string]string{
		"app.js":            "const x = eval(y)\n",
		"tool.py":           "eval(z)\n",
		"deep/a/b/c/d/x.js": "eval(q)\n",
	})
	e := newEngine(t, Options{Fs: fs, Rules: src})

	tests := []struct {
		name string
		cfg  models.ScanConfig
		want []string
	}{
		{"full", models.ScanConfig{Kind: models.ScanFull}, []string{"app.js:CRIT", "app.js:LOW", "deep/a/b/c/d/x.js:CRIT", "tool.py:PY"}},
		{"quick_drops_low_and_deep", models.ScanConfig{Kind: models.ScanQuick}, []string{"app.js:CRIT", "tool.py:PY"}},
		{"allowlist", models.ScanConfig{RuleIDs: []string{"LOW"}}, []string{"app.js:LOW"}},
		{"min_severity", models.ScanConfig{MinSeverity: models.SeverityHigh, Exclude: []string{"deep"}}, []string{"app.js:CRIT", "tool.py:PY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.TargetPath = "/proj"
			res, err := e.RunScan(context.Background(), tt.cfg, nil)
			require.NoError(t, err)
			var got []string
			for _, f := range res.Findings {
				got = append(got, f.FilePath+":"+f.RuleID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithRuleStore(t *testing.T) {
	store := rules.NewStore(rules.Options{})
	fs := project(t, map[string]string{
		"server.js": "const key = Math.random()\nres.send(eval(req.body))\n",
	})
	e := newEngine(t, Options{Fs: fs, Rules: store})

	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/proj"}, nil)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, f := range res.Findings {
		ids[f.RuleID] = true
	}
	assert.True(t, ids["SEC005"], "eval is flagged by the built-in catalogue")
}

func TestStartScanValidation(t *testing.T) {
	e := newEngine(t, Options{Fs: afero.NewMemMapFs(), Scope: &ScopeConfig{AllowedRoots: []string{"/proj"}}})

	_, err := e.StartScan(models.ScanConfig{})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.StartScan(models.ScanConfig{TargetPath: "/proj", Kind: "deep"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.StartScan(models.ScanConfig{TargetPath: "/proj", MinSeverity: "severe"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.StartScan(models.ScanConfig{TargetPath: "/etc"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSetMaxConcurrentScans(t *testing.T) {
	e := newEngine(t, Options{Fs: afero.NewMemMapFs()})
	assert.Equal(t, DefaultMaxConcurrentScans, e.MaxConcurrentScans())

	tests := []struct{ in, want int }{{0, 1}, {-4, 1}, {5, 5}, {10, 10}, {11, 10}}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.SetMaxConcurrentScans(tt.in))
		assert.Equal(t, tt.want, e.MaxConcurrentScans())
	}
}

func TestEmptyProject(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/empty", 0o755))
	e := newEngine(t, Options{Fs: fs})

	res, err := e.RunScan(context.Background(), models.ScanConfig{TargetPath: "/empty"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.NotNil(t, res.Findings)
	assert.Zero(t, res.Statistics.ScannedFiles)
}

func TestCloseRefusesNewScans(t *testing.T) {
	e, err := NewEngine(Options{Rules: &fakeRules{}, Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	e.Close()
	_, err = e.StartScan(models.ScanConfig{TargetPath: "/proj"})
	assert.Error(t, err)

	_, err = NewEngine(Options{})
	assert.Error(t, err)
}
