package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestApplyPreset(t *testing.T) {
	tests := []struct {
		name      string
		cfg       models.ScanConfig
		wantKind  models.ScanKind
		wantDepth int
		wantSev   models.Severity
	}{
		{"empty kind is custom", models.ScanConfig{MaxDepth: 7, MinSeverity: models.SeverityLow}, models.ScanCustom, 7, models.SeverityLow},
		{"quick caps depth", models.ScanConfig{Kind: models.ScanQuick, MaxDepth: 10}, models.ScanQuick, 3, models.SeverityHigh},
		{"quick keeps shallower depth", models.ScanConfig{Kind: models.ScanQuick, MaxDepth: 2}, models.ScanQuick, 2, models.SeverityHigh},
		{"quick keeps stricter severity", models.ScanConfig{Kind: models.ScanQuick, MinSeverity: models.SeverityCritical}, models.ScanQuick, 3, models.SeverityCritical},
		{"full clears limits", models.ScanConfig{Kind: models.ScanFull, MaxDepth: 2, MinSeverity: models.SeverityHigh}, models.ScanFull, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyPreset(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantDepth, got.MaxDepth)
			assert.Equal(t, tt.wantSev, got.MinSeverity)
		})
	}

	_, err := ApplyPreset(models.ScanConfig{Kind: "deep"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBuiltinPresetsIsACopy(t *testing.T) {
	p := BuiltinPresets()
	require.Len(t, p, 3)
	delete(p, models.ScanQuick)
	_, err := GetPreset(models.ScanQuick)
	assert.NoError(t, err)
}

func TestScopeValidateTarget(t *testing.T) {
	root := t.TempDir()
	repos := filepath.Join(root, "repos")

	var nilScope *ScopeConfig
	assert.NoError(t, nilScope.ValidateTarget("/anywhere"))
	assert.NoError(t, (&ScopeConfig{}).ValidateTarget("/anywhere"))

	exact := &ScopeConfig{AllowedRoots: []string{repos}}
	assert.NoError(t, exact.ValidateTarget(repos))
	assert.NoError(t, exact.ValidateTarget(filepath.Join(repos, "app", "web")))
	assert.Error(t, exact.ValidateTarget(repos+"-old"))
	assert.Error(t, exact.ValidateTarget(filepath.Join(repos, "..", "etc")))

	children := &ScopeConfig{AllowedRoots: []string{filepath.Join(repos, "*")}}
	assert.NoError(t, children.ValidateTarget(filepath.Join(repos, "app")))
	assert.Error(t, children.ValidateTarget(repos))
}

func TestSendCompletion(t *testing.T) {
	got := make(chan completionPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p completionPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			got <- p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := &models.ScanResult{
		ScanID:      "scan-1",
		ProjectPath: "/src/app",
		Status:      models.StatusCompleted,
		Duration:    1500 * time.Millisecond,
		Findings:    []models.Finding{{RuleID: "SEC001"}},
		Statistics:  models.NewStatistics(),
	}
	res.Statistics.BySeverity[models.SeverityCritical] = 1

	n := &NotifyConfig{WebhookURL: srv.URL}
	require.NoError(t, n.SendCompletion(res))
	p := <-got
	assert.Equal(t, "scan-1", p.ScanID)
	assert.Equal(t, 1, p.FindingCount)
	assert.Equal(t, 1.5, p.ElapsedSeconds)
	assert.Equal(t, 1, p.SeverityCounts[models.SeverityCritical])

	assert.NoError(t, (&NotifyConfig{}).SendCompletion(res), "no URL is a no-op")
}

func TestSendCompletionNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := (&NotifyConfig{WebhookURL: srv.URL}).SendCompletion(&models.ScanResult{ScanID: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestAttachPostsCompletedScans(t *testing.T) {
	hits := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p completionPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		hits <- p.ScanID
	}))
	defer srv.Close()

	bus := events.NewBus(zap.NewNop())
	stop := (&NotifyConfig{WebhookURL: srv.URL}).Attach(bus, nil)
	defer stop()

	bus.Publish(events.Event{Type: events.ScanFailed, SessionID: "failed"})
	bus.Publish(events.Event{Type: events.ScanCompleted, SessionID: "done", Result: &models.ScanResult{ScanID: "done"}})

	select {
	case id := <-hits:
		assert.Equal(t, "done", id)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
}
