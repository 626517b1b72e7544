// Package pipeline runs scan sessions: discovery, per-file matching,
// aggregation and the lifecycle events around them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hakim/seceval/internal/discovery"
	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/matcher"
	"github.com/hakim/seceval/internal/models"
	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	DefaultMaxConcurrentScans = 3
	MinConcurrentScans        = 1
	MaxConcurrentScansLimit   = 10

	// DefaultTimeout bounds a session whose config sets no timeout.
	DefaultTimeout = 30 * time.Minute
)

// RuleSource is the minimal rule store contract required by the engine.
type RuleSource interface {
	ActiveRules(lang string, allow []string) []matcher.CompiledRule
}

// ResultSink receives every completed scan result.
type ResultSink interface {
	SaveResult(res *models.ScanResult) error
}

// Options configures an Engine. Rules is required; everything else has a
// usable default.
type Options struct {
	Rules   RuleSource
	Fs      afero.Fs
	Matcher *matcher.Matcher
	Bus     *events.Bus
	Sink    ResultSink
	Scope   *ScopeConfig

	MaxConcurrentScans int
	DefaultTimeout     time.Duration
	// MaxFileSizeMB applies when a scan config leaves its own cap at zero.
	MaxFileSizeMB int64

	Logger *zap.Logger
	Now    func() time.Time
}

type session struct {
	rec             models.ScanSession
	cancel          context.CancelFunc
	cancelRequested bool
}

// Engine owns the in-flight scan sessions. A session stays in the engine
// from StartScan until it reaches a terminal state.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*session
	max      int
	closed   bool

	rules          RuleSource
	fs             afero.Fs
	matcher        *matcher.Matcher
	bus            *events.Bus
	sink           ResultSink
	scope          *ScopeConfig
	defaultTimeout time.Duration
	maxFileSizeMB  int64
	log            *zap.Logger
	now            func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an engine with no sessions.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Rules == nil {
		return nil, fmt.Errorf("pipeline: rule source must not be nil")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Matcher == nil {
		opts.Matcher = matcher.New(matcher.Options{})
	}
	if opts.MaxConcurrentScans == 0 {
		opts.MaxConcurrentScans = DefaultMaxConcurrentScans
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		sessions:       make(map[string]*session),
		max:            clampScans(opts.MaxConcurrentScans),
		rules:          opts.Rules,
		fs:             opts.Fs,
		matcher:        opts.Matcher,
		bus:            opts.Bus,
		sink:           opts.Sink,
		scope:          opts.Scope,
		defaultTimeout: opts.DefaultTimeout,
		maxFileSizeMB:  opts.MaxFileSizeMB,
		log:            opts.Logger.Named("engine"),
		now:            opts.Now,
		baseCtx:        ctx,
		stop:           stop,
	}, nil
}

// StartScan admits a new session and runs it in the background. It returns
// the session id, a ValidationError for an unusable config, or
// ErrConcurrencyLimitExceeded when the ceiling is reached.
func (e *Engine) StartScan(cfg models.ScanConfig) (string, error) {
	cfg, err := e.prepare(cfg)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("pipeline: engine is closed")
	}
	if len(e.sessions) >= e.max {
		n := len(e.sessions)
		e.mu.Unlock()
		return "", fmt.Errorf("pipeline: %d of %d scans in flight: %w", n, e.max, models.ErrConcurrencyLimitExceeded)
	}

	rec := models.NewSession(cfg)
	rec.StartedAt = e.now()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(e.baseCtx, timeout)
	s := &session{rec: *rec, cancel: cancel}
	e.sessions[rec.ID] = s
	e.wg.Add(1)
	e.mu.Unlock()

	e.log.Info("scan admitted",
		zap.String("scan_id", rec.ID),
		zap.String("target", cfg.TargetPath),
		zap.String("kind", string(cfg.Kind)))

	go e.run(ctx, s)
	return rec.ID, nil
}

// prepare validates cfg and applies its preset and engine defaults.
func (e *Engine) prepare(cfg models.ScanConfig) (models.ScanConfig, error) {
	cfg = cfg.Clone()
	var problems []string
	if strings.TrimSpace(cfg.TargetPath) == "" {
		problems = append(problems, "target path is required")
	}
	if cfg.MaxDepth < 0 {
		problems = append(problems, "max depth must not be negative")
	}
	if cfg.Concurrency < 0 {
		problems = append(problems, "concurrency must not be negative")
	}
	if cfg.MinSeverity != "" && !cfg.MinSeverity.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", cfg.MinSeverity))
	}
	if err := e.scope.ValidateTarget(cfg.TargetPath); cfg.TargetPath != "" && err != nil {
		problems = append(problems, err.Error())
	}
	if err := models.NewValidationError("scan config", problems); err != nil {
		return cfg, err
	}

	cfg, err := ApplyPreset(cfg)
	if err != nil {
		return cfg, err
	}
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = e.maxFileSizeMB
	}
	return cfg, nil
}

// run drives one session from pending to a terminal state.
func (e *Engine) run(ctx context.Context, s *session) {
	defer e.wg.Done()
	defer s.cancel()

	id := s.rec.ID
	cfg := s.rec.Config
	log := e.log.With(zap.String("scan_id", id))

	// ── 1. Mark running ───────────────────────────────────────────────────────
	snap := e.update(s, func(r *models.ScanSession) {
		r.Status = models.StatusRunning
	})
	e.bus.Publish(events.Event{Type: events.ScanStarted, SessionID: id, Session: &snap})

	// ── 2. Discover files ─────────────────────────────────────────────────────
	found, err := discovery.RunDiscovery(ctx, e.fs, cfg.TargetPath, discovery.ConfigFromScan(cfg))
	if err != nil {
		if ctx.Err() != nil {
			e.cancelled(s, ctx.Err())
			return
		}
		log.Warn("discovery failed", zap.Error(err))
		e.failed(s, err)
		return
	}
	total := len(found.Files)
	e.update(s, func(r *models.ScanSession) {
		r.Progress.TotalFiles = total
		if total == 0 {
			r.Progress.Percent = 100
		}
	})
	log.Debug("discovery complete", zap.Int("files", total), zap.Int("skipped", found.Skipped))

	// ── 3. Match file by file ─────────────────────────────────────────────────
	stats := models.NewStatistics()
	stats.TotalFiles = found.Seen
	stats.SkippedFiles = found.Skipped

	var (
		findings []models.Finding
		warnings []string
		// Unreadable files are errors: the scan completes but coverage is short.
		readErrs []string
	)

	for i, file := range found.Files {
		// Cancellation and timeouts are only observed between files.
		if err := ctx.Err(); err != nil {
			e.cancelled(s, err)
			return
		}

		content, readErr := afero.ReadFile(e.fs, file.FullPath)
		if readErr != nil {
			stats.SkippedFiles++
			readErrs = append(readErrs, fmt.Sprintf("%s: reading file: %v", file.Path, readErr))
		} else {
			stats.ScannedFiles++
			fileFindings, fileWarnings := e.matchFile(cfg, file, content)
			findings = append(findings, fileFindings...)
			warnings = append(warnings, fileWarnings...)
			if len(fileFindings) > 0 {
				stats.ByLanguage[file.Language] += len(fileFindings)
			}
		}

		processed := i + 1
		elapsed := e.now().Sub(s.rec.StartedAt)
		snap := e.update(s, func(r *models.ScanSession) {
			r.Progress.ProcessedFiles = processed
			r.Progress.FindingsCount = len(findings)
			r.Progress.Percent = percentOf(processed, total)
			r.Progress.CurrentFile = file.Path
			r.Progress.Elapsed = elapsed
			r.Progress.EstimatedRemaining = estimateRemaining(elapsed, processed, total)
			r.Progress.HasEstimate = true
			r.Warnings = slices.Clone(warnings)
		})
		e.bus.Publish(events.Event{Type: events.ScanProgress, SessionID: id, Session: &snap})
	}

	if err := ctx.Err(); err != nil {
		e.cancelled(s, err)
		return
	}

	// ── 4. Aggregate ──────────────────────────────────────────────────────────
	models.SortFindings(findings)
	if findings == nil {
		findings = []models.Finding{}
	}
	stats.FindingCount = len(findings)
	for _, f := range findings {
		stats.BySeverity[f.Severity]++
		stats.ByCategory[f.Category]++
	}

	endedAt := e.now()
	res := &models.ScanResult{
		ScanID:      id,
		ProjectPath: cfg.TargetPath,
		Config:      cfg.Clone(),
		Status:      models.StatusCompleted,
		StartedAt:   s.rec.StartedAt,
		EndedAt:     endedAt,
		Duration:    endedAt.Sub(s.rec.StartedAt),
		Findings:    findings,
		Statistics:  stats,
		Resources:   resourceSnapshot(),
		Errors:      readErrs,
		Warnings:    warnings,
	}

	// ── 5. Persist ────────────────────────────────────────────────────────────
	if e.sink != nil {
		if err := e.sink.SaveResult(res); err != nil {
			// Non-fatal: the scan itself succeeded.
			log.Warn("could not persist scan result", zap.Error(err))
		}
	}

	// ── 6. Complete ───────────────────────────────────────────────────────────
	final := e.finish(s, models.StatusCompleted, "", endedAt)
	log.Info("scan completed",
		zap.Int("files", stats.ScannedFiles),
		zap.Int("findings", len(findings)),
		zap.Duration("elapsed", res.Duration))
	e.bus.Publish(events.Event{Type: events.ScanCompleted, SessionID: id, Session: &final, Result: res})
}

type ruleOutcome struct {
	findings []models.Finding
	err      error
}

// matchFile applies every active rule to one file. Rules run in parallel but
// outcomes come back in rule order, so the output is deterministic.
func (e *Engine) matchFile(cfg models.ScanConfig, file models.FileMeta, content []byte) ([]models.Finding, []string) {
	rules := e.rules.ActiveRules(file.Language, cfg.RuleIDs)
	rules = slices.DeleteFunc(rules, func(r matcher.CompiledRule) bool {
		return !r.Def.Severity.AtLeast(cfg.MinSeverity)
	})
	if len(rules) == 0 {
		return nil, nil
	}

	mapper := iter.Mapper[matcher.CompiledRule, ruleOutcome]{MaxGoroutines: cfg.Concurrency}
	outcomes := mapper.Map(rules, func(r *matcher.CompiledRule) ruleOutcome {
		return e.matchIsolated(*r, content, file)
	})

	var (
		findings []models.Finding
		warnings []string
	)
	for _, o := range outcomes {
		if o.err != nil {
			warnings = append(warnings, o.err.Error())
			continue
		}
		findings = append(findings, o.findings...)
	}
	return findings, warnings
}

// matchIsolated runs a single rule inside a deferred recover so that a
// panic while matching is reported as a warning rather than crashing the
// session.
func (e *Engine) matchIsolated(rule matcher.CompiledRule, content []byte, file models.FileMeta) (out ruleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = ruleOutcome{err: fmt.Errorf("%w: rule %s panicked on %s: %v", models.ErrMatchingWarning, rule.Def.ID, file.Path, r)}
		}
	}()
	found, err := e.matcher.Match(rule, content, file)
	if err != nil {
		return ruleOutcome{err: fmt.Errorf("%s: %w", file.Path, err)}
	}
	return ruleOutcome{findings: found}
}

// CancelScan requests cooperative cancellation. It returns false unless the
// session is running and not already cancelling.
func (e *Engine) CancelScan(id string) bool {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if !ok || s.rec.Status != models.StatusRunning || s.cancelRequested {
		e.mu.Unlock()
		return false
	}
	s.cancelRequested = true
	cancel := s.cancel
	e.mu.Unlock()

	cancel()
	e.log.Info("scan cancellation requested", zap.String("scan_id", id))
	return true
}

// GetProgress returns a snapshot of an in-flight session.
func (e *Engine) GetProgress(id string) (models.ScanSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return models.ScanSession{}, false
	}
	return s.rec.Snapshot(), true
}

// ListActiveSessions returns every pending or running session, oldest first.
func (e *Engine) ListActiveSessions() []models.ScanSession {
	e.mu.Lock()
	out := make([]models.ScanSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.rec.Snapshot())
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b models.ScanSession) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// SetMaxConcurrentScans changes the admission ceiling, clamped to 1..10, and
// returns the value applied. Sessions already in flight are unaffected.
func (e *Engine) SetMaxConcurrentScans(n int) int {
	n = clampScans(n)
	e.mu.Lock()
	e.max = n
	e.mu.Unlock()
	e.log.Info("concurrency ceiling changed", zap.Int("max_concurrent_scans", n))
	return n
}

// MaxConcurrentScans returns the admission ceiling.
func (e *Engine) MaxConcurrentScans() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.max
}

// Wait blocks until every session admitted so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close refuses new sessions, cancels the running ones and waits for them.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stop()
	e.wg.Wait()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// update applies fn to the session record under the lock and returns a
// snapshot of the result.
func (e *Engine) update(s *session, fn func(r *models.ScanSession)) models.ScanSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&s.rec)
	return s.rec.Snapshot()
}

// finish moves a session to a terminal state and drops it from the engine,
// freeing its admission slot before any terminal event goes out.
func (e *Engine) finish(s *session, status models.ScanStatus, msg string, at time.Time) models.ScanSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.rec.Status = status
	s.rec.Error = msg
	s.rec.EndedAt = &at
	delete(e.sessions, s.rec.ID)
	return s.rec.Snapshot()
}

func (e *Engine) failed(s *session, err error) {
	snap := e.finish(s, models.StatusFailed, err.Error(), e.now())
	e.bus.Publish(events.Event{Type: events.ScanFailed, SessionID: snap.ID, Session: &snap, Message: snap.Error})
}

// cancelled treats a deadline exactly like an explicit cancel; only the
// message differs.
func (e *Engine) cancelled(s *session, cause error) {
	msg := "scan cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		timeout := s.rec.Config.Timeout
		if timeout <= 0 {
			timeout = e.defaultTimeout
		}
		msg = fmt.Sprintf("scan timed out after %s", timeout)
	}
	snap := e.finish(s, models.StatusCancelled, msg, e.now())
	e.log.Info(msg, zap.String("scan_id", snap.ID), zap.Int("processed", snap.Progress.ProcessedFiles))
	e.bus.Publish(events.Event{Type: events.ScanCancelled, SessionID: snap.ID, Session: &snap, Message: msg})
}

// percentOf returns round(done/total*100); an empty scan is complete.
func percentOf(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// estimateRemaining extrapolates the average time per file over the files
// left, at millisecond resolution.
func estimateRemaining(elapsed time.Duration, done, total int) time.Duration {
	if done <= 0 || total <= done {
		return 0
	}
	perFile := float64(elapsed.Milliseconds()) / float64(done)
	return time.Duration(math.Round(perFile*float64(total-done))) * time.Millisecond
}

func clampScans(n int) int {
	return min(max(n, MinConcurrentScans), MaxConcurrentScansLimit)
}

func resourceSnapshot() models.ResourceUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return models.ResourceUsage{
		HeapAllocBytes:  ms.HeapAlloc,
		TotalAllocBytes: ms.TotalAlloc,
		NumGC:           ms.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
}
