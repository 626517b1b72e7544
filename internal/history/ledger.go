// Package history keeps the capped, newest-first ledger of completed scans
// and the result documents they point at.
package history

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hakim/seceval/internal/cache"
	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRecords caps the ledger when no limit is configured.
	DefaultMaxRecords = 100
	// DefaultResultTTL is how long a saved result stays in the cache.
	DefaultResultTTL = time.Hour
)

// Backend persists records, the ledger order, and full results.
type Backend interface {
	SaveHistory(rec models.HistoryRecord, order []string) error
	DeleteHistory(ids []string, order []string) error
	LoadHistory() ([]models.HistoryRecord, error)
	SaveResult(res *models.ScanResult) error
	GetResult(id string) (*models.ScanResult, error)
	DeleteResult(id string) error
}

// ArtifactStore holds the result files a record references.
type ArtifactStore interface {
	WriteResult(res *models.ScanResult) (string, error)
	ReadResult(path string) (*models.ScanResult, error)
	Remove(path string) error
}

// Options configures a Ledger. Only MaxRecords has a meaningful default; the
// collaborators are all optional.
type Options struct {
	MaxRecords int
	ResultTTL  time.Duration
	Backend    Backend
	Artifacts  ArtifactStore
	Cache      *cache.Cache
	Bus        *events.Bus
	Logger     *zap.Logger
}

// Ledger is the scan history, newest first.
type Ledger struct {
	mu      sync.Mutex
	records []models.HistoryRecord

	max       int
	ttl       time.Duration
	backend   Backend
	artifacts ArtifactStore
	cache     *cache.Cache
	bus       *events.Bus
	log       *zap.Logger
}

// New creates an empty ledger. Call Load to restore persisted records.
func New(opts Options) *Ledger {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		max:       opts.MaxRecords,
		ttl:       opts.ResultTTL,
		backend:   opts.Backend,
		artifacts: opts.Artifacts,
		cache:     opts.Cache,
		bus:       opts.Bus,
		log:       opts.Logger.Named("history"),
	}
}

// ResultKey is the cache key of a scan result.
func ResultKey(scanID string) string {
	return "scan_result_" + scanID
}

// Load replaces the in-memory ledger with the persisted one, trimming it to
// the cap.
func (l *Ledger) Load() error {
	if l.backend == nil {
		return nil
	}
	recs, err := l.backend.LoadHistory()
	if err != nil {
		return fmt.Errorf("history: loading: %w", err)
	}

	l.mu.Lock()
	l.records = recs
	evicted := l.trimLocked()
	order := l.orderLocked()
	l.mu.Unlock()

	l.release(evicted, order)
	l.log.Debug("history loaded", zap.Int("records", len(recs)), zap.Int("trimmed", len(evicted)))
	return nil
}

// Add prepends rec. Records beyond the cap are evicted oldest first and their
// artifacts released.
func (l *Ledger) Add(rec models.HistoryRecord) error {
	if rec.ID == "" {
		return models.NewValidationError("history record", []string{"id is required"})
	}

	l.mu.Lock()
	if slices.ContainsFunc(l.records, func(r models.HistoryRecord) bool { return r.ID == rec.ID }) {
		l.mu.Unlock()
		return fmt.Errorf("history: adding %q: %w", rec.ID, models.ErrDuplicateKey)
	}
	l.records = slices.Insert(l.records, 0, rec)
	evicted := l.trimLocked()
	order := l.orderLocked()
	l.mu.Unlock()

	if l.backend != nil {
		if err := l.backend.SaveHistory(rec, order); err != nil {
			l.log.Warn("could not persist history record", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	added := rec
	l.bus.Publish(events.Event{Type: events.HistoryAdded, SessionID: rec.ID, History: &added})
	l.release(evicted, order)
	return nil
}

// Get returns a record by id.
func (l *Ledger) Get(id string) (models.HistoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return models.HistoryRecord{}, fmt.Errorf("history: %q: %w", id, models.ErrNotFound)
	}
	return l.records[i], nil
}

// List returns every record, newest first.
func (l *Ledger) List() []models.HistoryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Remove deletes a record and releases its artifacts.
func (l *Ledger) Remove(id string) error {
	l.mu.Lock()
	i := l.indexLocked(id)
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("history: removing %q: %w", id, models.ErrNotFound)
	}
	rec := l.records[i]
	l.records = slices.Delete(l.records, i, i+1)
	order := l.orderLocked()
	l.mu.Unlock()

	l.release([]models.HistoryRecord{rec}, order)
	return nil
}

// PurgeOlderThan removes records that started before cutoff and returns how
// many were removed.
func (l *Ledger) PurgeOlderThan(cutoff time.Time) int {
	l.mu.Lock()
	var purged []models.HistoryRecord
	kept := l.records[:0:0]
	for _, r := range l.records {
		if r.StartedAt.Before(cutoff) {
			purged = append(purged, r)
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	order := l.orderLocked()
	l.mu.Unlock()

	l.release(purged, order)
	return len(purged)
}

// RetentionTask returns a housekeeping task that purges records older than
// retention.
func (l *Ledger) RetentionTask(retention time.Duration) cache.Task {
	return cache.Task{
		Name: "history-retention",
		Run: func() error {
			if retention <= 0 {
				return nil
			}
			if n := l.PurgeOlderThan(time.Now().Add(-retention)); n > 0 {
				l.log.Info("purged old history", zap.Int("records", n))
			}
			return nil
		},
	}
}

// SaveResult persists a completed scan result and records it in the ledger.
// Artifact and storage failures are logged; the record is still added.
func (l *Ledger) SaveResult(res *models.ScanResult) error {
	var path string
	if l.artifacts != nil {
		p, err := l.artifacts.WriteResult(res)
		if err != nil {
			l.log.Warn("could not write result artifact", zap.String("scan_id", res.ScanID), zap.Error(err))
		} else {
			path = p
		}
	}
	if l.backend != nil {
		if err := l.backend.SaveResult(res); err != nil {
			l.log.Warn("could not persist result", zap.String("scan_id", res.ScanID), zap.Error(err))
		}
	}
	l.cacheResult(res)

	return l.Add(models.NewHistoryRecord(res, path))
}

// LoadResult returns the full result of a recorded scan, trying the cache,
// then storage, then the artifact file.
func (l *Ledger) LoadResult(id string) (*models.ScanResult, error) {
	if l.cache != nil {
		if res, ok := cache.GetAs[*models.ScanResult](l.cache, ResultKey(id)); ok && res != nil {
			return res, nil
		}
	}

	if l.backend != nil {
		res, err := l.backend.GetResult(id)
		if err == nil {
			l.cacheResult(res)
			return res, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			l.log.Warn("reading stored result failed", zap.String("scan_id", id), zap.Error(err))
		}
	}

	rec, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	if l.artifacts == nil || rec.ResultPath == "" {
		return nil, fmt.Errorf("history: result for %q: %w", id, models.ErrNotFound)
	}
	res, err := l.artifacts.ReadResult(rec.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("history: result for %q: %w", id, err)
	}
	l.cacheResult(res)
	return res, nil
}

func (l *Ledger) cacheResult(res *models.ScanResult) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ResultKey(res.ScanID), res, l.ttl); err != nil {
		l.log.Debug("result not cached", zap.String("scan_id", res.ScanID), zap.Error(err))
	}
}

// release drops everything evicted records refer to, persists the new order
// and emits one removal event per record.
func (l *Ledger) release(evicted []models.HistoryRecord, order []string) {
	if len(evicted) == 0 {
		return
	}
	ids := make([]string, 0, len(evicted))
	for _, rec := range evicted {
		ids = append(ids, rec.ID)
		if l.artifacts != nil && rec.ResultPath != "" {
			if err := l.artifacts.Remove(rec.ResultPath); err != nil {
				l.log.Warn("could not remove result artifact", zap.String("path", rec.ResultPath), zap.Error(err))
			}
		}
		if l.backend != nil {
			if err := l.backend.DeleteResult(rec.ID); err != nil {
				l.log.Warn("could not delete stored result", zap.String("scan_id", rec.ID), zap.Error(err))
			}
		}
		if l.cache != nil {
			l.cache.Delete(ResultKey(rec.ID))
		}
	}
	if l.backend != nil {
		if err := l.backend.DeleteHistory(ids, order); err != nil {
			l.log.Warn("could not delete history records", zap.Strings("ids", ids), zap.Error(err))
		}
	}
	for _, rec := range evicted {
		removed := rec
		l.bus.Publish(events.Event{Type: events.HistoryRemoved, SessionID: rec.ID, History: &removed})
	}
}

// trimLocked cuts the ledger to the cap and returns the evicted tail.
func (l *Ledger) trimLocked() []models.HistoryRecord {
	if len(l.records) <= l.max {
		return nil
	}
	evicted := slices.Clone(l.records[l.max:])
	l.records = slices.Clip(l.records[:l.max])
	return evicted
}

func (l *Ledger) orderLocked() []string {
	ids := make([]string, len(l.records))
	for i, r := range l.records {
		ids[i] = r.ID
	}
	return ids
}

func (l *Ledger) indexLocked(id string) int {
	return slices.IndexFunc(l.records, func(r models.HistoryRecord) bool { return r.ID == id })
}
