// Package events fans engine notifications out to registered subscribers.
package events

import (
	"sync"
	"time"

	"github.com/hakim/seceval/internal/models"
	"go.uber.org/zap"
)

// Type names an event category
type Type string

const (
	ScanStarted   Type = "scan.started"
	ScanProgress  Type = "scan.progress"
	ScanCompleted Type = "scan.completed"
	ScanFailed    Type = "scan.failed"
	ScanCancelled Type = "scan.cancelled"

	RuleAdded      Type = "rule.added"
	RuleUpdated    Type = "rule.updated"
	RuleDeleted    Type = "rule.deleted"
	RuleSetAdded   Type = "ruleset.added"
	RuleSetUpdated Type = "ruleset.updated"
	RuleSetDeleted Type = "ruleset.deleted"

	HistoryAdded   Type = "history.added"
	HistoryRemoved Type = "history.removed"

	SettingsSaved Type = "settings.saved"
)

// ScanTypes lists every scan lifecycle category.
func ScanTypes() []Type {
	return []Type{ScanStarted, ScanProgress, ScanCompleted, ScanFailed, ScanCancelled}
}

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type      Type
	Time      time.Time
	SessionID string
	Session   *models.ScanSession
	Result    *models.ScanResult
	Message   string
	RuleID    string
	Rule      *models.Rule
	RuleSetID string
	History   *models.HistoryRecord
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	types map[Type]bool
	done  chan struct{}
	once  sync.Once
	bus   *Bus
}

// Close unregisters the subscription and unblocks any pending delivery.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus delivers every published event to each matching subscriber. Delivery
// blocks until the subscriber receives or closes, so events are never dropped
// and arrive in publish order per publisher goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	log  *zap.Logger
}

// NewBus creates an empty bus. A nil logger disables logging.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		log:  log.Named("events"),
	}
}

// Subscribe registers a subscriber for the given categories. No categories
// means every category.
func (b *Bus) Subscribe(buffer int, types ...Type) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{
		C:     ch,
		ch:    ch,
		types: make(map[Type]bool, len(types)),
		done:  make(chan struct{}),
		bus:   b,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Observe runs fn for every matching event on its own goroutine until the
// returned stop function is called.
func (b *Bus) Observe(fn func(Event), types ...Type) (stop func()) {
	sub := b.Subscribe(32, types...)
	go func() {
		for {
			select {
			case ev := <-sub.C:
				fn(ev)
			case <-sub.done:
				return
			}
		}
	}()
	return sub.Close
}

// Publish delivers ev to every matching subscriber. Safe on a nil bus.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.wants(ev.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
	b.log.Debug("event published", zap.String("type", string(ev.Type)), zap.Int("subscribers", len(targets)))
}
