// Package cache is a bounded in-memory key/value cache with per-entry TTL
// and oldest-first eviction by insertion time.
package cache

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxSize is the size ceiling used when none is configured.
const DefaultMaxSize int64 = 100 * 1024 * 1024

// ErrTooLarge is returned by Set when a single entry exceeds the ceiling.
var ErrTooLarge = errors.New("cache: entry larger than cache ceiling")

// Options configures a Cache.
type Options struct {
	MaxSizeBytes int64
	Now          func() time.Time
	Logger       *zap.Logger
}

type entry struct {
	key        string
	value      any
	raw        []byte
	insertedAt time.Time
	expiresAt  time.Time
	size       int64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Items     int     `json:"items"`
	SizeBytes int64   `json:"size_bytes"`
	MaxBytes  int64   `json:"max_bytes"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions uint64  `json:"evictions"`
	Expired   uint64  `json:"expired"`
}

// Cache is safe for concurrent use. A single mutex guards the entry map.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is the oldest insertion
	size    int64
	maxSize int64

	hits, misses, evictions, expired uint64

	now func() time.Time
	log *zap.Logger
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: opts.MaxSizeBytes,
		now:     opts.Now,
		log:     opts.Logger.Named("cache"),
	}
}

// Set stores value under key. Its size is the length of its JSON encoding.
// A zero ttl never expires. Oldest entries are evicted until the new entry
// fits; replacing a key counts as a fresh insertion.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encoding %q: %w", key, err)
	}
	size := int64(len(raw))
	if size > c.maxSize {
		return fmt.Errorf("%w: %q is %d bytes, ceiling %d", ErrTooLarge, key, size, c.maxSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}

	for c.size+size > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.log.Debug("evicting entry", zap.String("key", oldest.Value.(*entry).key))
		c.removeLocked(oldest)
		c.evictions++
	}

	now := c.now()
	e := &entry{key: key, value: value, raw: raw, insertedAt: now, size: size}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.items[key] = c.order.PushBack(e)
	c.size += size
	return nil
}

// Get returns the value stored under key. An expired entry is removed and
// reported absent.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetAs returns the cached value as T. A value stored as a different type is
// decoded from its JSON form.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	e, ok := c.lookup(key)
	if !ok {
		return zero, false
	}
	if v, ok := e.value.(T); ok {
		return v, true
	}
	var v T
	if err := json.Unmarshal(e.raw, &v); err != nil {
		c.log.Debug("cached value has another shape", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (c *Cache) lookup(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeLocked(el)
		c.expired++
		c.misses++
		return nil, false
	}
	c.hits++
	return e, true
}

// Delete removes key and reports whether a live entry was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	live := !el.Value.(*entry).expired(c.now())
	c.removeLocked(el)
	return live
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).expired(now) {
			c.removeLocked(el)
			n++
		}
		el = next
	}
	c.expired += uint64(n)
	return n
}

// Size returns the tracked byte total.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of stored entries, expired ones included until
// they are read or swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Items:     len(c.items),
		SizeBytes: c.size,
		MaxBytes:  c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.size -= e.size
}
