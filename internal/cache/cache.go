// Package cache holds imagery query results with a per-entry TTL and mirrors
// them to durable storage as one JSON blob.
//
// The in-memory map is authoritative for the life of the process. Storage is
// a best-effort copy that is reloaded on Init.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

// Default TTLs. Radar changes faster than cloud cover.
const (
	ShortTTL = 5 * time.Minute
	LongTTL  = 30 * time.Minute
)

// Store persists the serialized cache map.
type Store interface {
	// Load returns the stored blob, or nil if nothing has been stored yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// Entry is one cached payload. Timestamp and ExpiresIn are milliseconds.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresIn int64           `json:"expiresIn"`
}

func (e Entry) fresh(nowMs int64) bool {
	return nowMs-e.Timestamp <= e.ExpiresIn
}

// EntryStatus describes one key in a Status snapshot.
type EntryStatus struct {
	Key       string        `json:"key"`
	Age       time.Duration `json:"age"`
	ExpiresIn time.Duration `json:"expiresIn"`
	Fresh     bool          `json:"fresh"`
}

// Status is a point-in-time view of the cache.
type Status struct {
	Size          int           `json:"size"`
	Entries       []EntryStatus `json:"entries"`
	LastPersisted time.Time     `json:"lastPersisted,omitzero"`
}

// Cache is a goroutine-safe TTL cache with asynchronous persistence.
type Cache struct {
	store   Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]Entry

	// persistMu serializes writes so a newer snapshot is never overwritten
	// by an older one.
	persistMu     sync.Mutex
	lastPersisted time.Time

	dirty     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an empty cache. Call Init to load persisted state and start
// the background writer.
func New(store Store, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]Entry),
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Init loads the persisted blob and starts the background writer. A missing
// or unreadable blob leaves the cache empty; the error is only logged.
func (c *Cache) Init(ctx context.Context) {
	c.load(ctx)
	c.startOnce.Do(func() {
		go c.writeLoop()
	})
}

func (c *Cache) load(ctx context.Context) {
	blob, err := c.store.Load(ctx)
	if err != nil {
		c.metrics.PersistOps.WithLabelValues("load", "error").Inc()
		c.logger.Warn("cache load failed, starting empty", "error", err)
		return
	}
	if len(blob) == 0 {
		c.metrics.PersistOps.WithLabelValues("load", "success").Inc()
		return
	}

	var loaded map[string]Entry
	if err := json.Unmarshal(blob, &loaded); err != nil {
		c.metrics.PersistOps.WithLabelValues("load", "error").Inc()
		c.logger.Warn("cache blob corrupt, starting empty", "error", err)
		return
	}

	c.mu.Lock()
	for k, e := range loaded {
		// In-memory state wins over anything loaded.
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = e
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.PersistOps.WithLabelValues("load", "success").Inc()
	c.metrics.CacheEntries.Set(float64(n))
	c.logger.Info("cache loaded", "entries", n)
}

// Get returns the payload for key if it is still fresh. A stale entry is
// evicted and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := c.clock.Now().UnixMilli()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if !e.fresh(now) {
		delete(c.entries, key)
		n := len(c.entries)
		c.mu.Unlock()
		c.metrics.CacheLookups.WithLabelValues("stale").Inc()
		c.metrics.CacheEntries.Set(float64(n))
		return nil, false
	}
	c.mu.Unlock()

	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.Data, true
}

// Set stores data under key, replacing any previous entry, and schedules a
// persistence write without waiting for it.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) {
	e := Entry{
		Data:      json.RawMessage(data),
		Timestamp: c.clock.Now().UnixMilli(),
		ExpiresIn: ttl.Milliseconds(),
	}

	c.mu.Lock()
	c.entries[key] = e
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.CacheEntries.Set(float64(n))
	c.markDirty()
}

// Clear drops every entry and schedules a persistence write.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	c.metrics.CacheEntries.Set(0)
	c.markDirty()
}

// Status reports every key with its age and freshness, sorted by key.
func (c *Cache) Status() Status {
	now := c.clock.Now().UnixMilli()

	c.mu.Lock()
	entries := make([]EntryStatus, 0, len(c.entries))
	for k, e := range c.entries {
		entries = append(entries, EntryStatus{
			Key:       k,
			Age:       time.Duration(now-e.Timestamp) * time.Millisecond,
			ExpiresIn: time.Duration(e.ExpiresIn) * time.Millisecond,
			Fresh:     e.fresh(now),
		})
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	c.persistMu.Lock()
	last := c.lastPersisted
	c.persistMu.Unlock()

	return Status{Size: len(entries), Entries: entries, LastPersisted: last}
}

// Flush writes the current map to storage and waits for it.
func (c *Cache) Flush(ctx context.Context) error {
	return c.persist(ctx)
}

// Close stops the background writer and performs a final flush.
func (c *Cache) Close(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	// Never started: nothing to wait for.
	c.startOnce.Do(func() {
		close(c.done)
	})
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.persist(ctx)
}

func (c *Cache) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *Cache) writeLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case <-c.dirty:
			if err := c.persist(context.Background()); err != nil {
				c.logger.Warn("cache persist failed", "error", err)
			}
		}
	}
}

func (c *Cache) persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	blob, err := json.Marshal(c.entries)
	c.mu.Unlock()
	if err != nil {
		c.metrics.PersistOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := c.store.Save(ctx, blob); err != nil {
		c.metrics.PersistOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("save cache: %w", err)
	}

	c.metrics.PersistOps.WithLabelValues("save", "success").Inc()
	c.lastPersisted = c.clock.Now()
	return nil
}
