// Package cache provides the in-process caches: a generic LRU+TTL map
// used by the classifier, and the hierarchy read-through decorator.
// Single-instance deployment keeps this simple; nothing here survives a
// restart, and nothing needs to.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"curio-backend/internal/observability"
)

// MemoryCache is a thread-safe LRU cache with per-entry TTL and
// wildcard invalidation.
type MemoryCache struct {
	name       string
	maxEntries int
	logger     *zap.Logger
	metrics    *observability.Collector

	mu    sync.Mutex
	items map[string]*entry
	lru   *list.List

	hits      int64
	misses    int64
	evictions int64

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	key    string
	value  any
	expiry time.Time
	elem   *list.Element
}

// NewMemoryCache creates a cache holding at most maxEntries live
// entries. name labels the cache in metrics.
func NewMemoryCache(name string, maxEntries int, logger *zap.Logger, metrics *observability.Collector) *MemoryCache {
	return &MemoryCache{
		name:       name,
		maxEntries: maxEntries,
		logger:     logger,
		metrics:    metrics,
		items:      make(map[string]*entry),
		lru:        list.New(),
		done:       make(chan struct{}),
	}
}

// Get returns the live value for key. Expired entries count as misses
// and are removed on access.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		c.metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}
	if time.Now().After(e.expiry) {
		c.remove(e)
		c.misses++
		c.metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}

	c.lru.MoveToFront(e.elem)
	c.hits++
	c.metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// Set stores value under key for ttl, evicting from the LRU tail when
// the cache is full.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.remove(existing)
	}

	for len(c.items) >= c.maxEntries && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		c.remove(oldest.Value.(*entry))
		c.evictions++
	}

	e := &entry{key: key, value: value, expiry: time.Now().Add(ttl)}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
}

// Delete removes one key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
}

// Clear removes every key matching pattern ("*" for all, "prefix*" and
// "*suffix" wildcards) and returns how many were dropped.
func (c *MemoryCache) Clear(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []*entry
	for key, e := range c.items {
		if matchPattern(key, pattern) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		c.remove(e)
	}

	if len(doomed) > 0 {
		c.logger.Debug("cache cleared",
			zap.String("cache", c.name),
			zap.String("pattern", pattern),
			zap.Int("count", len(doomed)))
	}
	return len(doomed)
}

// ClearMatching removes every key the match function accepts and
// returns how many were dropped. Callers that need more than the
// Clear wildcards use this.
func (c *MemoryCache) ClearMatching(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []*entry
	for key, e := range c.items {
		if match(key) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		c.remove(e)
	}
	return len(doomed)
}

// Len returns the number of entries, including any not yet expired-swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hitRate"`
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := 0.0
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.items),
		HitRate:   rate,
	}
}

// StartCleanup sweeps expired entries until Close is called.
func (c *MemoryCache) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.done:
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine. Idempotent.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*entry
	for _, e := range c.items {
		if now.After(e.expiry) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.remove(e)
	}
}

// remove must be called with the lock held.
func (c *MemoryCache) remove(e *entry) {
	if e.elem != nil {
		c.lru.Remove(e.elem)
	}
	delete(c.items, e.key)
}

func matchPattern(s, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case len(pattern) > 0 && pattern[0] == '*':
		suffix := pattern[1:]
		return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
	case len(pattern) > 0 && pattern[len(pattern)-1] == '*':
		prefix := pattern[:len(pattern)-1]
		return len(s) >= len(prefix) && s[:len(prefix)] == prefix
	default:
		return s == pattern
	}
}
