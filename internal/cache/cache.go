// Package cache is a small in-memory TTL cache for on-demand task
// contexts.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultTTL     = 15 * time.Minute
	DefaultMaxSize = 100
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
	seq       uint64
}

// Cache maps keys to values that expire after a fixed TTL. When full, it
// drops expired entries first and then the earliest inserted key.
// Overwriting a key refreshes its expiry but keeps its insertion rank.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	ttl     time.Duration
	maxSize int
	seq     uint64
	now     func() time.Time
}

// New creates a cache. Non-positive arguments take the defaults.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the live value for key. Expired entries are removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = now.Add(c.ttl)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictExpired(now)
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.seq++
	c.entries[key] = &entry[V]{value: value, expiresAt: now.Add(c.ttl), seq: c.seq}
}

// Invalidate removes key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len counts entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) evictExpired(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache[V]) evictOldest() {
	var (
		oldest string
		lowest uint64
	)
	for k, e := range c.entries {
		if lowest == 0 || e.seq < lowest {
			oldest, lowest = k, e.seq
		}
	}
	delete(c.entries, oldest)
}
