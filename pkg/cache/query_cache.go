// Package cache provides query plan caching for NornicGraph.
//
// Query plan caching avoids re-parsing identical Cypher queries.
//
// Features:
//   - LRU eviction for bounded memory
//   - Optional TTL expiration
//   - Thread-safe operations
//   - Cache hit/miss statistics
//
// Usage:
//
//	plans := cache.NewQueryCache[*Plan](1000, 0)
//
//	if plan, ok := plans.Get(query); ok {
//		return plan
//	}
//	plan := parse(query)
//	plans.Put(query, plan)
package cache

import (
	"container/list"
	"sync"
	"time"
)

// QueryCache is a thread-safe LRU cache keyed by normalized query text.
//
// Keys are compared in full: two queries never share an entry because
// their hashes collide.
type QueryCache[V any] struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	now     func() time.Time

	list  *list.List
	items map[string]*list.Element

	hits   uint64
	misses uint64
}

type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewQueryCache creates a new query cache.
//
// Parameters:
//   - maxSize: Maximum number of cached plans (LRU eviction when exceeded);
//     non-positive values use 1000
//   - ttl: Time-to-live for cached entries (0 = no expiration)
func NewQueryCache[V any](maxSize int, ttl time.Duration) *QueryCache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &QueryCache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get returns the cached value for key and marks it most recently used.
// Expired entries are dropped and reported as misses.
func (c *QueryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.list.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Put adds or replaces the value for key, evicting the least recently used
// entry when the cache is full.
func (c *QueryCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.removeElement(c.list.Back())
	}

	c.items[key] = c.list.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
}

// Remove removes an entry from the cache.
func (c *QueryCache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries. Statistics are kept.
func (c *QueryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Len returns the number of cached entries.
func (c *QueryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *QueryCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:    c.list.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // percentage (0-100)
}

func (c *QueryCache[V]) reset() {
	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *QueryCache[V]) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry[V]).key)
}
