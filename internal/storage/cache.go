package storage

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// LRUCache is a thread-safe LRU cache with a per-entry TTL
type LRUCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List
	hits     uint64
	misses   uint64
	gen      uint64
	now      func() time.Time
}

// NewLRUCache creates a cache. A non-positive capacity disables caching.
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	return &LRUCache[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value if present and not expired
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if c.now().After(entry.expiresAt) {
		c.remove(elem)
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Set adds or refreshes an entry, evicting the least recently used one when full
func (c *LRUCache[V]) Set(key string, value V) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, value)
}

// Generation returns a token that changes on every Delete and Clear.
// Take it before reading the backing row and pass it to SetIfGeneration.
func (c *LRUCache[V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}

// SetIfGeneration stores value only if nothing was invalidated since gen
// was taken, so a slow read cannot overwrite a newer write's invalidation.
func (c *LRUCache[V]) SetIfGeneration(key string, value V, gen uint64) bool {
	if c.capacity <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false
	}
	c.setLocked(key, value)
	return true
}

func (c *LRUCache[V]) setLocked(key string, value V) {
	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
}

// Delete drops key if cached
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

// Clear empties the cache
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached entries, expired ones included
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// CleanupExpired removes expired entries and returns how many were dropped
func (c *LRUCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	var prev *list.Element
	for elem := c.order.Back(); elem != nil; elem = prev {
		prev = elem.Prev()
		if now.After(elem.Value.(*cacheEntry[V]).expiresAt) {
			c.remove(elem)
			removed++
		}
	}
	return removed
}

func (c *LRUCache[V]) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry[V]).key)
}

// CacheStats is a point-in-time view of cache usage
type CacheStats struct {
	Capacity int
	Size     int
	TTL      time.Duration
	Hits     uint64
	Misses   uint64
}

// Stats returns current cache statistics
func (c *LRUCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Capacity: c.capacity,
		Size:     c.order.Len(),
		TTL:      c.ttl,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
