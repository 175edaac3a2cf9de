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

// LRUCache is a thread-safe LRU cache with TTL support
type LRUCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List
	now      func() time.Time

	hits   int64
	misses int64
}

// NewLRUCache creates a cache holding at most capacity entries for ttl each.
// A non-positive capacity disables caching.
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	return &LRUCache[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, found := c.items[key]
	if !found {
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

// Set adds or refreshes key.
func (c *LRUCache[V]) Set(key string, value V) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, found := c.items[key]; found {
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

// Delete removes key.
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		c.remove(elem)
	}
}

// Clear drops every entry.
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// CleanupExpired removes expired entries and returns how many went.
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

// CacheStats is a point-in-time view of a cache
type CacheStats struct {
	Capacity int           `json:"capacity"`
	Size     int           `json:"size"`
	TTL      time.Duration `json:"ttl"`
	Hits     int64         `json:"hits"`
	Misses   int64         `json:"misses"`
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
