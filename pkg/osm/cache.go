package osm

import (
	"sync"
	"time"
)

// TTLCache is a generic thread-safe memo with expiry and an optional
// capacity. When full, the entry closest to expiry is dropped.
type TTLCache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]cacheItem[V]
	ttl      time.Duration
	capacity int
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTLCache creates a cache. capacity <= 0 means unbounded.
func NewTTLCache[K comparable, V any](ttl time.Duration, capacity int) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		items:    make(map[K]cacheItem[V]),
		ttl:      ttl,
		capacity: capacity,
	}
}

// Get retrieves a value if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		// Re-check after obtaining write lock in case it was updated
		if latest, ok := c.items[key]; ok && time.Now().After(latest.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return item.value, true
}

// Set stores value under key with the configured TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.capacity > 0 && len(c.items) >= c.capacity {
		c.evictLocked()
	}
	c.items[key] = cacheItem[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a value from the cache
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Size returns the number of items in the cache, expired ones included.
func (c *TTLCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache[K, V]) evictLocked() {
	now := time.Now()
	var (
		victim    K
		victimExp time.Time
		found     bool
	)
	for k, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, k)
			continue
		}
		if !found || item.expiresAt.Before(victimExp) {
			victim, victimExp, found = k, item.expiresAt, true
		}
	}
	if found && len(c.items) >= c.capacity {
		delete(c.items, victim)
	}
}
