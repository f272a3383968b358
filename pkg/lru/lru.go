// Package lru provides a size-weighted least-recently-used cache.
//
// Eviction is driven by the aggregate weight of the stored entries rather
// than by their count. The weight of an entry is computed by a caller
// supplied WeightFunc, so the accounting can be tested on its own.
package lru

import (
	"errors"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

// WeightFunc returns the weight of an entry. It must be pure: the same key
// and value always weigh the same.
type WeightFunc[V any] func(key string, value V) int

// Cache is a weighted LRU cache safe for concurrent use.
//
// Inserts are idempotent for a given key: callers that compute the same
// value concurrently may both Add it and the last write wins.
type Cache[V any] struct {
	mu        sync.Mutex
	lru       *simplelru.LRU
	weight    WeightFunc[V]
	maxWeight int
	total     int
}

// New creates a cache holding at most maxWeight units.
func New[V any](maxWeight int, weight WeightFunc[V]) (*Cache[V], error) {
	if maxWeight <= 0 {
		return nil, errors.New("lru: max weight must be positive")
	}
	if weight == nil {
		return nil, errors.New("lru: weight function is required")
	}

	c := &Cache[V]{weight: weight, maxWeight: maxWeight}
	l, err := simplelru.NewLRU(math.MaxInt32, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *Cache[V]) onEvict(key, value interface{}) {
	c.total -= c.weight(key.(string), value.(V))
}

// Get returns the cached value and marks it recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Add stores value under key and evicts least-recently-used entries until
// the total weight fits. An entry heavier than the whole budget is not
// stored; Add reports whether the value was stored.
func (c *Cache[V]) Add(key string, value V) bool {
	w := c.weight(key, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if w > c.maxWeight {
		return false
	}

	if old, ok := c.lru.Peek(key); ok {
		c.total -= c.weight(key, old.(V))
	}
	c.lru.Add(key, value)
	c.total += w

	for c.total > c.maxWeight {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
	return true
}

// Remove drops key from the cache.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Purge empties the cache.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.total = 0
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Weight returns the aggregate weight of all entries.
func (c *Cache[V]) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
