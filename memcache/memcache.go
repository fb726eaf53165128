// Package memcache is the byte-budgeted memory layer in front of the disk
// store. It holds decrypted blocks only while the store is unlocked.
package memcache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/bitfsorg/libblocks-go/block"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Items     int    `json:"items"`
	Bytes     int64  `json:"bytes"`
	Budget    int64  `json:"budget"`
}

// Cache is an LRU cache bounded by the total size of its values rather
// than by item count. Safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	budget int64
	used   int64
	lru    *simplelru.LRU
	stats  Stats
}

// New creates a cache holding at most budget bytes. A budget <= 0 disables
// caching: Set always reports false.
func New(budget int64) *Cache {
	c := &Cache{budget: budget}
	// Item count is unbounded; the byte budget is enforced in Set.
	l, err := simplelru.NewLRU(math.MaxInt32, c.onRemove)
	if err != nil {
		panic(err) // only fails for size <= 0
	}
	c.lru = l
	return c
}

// onRemove runs under c.mu for every removal, including Purge.
func (c *Cache) onRemove(_ interface{}, value interface{}) {
	c.used -= int64(len(value.([]byte)))
}

// Get returns a copy of the cached block and marks it most recently used.
func (c *Cache) Get(hash block.Hash) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(hash)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return append([]byte(nil), v.([]byte)...), true
}

// Set caches a copy of data. Items larger than the whole budget are not
// cached and false is returned; older items are evicted to make room.
func (c *Cache) Set(hash block.Hash, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(data))
	if c.budget <= 0 || size > c.budget {
		c.lru.Remove(hash)
		return false
	}

	c.lru.Remove(hash)
	c.lru.Add(hash, append(make([]byte, 0, len(data)), data...))
	c.used += size
	c.shrink()
	return true
}

// shrink evicts least recently used items until the budget holds.
func (c *Cache) shrink() {
	for c.used > c.budget {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}
		c.stats.Evictions++
	}
}

// Has reports whether hash is cached without touching recency.
func (c *Cache) Has(hash block.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(hash)
}

// Remove drops hash. Reports whether it was present.
func (c *Cache) Remove(hash block.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(hash)
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the total size of cached values.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Purge drops every item. Used when the store is locked.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.used = 0
}

// Resize changes the byte budget, evicting as needed.
func (c *Cache) Resize(budget int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = budget
	if budget <= 0 {
		c.lru.Purge()
		c.used = 0
		return
	}
	c.shrink()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Items = c.lru.Len()
	s.Bytes = c.used
	s.Budget = c.budget
	return s
}
