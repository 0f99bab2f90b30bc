package resilience

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a thread-safe bounded cache with LRU eviction on size and lazy
// eviction on age. It backs the ingestor's fingerprint dedup among other
// things.
type Cache struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration

	entries map[string]*list.Element
	order   *list.List // front = most recently used

	clock func() time.Time
}

type cacheEntry struct {
	key      string
	value    interface{}
	storedAt time.Time
}

func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// Get returns the value for key if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.expired(entry) {
		c.remove(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Set stores key, evicting the least recently used entry if the cache is
// full.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.storedAt = now
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value, storedAt: now})
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.remove(elem)
	}
}

// Len reports the number of live (possibly stale, not yet swept) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops every expired entry and returns how many went.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*cacheEntry)) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *Cache) expired(entry *cacheEntry) bool {
	return c.ttl > 0 && c.clock().Sub(entry.storedAt) >= c.ttl
}

func (c *Cache) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
