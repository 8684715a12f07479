package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	url string
	ts  time.Time
}

type version struct {
	hash string
	ts   time.Time
}

// Cache remembers the content hash last stored for each article URL, so a
// redelivered or re-crawled article that did not change skips the store.
// It holds at most capacity URLs and forgets entries older than ttl.
type Cache struct {
	mu       sync.Mutex
	items    map[string]version
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]version, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Unchanged reports whether url was stored with the same hash inside the ttl
// window. It does not record anything; use Remember after a successful write.
func (c *Cache) Unchanged(url, hash string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items[url]
	return ok && v.hash == hash && now.Sub(v.ts) <= c.ttl
}

// Remember records hash as the stored version of url.
func (c *Cache) Remember(url, hash string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[url] = version{hash: hash, ts: now}
	c.order = append(c.order, entry{url: url, ts: now})
	c.compact(now)
}

// Forget drops url so the next delivery is written again.
func (c *Cache) Forget(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, url)
}

// Len reports how many URLs are remembered.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff) || len(c.order) > 2*c.capacity) {
		oldest := c.order[0]
		c.order = c.order[1:]

		// A newer Remember for the same URL owns the map entry.
		if v, ok := c.items[oldest.url]; ok && v.ts.Equal(oldest.ts) {
			delete(c.items, oldest.url)
		}
	}
}
