package geocode

import (
	"container/list"
	"sync"
	"time"
)

// ttlCache is a size-bounded LRU with per-entry expiry. A nil Location
// marks a cached negative result.
type ttlCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key      string
	loc      *Location
	expires  time.Time
	negative bool
}

func newTTLCache(maxSize int) *ttlCache {
	return &ttlCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element, maxSize),
	}
}

func (c *ttlCache) get(key string) (loc *Location, negative, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false, false
	}
	c.order.MoveToFront(el)
	return entry.loc, entry.negative, true
}

func (c *ttlCache) put(key string, loc *Location, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		key:      key,
		loc:      loc,
		expires:  time.Now().Add(ttl),
		negative: loc == nil,
	}
	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(entry)

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
