package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultLRUEntries = 10000

// lru is a bounded in-process store with per-entry expiry.
type lru struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	now      func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = defaultLRUEntries
	}
	return &lru{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (c *lru) load(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	e := el.Value.(*lruEntry)
	if !c.now().Before(e.expires) {
		c.drop(el)
		return nil, nil
	}
	c.order.MoveToFront(el)
	return e.value, nil
}

func (c *lru) save(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: value, expires: expires})
	for c.order.Len() > c.capacity {
		c.drop(c.order.Back())
	}
	return nil
}

func (c *lru) drop(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*lruEntry).key)
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lru) ping(context.Context) error { return nil }

func (c *lru) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.order.Init()
	return nil
}
