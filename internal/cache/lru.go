package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

const defaultMaxEntries = 256

// LRUCache holds at most maxEntries values, each valid for ttl after its last
// Set. When full, the entry read or written longest ago is evicted.
type LRUCache[T any] struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	index      map[string]*list.Element
	order      *list.List // front is most recently used
	now        func() time.Time
}

type entry[T any] struct {
	key     string
	value   T
	expires time.Time
}

func NewLRUCache[T any](maxEntries int, ttl time.Duration) *LRUCache[T] {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &LRUCache[T]{
		maxEntries: maxEntries,
		ttl:        ttl,
		index:      make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		now:        time.Now,
	}
}

// Get returns the live value for key. An expired entry is dropped on read.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.index[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if c.now().After(e.expires) {
		c.unlink(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[T]{key: key, value: value, expires: c.now().Add(c.ttl)}
	if el, ok := c.index[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(e)
	for c.order.Len() > c.maxEntries {
		c.unlink(c.order.Back())
	}
}

func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.unlink(el)
	}
}

// DeletePrefix drops every key that starts with prefix, e.g. all statistics
// of one user, and reports how many were removed.
func (c *LRUCache[T]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeWhere(func(e *entry[T]) bool { return strings.HasPrefix(e.key, prefix) })
}

// CleanExpired drops every expired entry and reports how many were removed.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return c.removeWhere(func(e *entry[T]) bool { return now.After(e.expires) })
}

func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeWhere must be called with mu held.
func (c *LRUCache[T]) removeWhere(match func(*entry[T]) bool) int {
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*entry[T])) {
			c.unlink(el)
			removed++
		}
		el = next
	}
	return removed
}

func (c *LRUCache[T]) unlink(el *list.Element) {
	delete(c.index, el.Value.(*entry[T]).key)
	c.order.Remove(el)
}
