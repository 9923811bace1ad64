package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"incomes/internal/log"
)

func TestLRUCache_GetSetEvict(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch a so b becomes the eviction candidate.
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Set("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)
}

func TestLRUCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k1", "v1")
	c.Set("k2", "v2")
	now = now.Add(2 * time.Minute)
	c.Set("k3", "v3")

	_, ok := c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 1, c.Size())
}

func TestLRUCache_DeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("u1:trend:2024", 1)
	c.Set("u1:totals", 2)
	c.Set("u10:totals", 3)
	c.Set("u2:totals", 4)

	assert.Equal(t, 2, c.DeletePrefix("u1:"))
	_, ok := c.Get("u10:totals")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestManager(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	now = now.Add(time.Hour)

	m := NewManager(log.Discard())
	m.Register(c)
	assert.Equal(t, 1, m.CleanNow())

	m.Stop()
	m.StartCleanup(10 * time.Millisecond)
	m.Stop()
}
