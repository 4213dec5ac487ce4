package lru

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	c.Set("a", 1, 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestEvictsOldestWhenOverCapacity(t *testing.T) {
	c := New(Config{MaxEntries: 2})
	c.Set("a", 1, 1, 0)
	c.Set("b", 2, 1, 0)
	c.Set("c", 3, 1, 0)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Evictions)
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New(Config{MaxEntries: 2})
	c.Set("a", 1, 1, 0)
	c.Set("b", 2, 1, 0)
	c.Get("a") // a is now most-recently used
	c.Set("c", 3, 1, 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should be evicted since a was touched more recently")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestExpiredEntryIsNotReturned(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	c.Set("a", 1, 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestDefaultTTLAppliesWhenNoOverride(t *testing.T) {
	c := New(Config{MaxEntries: 10, DefaultTTL: 10 * time.Millisecond})
	c.Set("a", 1, 1, 0)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestPurgeRemovesExpiredEntriesOnly(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	c.Set("a", 1, 1, 5*time.Millisecond)
	c.Set("b", 2, 1, time.Hour)
	time.Sleep(15 * time.Millisecond)

	purged := c.Purge()
	assert.Equal(t, 1, purged)
	assert.Equal(t, 1, c.Len())
}

func TestByteBudgetEviction(t *testing.T) {
	c := New(Config{MaxBytes: 10})
	c.Set("a", "x", 6, 0)
	c.Set("b", "y", 6, 0)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	c.Set("a", 1, 1, 0)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}
