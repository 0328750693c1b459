package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 100)

	c.Set("chat-1", "user-1")

	value, found := c.Get("chat-1")
	require.True(t, found)
	assert.Equal(t, "user-1", value)
}

func TestGetMissingKey(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 100)

	_, found := c.Get("nope")
	assert.False(t, found)
}

func TestExpiration(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 100)

	c.SetWithExpiration("chat-1", "user-1", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, found := c.Get("chat-1")
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 100)

	c.Set("chat-1", "user-1")
	c.Delete("chat-1")

	_, found := c.Get("chat-1")
	assert.False(t, found)
}

func TestFlush(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 100)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Flush()

	assert.Equal(t, 0, c.Count())
}

func TestEvictionAtCapacity(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 3)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}
	require.Equal(t, 3, c.Count())

	c.Set("key-3", 3)
	assert.Equal(t, 3, c.Count())

	_, found := c.Get("key-3")
	assert.True(t, found, "newest entry should survive eviction")
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := NewCacheWithOptions(time.Minute, 0, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.Equal(t, 2, c.Count())

	value, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, 10, value)

	_, found = c.Get("b")
	assert.True(t, found)
}
