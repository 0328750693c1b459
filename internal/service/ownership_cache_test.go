package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-voice-gateway/backend/pkg/cache"
	sharedredis "ai-voice-gateway/backend/shared/redis"
)

func TestMemoryOwnershipCacheRoundtrip(t *testing.T) {
	c := NewMemoryOwnershipCache(cache.NewCache())
	ctx := context.Background()

	_, found := c.GetOwner(ctx, "chat-1")
	assert.False(t, found)

	c.SetOwner(ctx, "chat-1", "user-1")
	owner, found := c.GetOwner(ctx, "chat-1")
	require.True(t, found)
	assert.Equal(t, "user-1", owner)

	c.Invalidate(ctx, "chat-1")
	_, found = c.GetOwner(ctx, "chat-1")
	assert.False(t, found)
}

func TestMemoryOwnershipCacheKeysDoNotCollide(t *testing.T) {
	c := NewMemoryOwnershipCache(cache.NewCache())
	ctx := context.Background()

	c.SetOwner(ctx, "chat-1", "user-1")
	c.SetOwner(ctx, "chat-2", "user-2")

	owner, found := c.GetOwner(ctx, "chat-1")
	require.True(t, found)
	assert.Equal(t, "user-1", owner)

	owner, found = c.GetOwner(ctx, "chat-2")
	require.True(t, found)
	assert.Equal(t, "user-2", owner)
}

func newRedisOwnershipCache(t *testing.T, ttl time.Duration) (*RedisOwnershipCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := sharedredis.NewRedisClient(mr.Addr())
	t.Cleanup(func() { client.Close() })
	return NewRedisOwnershipCache(client, ttl, quietLogger()), mr
}

func TestRedisOwnershipCacheRoundtrip(t *testing.T) {
	c, _ := newRedisOwnershipCache(t, time.Minute)
	ctx := context.Background()

	_, found := c.GetOwner(ctx, "chat-1")
	assert.False(t, found)

	c.SetOwner(ctx, "chat-1", "user-1")
	owner, found := c.GetOwner(ctx, "chat-1")
	require.True(t, found)
	assert.Equal(t, "user-1", owner)

	c.Invalidate(ctx, "chat-1")
	_, found = c.GetOwner(ctx, "chat-1")
	assert.False(t, found)
}

func TestRedisOwnershipCacheEntriesExpire(t *testing.T) {
	c, mr := newRedisOwnershipCache(t, time.Minute)
	ctx := context.Background()

	c.SetOwner(ctx, "chat-1", "user-1")
	mr.FastForward(2 * time.Minute)

	_, found := c.GetOwner(ctx, "chat-1")
	assert.False(t, found)
}

func TestRedisOwnershipCacheTreatsErrorsAsMisses(t *testing.T) {
	c, mr := newRedisOwnershipCache(t, time.Minute)
	ctx := context.Background()

	c.SetOwner(ctx, "chat-1", "user-1")
	mr.Close()

	// A dead backend must degrade to a miss, never an error.
	_, found := c.GetOwner(ctx, "chat-1")
	assert.False(t, found)
	c.SetOwner(ctx, "chat-2", "user-2")
	c.Invalidate(ctx, "chat-1")
}
