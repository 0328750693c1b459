package service

import (
	"context"
	"errors"
	"time"

	"ai-voice-gateway/backend/pkg/cache"
	"ai-voice-gateway/backend/pkg/logger"
	sharedredis "ai-voice-gateway/backend/shared/redis"
)

// OwnershipCache caches chatId to owner lookups so repeated turns on
// the same session skip the store read.
type OwnershipCache interface {
	GetOwner(ctx context.Context, chatID string) (string, bool)
	SetOwner(ctx context.Context, chatID, userID string)
	Invalidate(ctx context.Context, chatID string)
}

// MemoryOwnershipCache keeps ownership lookups in process memory.
type MemoryOwnershipCache struct {
	cache *cache.Cache
}

func NewMemoryOwnershipCache(c *cache.Cache) *MemoryOwnershipCache {
	return &MemoryOwnershipCache{cache: c}
}

func (m *MemoryOwnershipCache) GetOwner(ctx context.Context, chatID string) (string, bool) {
	value, found := m.cache.Get(ownerKey(chatID))
	if !found {
		return "", false
	}
	owner, ok := value.(string)
	return owner, ok
}

func (m *MemoryOwnershipCache) SetOwner(ctx context.Context, chatID, userID string) {
	m.cache.Set(ownerKey(chatID), userID)
}

func (m *MemoryOwnershipCache) Invalidate(ctx context.Context, chatID string) {
	m.cache.Delete(ownerKey(chatID))
}

// RedisOwnershipCache shares ownership lookups across gateway instances.
// Redis errors are treated as cache misses.
type RedisOwnershipCache struct {
	client *sharedredis.RedisClient
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisOwnershipCache(client *sharedredis.RedisClient, ttl time.Duration, log *logger.Logger) *RedisOwnershipCache {
	return &RedisOwnershipCache{client: client, ttl: ttl, log: log}
}

func (r *RedisOwnershipCache) GetOwner(ctx context.Context, chatID string) (string, bool) {
	owner, err := r.client.Get(ctx, ownerKey(chatID))
	if err != nil {
		if !errors.Is(err, sharedredis.Nil) {
			r.log.Debug("Ownership cache read failed", "chat_id", chatID, "error", err.Error())
		}
		return "", false
	}
	return owner, true
}

func (r *RedisOwnershipCache) SetOwner(ctx context.Context, chatID, userID string) {
	if err := r.client.Set(ctx, ownerKey(chatID), userID, r.ttl); err != nil {
		r.log.Debug("Ownership cache write failed", "chat_id", chatID, "error", err.Error())
	}
}

func (r *RedisOwnershipCache) Invalidate(ctx context.Context, chatID string) {
	if err := r.client.Del(ctx, ownerKey(chatID)); err != nil {
		r.log.Debug("Ownership cache invalidate failed", "chat_id", chatID, "error", err.Error())
	}
}

func ownerKey(chatID string) string {
	return "chat:" + chatID + ":owner"
}
