// Package redis wraps the go-redis client for cross-instance shared state.
package redis

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by Get when the key does not exist
var Nil = redis.Nil

type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to the given address with no password against
// the default database.
func NewRedisClient(addr string) *RedisClient {
	return NewRedisClientWithOptions(addr, "", 0)
}

// NewRedisClientWithOptions connects with explicit credentials, falling
// back to the REDIS_URL environment variable and then localhost.
func NewRedisClientWithOptions(addr, password string, db int) *RedisClient {
	if addr == "" {
		addr = os.Getenv("REDIS_URL")
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisClient{client: client}
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisClient) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Ping checks connectivity, used by the health checker
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}
