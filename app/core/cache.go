package core

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache types.Cache 的 redis 实现
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *RedisCache) SetEx(ctx context.Context, key, value string, expiresAt time.Duration) error {
	return c.client.SetEx(ctx, key, value, expiresAt).Err()
}

func (c *RedisCache) Expire(ctx context.Context, key string, expiresAt time.Duration) error {
	return c.client.Expire(ctx, key, expiresAt).Err()
}

// EmptyCache 空实现，未配置 redis 时作为 fallback
type EmptyCache struct{}

func (c *EmptyCache) Get(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (c *EmptyCache) SetEx(ctx context.Context, key, value string, expiresAt time.Duration) error {
	return nil
}

func (c *EmptyCache) Expire(ctx context.Context, key string, expiresAt time.Duration) error {
	return nil
}
