package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix      = "infoboard:news:"
	DefaultCacheTTL     = 5 * time.Minute
	redisConnectTimeout = 5 * time.Second
)

// Cache stores serialized responses for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis server at redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	options, parseErr := redis.ParseURL(strings.TrimSpace(redisURL))
	if parseErr != nil {
		return nil, fmt.Errorf("parse redis url: %w", parseErr)
	}
	options.DialTimeout = redisConnectTimeout
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}
	return &RedisCache{client: client}, nil
}

func (cache *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, getErr := cache.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(getErr, redis.Nil) {
		return nil, false, nil
	}
	if getErr != nil {
		return nil, false, getErr
	}
	return value, true, nil
}

func (cache *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return cache.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
}

func (cache *RedisCache) Close() error {
	return cache.client.Close()
}
