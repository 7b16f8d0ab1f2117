package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

const defaultTokenKeyPrefix = "apiflow:token:"

// RedisTokenCache implements pipeline.TokenCache on Redis so several engine
// processes share acquired tokens. Values are JSON-encoded CachedTokens
// stored with the retention ttl as Redis expiry.
type RedisTokenCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTokenCache connects to Redis and verifies the connection.
func NewRedisTokenCache(ctx context.Context, opts *redis.Options) (*RedisTokenCache, error) {
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisTokenCacheWithClient(client, ""), nil
}

// NewRedisTokenCacheWithClient wraps an existing client.
func NewRedisTokenCacheWithClient(client redis.UniversalClient, keyPrefix string) *RedisTokenCache {
	if keyPrefix == "" {
		keyPrefix = defaultTokenKeyPrefix
	}
	return &RedisTokenCache{client: client, keyPrefix: keyPrefix}
}

// Get implements pipeline.TokenCache
func (c *RedisTokenCache) Get(ctx context.Context, key string) (pipeline.CachedToken, bool, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.CachedToken{}, false, nil
	}
	if err != nil {
		return pipeline.CachedToken{}, false, fmt.Errorf("read cached token: %w", err)
	}
	var token pipeline.CachedToken
	if err := json.Unmarshal(raw, &token); err != nil {
		// A corrupt entry behaves like a miss and is replaced on the next Set.
		return pipeline.CachedToken{}, false, nil
	}
	return token, true, nil
}

// Set implements pipeline.TokenCache
func (c *RedisTokenCache) Set(ctx context.Context, key string, token pipeline.CachedToken, ttl time.Duration) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store cached token: %w", err)
	}
	return nil
}

// Delete implements pipeline.TokenCache
func (c *RedisTokenCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete cached token: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisTokenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}

var _ pipeline.TokenCache = (*RedisTokenCache)(nil)
