package cache

import (
	"context"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
)

// TokenCache is a pipeline.TokenCache that owns resources.
type TokenCache interface {
	pipeline.TokenCache
	io.Closer
}

// NewTokenCache builds the cache selected by auth.token_cache. When Redis is
// selected but unreachable, it falls back to an in-memory cache unless
// Redis is explicitly enabled, in which case the error is returned.
func NewTokenCache(ctx context.Context, authCfg config.AuthConfig, redisCfg config.RedisConfig, clock clockwork.Clock, logger *zap.Logger) (TokenCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if authCfg.TokenCache != "redis" {
		return NewInMemoryTokenCache(clock, 0), nil
	}

	store, err := NewRedisTokenCache(ctx, &redis.Options{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err == nil {
		logger.Info("using Redis token cache", zap.String("addr", redisCfg.Addr()))
		return store, nil
	}
	if redisCfg.Enabled {
		return nil, fmt.Errorf("redis token cache unavailable: %w", err)
	}
	logger.Warn("Redis unavailable, falling back to in-memory token cache; tokens are not shared between processes",
		zap.Error(err),
	)
	return NewInMemoryTokenCache(clock, 0), nil
}
