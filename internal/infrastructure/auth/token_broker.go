// Package auth acquires and caches bearer tokens issued by configurable
// token endpoints.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/apiflow/backend/internal/domain/extraction"
	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/logger"
	"github.com/apiflow/backend/internal/infrastructure/telemetry"
)

const (
	// DefaultRequestTimeout bounds a single token endpoint call.
	DefaultRequestTimeout = 30 * time.Second
	// RefreshRetention keeps an expired entry around so its refresh token
	// can still be used.
	RefreshRetention = 24 * time.Hour
)

// UsageRecorder stamps a token config as used.
type UsageRecorder interface {
	TouchTokenConfig(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TokenBroker hands out access tokens for token configs. A cached token is
// reused until it expires; concurrent misses for one config share a single
// outbound request.
type TokenBroker struct {
	sender     pipeline.HTTPSender
	cache      pipeline.TokenCache
	clock      clockwork.Clock
	timeout    time.Duration
	defaultTTL time.Duration
	usage      UsageRecorder
	metrics    *telemetry.PipelineMetrics
	logger     *zap.Logger
	group      singleflight.Group
}

// Option configures a TokenBroker.
type Option func(*TokenBroker)

func WithClock(c clockwork.Clock) Option {
	return func(b *TokenBroker) { b.clock = c }
}

func WithTimeout(d time.Duration) Option {
	return func(b *TokenBroker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithDefaultTTL sets the token lifetime used when neither the response
// nor the token config carries one.
func WithDefaultTTL(d time.Duration) Option {
	return func(b *TokenBroker) {
		if d > 0 {
			b.defaultTTL = d
		}
	}
}

// WithUsageRecorder records lastUsedAt on each handed-out token.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(b *TokenBroker) { b.usage = r }
}

func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(b *TokenBroker) { b.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *TokenBroker) { b.logger = l }
}

// NewTokenBroker creates a broker sending token requests through sender and
// caching results in cache.
func NewTokenBroker(sender pipeline.HTTPSender, cache pipeline.TokenCache, opts ...Option) *TokenBroker {
	b := &TokenBroker{
		sender:     sender,
		cache:      cache,
		clock:      clockwork.NewRealClock(),
		timeout:    DefaultRequestTimeout,
		defaultTTL: pipeline.DefaultTokenTTL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetValidToken returns an access token for cfg, from cache when still
// valid, otherwise by refreshing or requesting a new one. The outbound
// request is shared by every concurrent caller for cfg and is not tied to
// any single caller's cancellation; ctx only bounds how long this caller
// waits for it.
func (b *TokenBroker) GetValidToken(ctx context.Context, cfg *pipeline.TokenConfig) (string, error) {
	ctx = logger.EnsureContext(ctx, b.logger)
	key := cfg.ID.String()
	log := logger.L(ctx).With(zap.String("token_config_id", key))

	if tok, ok := b.lookup(ctx, key); ok && tok.ValidAt(b.clock.Now()) {
		b.metrics.RecordToken(ctx, telemetry.TokenCacheHit)
		b.touch(ctx, cfg.ID)
		return tok.AccessToken, nil
	}

	ch := b.group.DoChan(key, func() (any, error) {
		// Refresh and the fallback acquisition each get b.timeout.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*b.timeout)
		defer cancel()

		cached, ok := b.lookup(ctx, key)
		if ok && cached.ValidAt(b.clock.Now()) {
			return cached.AccessToken, nil
		}
		if ok && cfg.RefreshEnabled && cached.RefreshToken != "" {
			tok, err := b.refresh(ctx, cfg, cached.RefreshToken)
			if err == nil {
				b.metrics.RecordToken(ctx, telemetry.TokenRefreshed)
				return tok.AccessToken, nil
			}
			log.Warn("token refresh failed, requesting a new token", zap.Error(err))
		}
		tok, err := b.acquire(ctx, cfg)
		if err != nil {
			b.metrics.RecordToken(ctx, telemetry.TokenFailed)
			return nil, err
		}
		b.metrics.RecordToken(ctx, telemetry.TokenAcquired)
		return tok.AccessToken, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", pipeline.ErrTokenAcquisition, ctx.Err())
	}
	if res.Err != nil {
		log.Error("token acquisition failed", zap.Error(res.Err))
		return "", res.Err
	}
	if res.Shared {
		log.Debug("joined in-flight token request")
	}
	b.touch(ctx, cfg.ID)
	return res.Val.(string), nil
}

// Invalidate drops any cached token for the given config.
func (b *TokenBroker) Invalidate(ctx context.Context, id uuid.UUID) error {
	return b.cache.Delete(ctx, id.String())
}

func (b *TokenBroker) lookup(ctx context.Context, key string) (pipeline.CachedToken, bool) {
	tok, ok, err := b.cache.Get(ctx, key)
	if err != nil {
		logger.L(ctx).Warn("token cache read failed", zap.String("key", key), zap.Error(err))
		return pipeline.CachedToken{}, false
	}
	return tok, ok
}

func (b *TokenBroker) acquire(ctx context.Context, cfg *pipeline.TokenConfig) (pipeline.CachedToken, error) {
	return b.request(ctx, cfg, cfg.Body, "")
}

func (b *TokenBroker) refresh(ctx context.Context, cfg *pipeline.TokenConfig, refreshToken string) (pipeline.CachedToken, error) {
	body := make(map[string]any, len(cfg.Body)+2)
	maps.Copy(body, cfg.Body)
	body["grant_type"] = "refresh_token"
	body["refresh_token"] = refreshToken
	return b.request(ctx, cfg, body, refreshToken)
}

// request calls the token endpoint and caches the result. previousRefresh
// is kept when the response does not rotate the refresh token.
func (b *TokenBroker) request(ctx context.Context, cfg *pipeline.TokenConfig, body map[string]any, previousRefresh string) (pipeline.CachedToken, error) {
	out := &pipeline.OutboundRequest{
		Method:  cfg.HTTPMethod(),
		URL:     cfg.Endpoint,
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: b.timeout,
	}
	for _, h := range cfg.Headers {
		if h.Key != "" {
			out.Headers[h.Key] = h.Value
		}
	}
	if len(body) > 0 && out.Method != "GET" {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pipeline.CachedToken{}, fmt.Errorf("%w: encode body: %w", pipeline.ErrTokenAcquisition, err)
		}
		out.Body = encoded
		if _, ok := out.Headers["Content-Type"]; !ok {
			out.Headers["Content-Type"] = "application/json"
		}
	}

	resp, err := b.sender.Send(ctx, out)
	if err != nil {
		return pipeline.CachedToken{}, fmt.Errorf("%w: %w", pipeline.ErrTokenAcquisition, err)
	}
	if !resp.IsSuccess() {
		return pipeline.CachedToken{}, fmt.Errorf("%w: token endpoint returned status %d", pipeline.ErrTokenAcquisition, resp.StatusCode)
	}

	payload, err := extraction.DecodeJSON(resp.Body)
	if err != nil {
		return pipeline.CachedToken{}, fmt.Errorf("%w: %w", pipeline.ErrTokenAcquisition, err)
	}
	raw, found := extraction.Resolve(payload, cfg.TokenPath)
	access, isString := raw.(string)
	if !found || !isString || access == "" {
		return pipeline.CachedToken{}, fmt.Errorf("%w: %q", pipeline.ErrTokenNotFound, cfg.TokenPath)
	}

	now := b.clock.Now()
	tok := pipeline.CachedToken{
		AccessToken:  access,
		RefreshToken: previousRefresh,
		ExpiresAt:    now.Add(b.lifetime(cfg, payload, access, now)),
	}
	if cfg.RefreshTokenPath != "" {
		if rt, ok := extraction.Resolve(payload, cfg.RefreshTokenPath); ok {
			if s, ok := rt.(string); ok && s != "" {
				tok.RefreshToken = s
			}
		}
	}

	retention := tok.ExpiresAt.Sub(now)
	if cfg.RefreshEnabled && tok.RefreshToken != "" {
		retention += RefreshRetention
	}
	if retention <= 0 {
		logger.L(ctx).Warn("token already expired on receipt, not caching", zap.String("token_config_id", cfg.ID.String()))
		return tok, nil
	}
	if err := b.cache.Set(ctx, cfg.ID.String(), tok, retention); err != nil {
		logger.L(ctx).Warn("token cache write failed", zap.String("token_config_id", cfg.ID.String()), zap.Error(err))
	}
	return tok, nil
}

// lifetime takes expires_in from the response when present and positive.
// Otherwise the config's default (or the broker's) applies, capped by a JWT
// exp claim. An exp in the past yields zero.
func (b *TokenBroker) lifetime(cfg *pipeline.TokenConfig, payload any, access string, now time.Time) time.Duration {
	if cfg.ExpiresInPath != "" {
		if raw, ok := extraction.Resolve(payload, cfg.ExpiresInPath); ok && raw != nil {
			if secs, err := cast.ToFloat64E(raw); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	ttl := cfg.DefaultTTL(b.defaultTTL)
	if exp, ok := jwtExpiry(access); ok {
		remaining := max(exp.Sub(now), 0)
		if remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

func (b *TokenBroker) touch(ctx context.Context, id uuid.UUID) {
	if b.usage == nil {
		return
	}
	if err := b.usage.TouchTokenConfig(ctx, id, b.clock.Now()); err != nil {
		logger.L(ctx).Debug("failed to record token config usage", zap.Error(err))
	}
}
