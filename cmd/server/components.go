package main

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/extraction"
	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/auth"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/telemetry"
)

// newExtractor builds the record extractor from the extraction settings.
func newExtractor(cfg config.ExtractionConfig, clock clockwork.Clock, log *zap.Logger) (*extraction.Extractor, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction timezone %q: %w", cfg.Timezone, err)
	}
	coercer := extraction.NewCoercer(clock, loc, extraction.WithDefaultDateFormat(cfg.DefaultDateFormat))
	return extraction.NewExtractor(coercer, extraction.NewTransformRegistry(), log), nil
}

// newTokenBroker builds the token broker from the auth and HTTP client settings.
func newTokenBroker(
	cfg *config.Config,
	sender pipeline.HTTPSender,
	tokenCache pipeline.TokenCache,
	clock clockwork.Clock,
	usage auth.UsageRecorder,
	metrics *telemetry.PipelineMetrics,
	log *zap.Logger,
) *auth.TokenBroker {
	opts := []auth.Option{
		auth.WithClock(clock),
		auth.WithTimeout(cfg.HTTPClient.Timeout),
		auth.WithDefaultTTL(cfg.Auth.DefaultExpiresIn),
		auth.WithMetrics(metrics),
		auth.WithLogger(log),
	}
	if usage != nil {
		opts = append(opts, auth.WithUsageRecorder(usage))
	}
	return auth.NewTokenBroker(sender, tokenCache, opts...)
}
