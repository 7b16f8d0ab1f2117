// Package apiclient renders request templates into outbound HTTP calls and
// sends them.
package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	resty "github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/logger"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 32 << 20
)

// RestySender implements pipeline.HTTPSender on a resty client. It never
// retries; non-2xx responses are returned as they are.
type RestySender struct {
	client   *resty.Client
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
}

// NewRestySender creates a sender from the http_client config section.
func NewRestySender(cfg config.HTTPClientConfig, l *zap.Logger) *RestySender {
	if l == nil {
		l = zap.NewNop()
	}
	s := &RestySender{
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxResponseBytes,
		logger:   l,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxResponseBytes
	}

	c := resty.New()
	c.SetTimeout(s.timeout)
	c.SetRetryCount(0)
	if cfg.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.UserAgent)
	}
	s.client = c
	return s
}

// Client exposes the underlying resty client.
func (s *RestySender) Client() *resty.Client {
	return s.client
}

// Send performs req within its timeout, or the sender default when unset.
func (s *RestySender) Send(ctx context.Context, req *pipeline.OutboundRequest) (*pipeline.HTTPResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeaders(req.Headers)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	started := time.Now()
	res, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", pipeline.ErrTransport, req.Method, redact(req.URL), err)
	}
	raw := res.RawBody()
	defer raw.Close()

	body, err := io.ReadAll(io.LimitReader(raw, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", pipeline.ErrTransport, err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", pipeline.ErrTransport, s.maxBytes)
	}

	logger.L(logger.EnsureContext(ctx, s.logger)).Debug("outbound request",
		zap.String("method", req.Method),
		zap.String("url", redact(req.URL)),
		zap.Int("status", res.StatusCode()),
		zap.Int("bytes", len(body)),
		zap.Duration("latency", time.Since(started)),
	)

	return &pipeline.HTTPResponse{
		StatusCode: res.StatusCode(),
		Headers:    res.Header(),
		Body:       body,
	}, nil
}

// redact strips the query string, which may carry an api key.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
