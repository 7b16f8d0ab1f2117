package apiclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/extraction"
	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/logger"
)

// TokenProvider returns a bearer token for a token config.
type TokenProvider interface {
	GetValidToken(ctx context.Context, cfg *pipeline.TokenConfig) (string, error)
}

// TokenConfigLookup loads token configs by id.
type TokenConfigLookup interface {
	GetTokenConfig(ctx context.Context, id uuid.UUID) (*pipeline.TokenConfig, error)
}

// RequestBuilder renders a request template and its source into an
// OutboundRequest, resolving source-level authentication.
type RequestBuilder struct {
	tokens  TokenProvider
	configs TokenConfigLookup
	policy  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRequestBuilder creates a builder. policy is config.TokenFailureBestEffort
// or config.TokenFailureAbort; anything else is treated as best effort.
func NewRequestBuilder(tokens TokenProvider, configs TokenConfigLookup, policy string, timeout time.Duration, l *zap.Logger) *RequestBuilder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &RequestBuilder{tokens: tokens, configs: configs, policy: policy, timeout: timeout, logger: l}
}

// Build renders req against src. It only fails on token errors under the
// abort policy.
func (b *RequestBuilder) Build(ctx context.Context, req *pipeline.Request, src *pipeline.Source) (*pipeline.OutboundRequest, error) {
	ctx = logger.EnsureContext(ctx, b.logger)

	headers := make(map[string]string, len(src.Headers)+len(req.Headers)+2)
	for _, h := range src.Headers {
		if h.Key != "" {
			headers[h.Key] = h.Value
		}
	}
	for _, h := range req.Headers {
		if h.Key != "" {
			headers[h.Key] = h.Value
		}
	}

	query := make([]pipeline.NameValue, 0, len(req.QueryParams)+1)
	query = append(query, req.QueryParams...)

	switch src.EffectiveAuthType() {
	case pipeline.AuthTypeBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(src.Username + ":" + src.Password))
		headers["Authorization"] = "Basic " + creds
	case pipeline.AuthTypeBearer:
		headers["Authorization"] = "Bearer " + src.BearerToken
	case pipeline.AuthTypeAPIKey:
		if src.EffectiveAPIKeyLocation() == pipeline.APIKeyInQuery {
			query = append(query, pipeline.NameValue{Name: src.APIKeyName, Value: src.APIKeyValue})
		} else if src.APIKeyName != "" {
			headers[src.APIKeyName] = src.APIKeyValue
		}
	case pipeline.AuthTypeToken:
		name, value, err := b.tokenHeader(ctx, src)
		if err != nil {
			if b.policy == config.TokenFailureAbort {
				return nil, err
			}
			logger.L(ctx).Warn("sending request without token header",
				zap.String("source_id", src.ID.String()), zap.Error(err))
		} else {
			headers[name] = value
		}
	case pipeline.AuthTypeNone:
	}

	out := &pipeline.OutboundRequest{
		Method:  req.HTTPMethod(),
		URL:     BuildURL(src.BaseURL, req.Path, req.PathParams, query),
		Headers: headers,
		Timeout: b.timeout,
	}
	if req.CarriesBody() && req.Body != "" {
		body, contentType := encodeBody(ctx, req.Body, req.EffectiveBodyFormat())
		out.Body = body
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = contentType
		}
	}
	return out, nil
}

func (b *RequestBuilder) tokenHeader(ctx context.Context, src *pipeline.Source) (string, string, error) {
	if src.TokenConfigID == nil || *src.TokenConfigID == uuid.Nil {
		return "", "", pipeline.ErrMissingTokenConf
	}
	if b.tokens == nil || b.configs == nil {
		return "", "", fmt.Errorf("%w: no token broker configured", pipeline.ErrTokenAcquisition)
	}
	cfg, err := b.configs.GetTokenConfig(ctx, *src.TokenConfigID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", pipeline.ErrTokenAcquisition, err)
	}
	token, err := b.tokens.GetValidToken(ctx, cfg)
	if err != nil {
		return "", "", err
	}
	name, value := cfg.AuthorizationHeader(token)
	return name, value, nil
}

// BuildURL joins base and path, substitutes {name} placeholders with
// path-escaped values and appends the query in the given order.
func BuildURL(base, path string, pathParams, query []pipeline.NameValue) string {
	u := strings.TrimRight(base, "/")
	if path != "" && path != "/" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		for _, p := range pathParams {
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(p.Value))
		}
		u += path
	}
	if len(query) == 0 {
		return u
	}

	parts := make([]string, 0, len(query))
	for _, q := range query {
		if q.Name == "" {
			continue
		}
		parts = append(parts, url.QueryEscape(q.Name)+"="+url.QueryEscape(q.Value))
	}
	if len(parts) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + strings.Join(parts, "&")
}

// encodeBody shapes body for the wire. JSON bodies are re-encoded
// compactly; a form body given as a JSON object is url-encoded. Anything
// that does not parse is sent verbatim.
func encodeBody(ctx context.Context, body string, format pipeline.BodyFormat) ([]byte, string) {
	switch format {
	case pipeline.BodyFormatJSON:
		parsed, err := extraction.DecodeJSON([]byte(body))
		if err != nil {
			logger.L(ctx).Warn("request body is not valid json, sending as is", zap.Error(err))
			return []byte(body), format.ContentType()
		}
		encoded, err := json.Marshal(parsed)
		if err != nil {
			return []byte(body), format.ContentType()
		}
		return encoded, format.ContentType()
	case pipeline.BodyFormatForm:
		parsed, err := extraction.DecodeJSON([]byte(body))
		obj, ok := parsed.(map[string]any)
		if err != nil || !ok {
			return []byte(body), format.ContentType()
		}
		values := url.Values{}
		for k, v := range obj {
			values.Set(k, formValue(v))
		}
		return []byte(values.Encode()), format.ContentType()
	default:
		return []byte(body), format.ContentType()
	}
}

func formValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		encoded, _ := json.Marshal(v)
		return string(encoded)
	case nil:
		return ""
	}
	return cast.ToString(v)
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
