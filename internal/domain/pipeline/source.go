package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyValue is a header entry.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NameValue is a path or query parameter entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Source describes an HTTP API: where it lives and how to authenticate.
type Source struct {
	ID             uuid.UUID
	Name           string
	BaseURL        string `validate:"required,url"`
	AuthType       AuthType
	Headers        []KeyValue
	Username       string
	Password       string
	BearerToken    string
	APIKeyName     string
	APIKeyValue    string
	APIKeyLocation APIKeyLocation
	TokenConfigID  *uuid.UUID
	LastUsedAt     *time.Time
}

// EffectiveAuthType treats an empty auth type as none.
func (s *Source) EffectiveAuthType() AuthType {
	if s.AuthType == "" {
		return AuthTypeNone
	}
	return s.AuthType
}

// EffectiveAPIKeyLocation defaults to header.
func (s *Source) EffectiveAPIKeyLocation() APIKeyLocation {
	if s.APIKeyLocation == "" {
		return APIKeyInHeader
	}
	return s.APIKeyLocation
}

// Validate checks the auth settings are coherent.
func (s *Source) Validate() error {
	if !s.EffectiveAuthType().IsValid() {
		return fmt.Errorf("source %s: unknown auth type %q", s.ID, s.AuthType)
	}
	switch s.EffectiveAuthType() {
	case AuthTypeToken:
		if s.TokenConfigID == nil || *s.TokenConfigID == uuid.Nil {
			return fmt.Errorf("source %s: %w", s.ID, ErrMissingTokenConf)
		}
	case AuthTypeAPIKey:
		if strings.TrimSpace(s.APIKeyName) == "" {
			return fmt.Errorf("source %s: api key name is required", s.ID)
		}
		if !s.EffectiveAPIKeyLocation().IsValid() {
			return fmt.Errorf("source %s: unknown api key location %q", s.ID, s.APIKeyLocation)
		}
	}
	return nil
}

// DefaultTokenTTL applies when the token response carries no expiry.
const DefaultTokenTTL = 3600 * time.Second

// TokenConfig describes a token-issuing endpoint.
type TokenConfig struct {
	ID                      uuid.UUID
	Endpoint                string `validate:"required,url"`
	Method                  string
	Headers                 []KeyValue
	Body                    map[string]any
	TokenPath               string `validate:"required"`
	ExpiresInPath           string
	RefreshTokenPath        string
	DefaultExpiresInSeconds int
	RefreshEnabled          bool
	// HeaderName and TokenPrefix shape the header the token is sent in.
	HeaderName  string
	TokenPrefix string
	LastUsedAt  *time.Time
}

// HTTPMethod returns the upper-cased method, POST when unset.
func (c *TokenConfig) HTTPMethod() string {
	if strings.TrimSpace(c.Method) == "" {
		return "POST"
	}
	return normalizeMethod(c.Method)
}

// DefaultTTL returns DefaultExpiresInSeconds. When unset it falls back to
// fallback, then to DefaultTokenTTL.
func (c *TokenConfig) DefaultTTL(fallback time.Duration) time.Duration {
	if c.DefaultExpiresInSeconds <= 0 {
		if fallback > 0 {
			return fallback
		}
		return DefaultTokenTTL
	}
	return time.Duration(c.DefaultExpiresInSeconds) * time.Second
}

// AuthorizationHeader returns the header name and value carrying token.
func (c *TokenConfig) AuthorizationHeader(token string) (string, string) {
	name := c.HeaderName
	if name == "" {
		name = "Authorization"
	}
	prefix := c.TokenPrefix
	if prefix == "" {
		prefix = "Bearer"
	}
	if prefix == "-" {
		return name, token
	}
	return name, prefix + " " + token
}
