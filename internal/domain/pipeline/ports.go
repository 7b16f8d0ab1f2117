package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefinitionStore reads pipeline definitions and persists the bookkeeping
// written back after each run. Lookups of unknown ids return an error
// wrapping ErrDefinitionNotFound.
type DefinitionStore interface {
	GetSource(ctx context.Context, id uuid.UUID) (*Source, error)
	GetTokenConfig(ctx context.Context, id uuid.UUID) (*TokenConfig, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	GetExtract(ctx context.Context, id uuid.UUID) (*Extract, error)
	GetDestination(ctx context.Context, id uuid.UUID) (*Destination, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)

	// ListDueSchedules returns active cron schedules whose next execution
	// is unset or not after now, oldest first.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)

	TouchSource(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchTokenConfig(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRequestExecuted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkExtractExecuted(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveScheduleBookkeeping(ctx context.Context, s *Schedule) error
}

// CachedToken is a token held by a TokenCache.
type CachedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidAt reports whether the access token may be reused at now.
func (t CachedToken) ValidAt(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// TokenCache stores tokens by key. Implementations must be safe for
// concurrent use. The ttl bounds how long the entry is retained, which may
// outlive ExpiresAt so a refresh token stays available.
type TokenCache interface {
	Get(ctx context.Context, key string) (CachedToken, bool, error)
	Set(ctx context.Context, key string, token CachedToken, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// OutboundRequest is a fully rendered HTTP request.
type OutboundRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// HTTPResponse is the raw result of an outbound call.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPSender performs outbound calls. Non-2xx responses are returned
// without error; transport failures wrap ErrTransport.
type HTTPSender interface {
	Send(ctx context.Context, req *OutboundRequest) (*HTTPResponse, error)
}
