package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiflow/backend/internal/interfaces/http/dto"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticScheduler bool

func (s staticScheduler) IsRunning() bool { return bool(s) }

func serveHealth(t *testing.T, h *HealthHandler) (int, dto.Response) {
	t.Helper()
	r := gin.New()
	r.GET("/health", h.Health)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealth_OK(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
	}, staticScheduler(true))

	code, resp := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, true, data["scheduler"])
	assert.Equal(t, "ok", data["checks"].(map[string]any)["database"])
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"cache":    pingFunc(func(context.Context) error { return nil }),
	}, nil)

	code, resp := serveHealth(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)
	assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)
	checks := resp.Data.(map[string]any)["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["database"])
	assert.Equal(t, "ok", checks["cache"])
}

func TestHealth_RegisterRoutes(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{}, staticScheduler(false))
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
