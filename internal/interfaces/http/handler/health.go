package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apiflow/backend/internal/interfaces/http/dto"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerStatus reports whether the background runner is active.
type SchedulerStatus interface {
	IsRunning() bool
}

// HealthHandler serves the readiness probe.
type HealthHandler struct {
	BaseHandler
	checks    map[string]Pinger
	scheduler SchedulerStatus
	started   time.Time
	timeout   time.Duration
}

// NewHealthHandler creates a HealthHandler. scheduler may be nil.
func NewHealthHandler(checks map[string]Pinger, scheduler SchedulerStatus) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		scheduler: scheduler,
		started:   time.Now(),
		timeout:   2 * time.Second,
	}
}

// RegisterRoutes mounts the health check under rg.
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}

// Health answers 200 when every dependency responds and 503 otherwise.
//
// @ID           getHealth
// @Summary      Service health
// @Description  Pings the database and token cache and reports whether the scheduler runs
// @Tags         system
// @Produce      json
// @Success      200  {object}  dto.Response{data=dto.HealthResponse}
// @Failure      503  {object}  dto.Response{data=dto.HealthResponse}
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := dto.HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.scheduler != nil {
		resp.Scheduler = h.scheduler.IsRunning()
	}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, dto.NewFailedResultResponse(
			dto.ErrCodeUnavailable, "dependency check failed", requestID(c), resp))
		return
	}
	h.Success(c, resp)
}
