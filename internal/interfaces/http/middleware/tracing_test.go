package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/infrastructure/logger"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return sr
}

func tracedRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Tracing(TracingConfig{Enabled: true, ServiceName: "test"}))
	r.Use(logger.GinMiddleware(zap.NewNop()))
	r.Use(SpanAttributes())
	r.POST("/schedules/:id/execute", handler)
	return r
}

func findSpan(t *testing.T, sr *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range sr.Ended() {
		if s.Name() == name {
			return s
		}
	}
	require.Failf(t, "span not found", "no span named %q", name)
	return nil
}

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Tracing(TracingConfig{Enabled: false}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTracing_TagsRequestAndSchedule(t *testing.T) {
	sr := setupTestTracer(t)
	r := tracedRouter(func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/schedules/abc/execute", nil)
	req.Header.Set(logger.RequestIDHeader, "req-123")
	r.ServeHTTP(httptest.NewRecorder(), req)

	span := findSpan(t, sr, "POST /schedules/:id/execute")
	v, ok := attrValue(span, "request_id")
	require.True(t, ok)
	assert.Equal(t, "req-123", v.AsString())
	v, ok = attrValue(span, "schedule_id")
	require.True(t, ok)
	assert.Equal(t, "abc", v.AsString())
}

func TestTracing_MarksServerErrors(t *testing.T) {
	sr := setupTestTracer(t)
	r := tracedRouter(func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/schedules/x/execute", nil))

	span := findSpan(t, sr, "POST /schedules/:id/execute")
	assert.Equal(t, codes.Error, span.Status().Code)
}

func TestTracing_ClientErrorsStayUnset(t *testing.T) {
	sr := setupTestTracer(t)
	r := tracedRouter(func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/schedules/x/execute", nil))

	span := findSpan(t, sr, "POST /schedules/:id/execute")
	assert.NotEqual(t, codes.Error, span.Status().Code)
	v, ok := attrValue(span, "http.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(404), v.AsInt64())
}

func TestRequestID_Truncates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	long := make([]byte, MaxRequestIDLength+10)
	for i := range long {
		long[i] = 'a'
	}
	c.Request.Header.Set(logger.RequestIDHeader, string(long))

	assert.Len(t, requestID(c), MaxRequestIDLength)
}
