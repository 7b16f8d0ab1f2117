package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/scheduler"
	"github.com/apiflow/backend/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) Execute(ctx context.Context, id uuid.UUID, trigger pipeline.Trigger) *pipeline.ExecutionResult {
	return m.Called(ctx, id, trigger).Get(0).(*pipeline.ExecutionResult)
}

type mockRunner struct{ mock.Mock }

func (m *mockRunner) RunDue(ctx context.Context) (scheduler.RunSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(scheduler.RunSummary), args.Error(1)
}

type mockPreviewer struct{ mock.Mock }

func (m *mockPreviewer) Preview(expr, tz string, from time.Time, count int) ([]time.Time, error) {
	args := m.Called(expr, tz, from, count)
	times, _ := args.Get(0).([]time.Time)
	return times, args.Error(1)
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, response any, spec *pipeline.Extract) ([]pipeline.Record, error) {
	args := m.Called(ctx, response, spec)
	recs, _ := args.Get(0).([]pipeline.Record)
	return recs, args.Error(1)
}

type pipelineTestEnv struct {
	executor  *mockExecutor
	runner    *mockRunner
	planner   *mockPreviewer
	extractor *mockExtractor
	router    *gin.Engine
	now       time.Time
}

func newPipelineTestEnv() *pipelineTestEnv {
	env := &pipelineTestEnv{
		executor:  &mockExecutor{},
		runner:    &mockRunner{},
		planner:   &mockPreviewer{},
		extractor: &mockExtractor{},
		now:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	h := NewPipelineHandler(env.executor, env.runner, env.planner, env.extractor)
	h.now = func() time.Time { return env.now }
	env.router = gin.New()
	h.RegisterRoutes(env.router.Group("/api/v1"))
	return env
}

func (env *pipelineTestEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestExecute_Success(t *testing.T) {
	env := newPipelineTestEnv()
	id := uuid.New()
	env.executor.On("Execute", mock.Anything, id, pipeline.TriggerManual).
		Return(&pipeline.ExecutionResult{ScheduleID: id, Success: true, Stage: pipeline.StageCompleted, Message: "API call returned 200"})

	w, resp := env.do(t, http.MethodPost, "/api/v1/schedules/"+id.String()+"/execute", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, id.String(), data["scheduleId"])
	assert.Equal(t, "completed", data["stage"])
}

func TestExecute_FailedRun(t *testing.T) {
	env := newPipelineTestEnv()
	id := uuid.New()
	env.executor.On("Execute", mock.Anything, id, pipeline.TriggerManual).
		Return(pipeline.Failed(pipeline.StageAPICall, errors.New("unexpected status 500"), nil))

	w, resp := env.do(t, http.MethodPost, "/api/v1/schedules/"+id.String()+"/execute", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeExecutionFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "api_call")
	assert.Equal(t, "api_call", resp.Data.(map[string]any)["stage"])
}

func TestExecute_InvalidID(t *testing.T) {
	env := newPipelineTestEnv()

	w, resp := env.do(t, http.MethodPost, "/api/v1/schedules/not-a-uuid/execute", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	env.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunDue(t *testing.T) {
	t.Run("summary", func(t *testing.T) {
		env := newPipelineTestEnv()
		env.runner.On("RunDue", mock.Anything).Return(scheduler.RunSummary{Due: 3, Succeeded: 2, Failed: 1, Retries: 2}, nil)

		w, resp := env.do(t, http.MethodPost, "/api/v1/schedules/run-due", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(3), data["due"])
		assert.Equal(t, float64(2), data["retries"])
	})

	t.Run("store unavailable", func(t *testing.T) {
		env := newPipelineTestEnv()
		env.runner.On("RunDue", mock.Anything).
			Return(scheduler.RunSummary{}, fmt.Errorf("list due: %w", pipeline.ErrStorageUnavailable))

		w, resp := env.do(t, http.MethodPost, "/api/v1/schedules/run-due", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)
	})

	t.Run("internal error hides details", func(t *testing.T) {
		env := newPipelineTestEnv()
		env.runner.On("RunDue", mock.Anything).Return(scheduler.RunSummary{}, errors.New("pq: secret detail"))

		w, resp := env.do(t, http.MethodPost, "/api/v1/schedules/run-due", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, resp.Error.Message, "secret")
	})
}

func TestPreviewCron(t *testing.T) {
	t.Run("defaults count and start", func(t *testing.T) {
		env := newPipelineTestEnv()
		times := []time.Time{env.now.Add(5 * time.Minute), env.now.Add(10 * time.Minute)}
		env.planner.On("Preview", "0 */5 * * * *", "UTC", env.now, defaultPreviewCount).Return(times, nil)

		w, resp := env.do(t, http.MethodPost, "/api/v1/cron/preview", map[string]any{
			"expression": "0 */5 * * * *",
			"timezone":   "UTC",
		})

		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "*/5 * * * *", data["normalized"])
		assert.Len(t, data["fireTimes"], 2)
	})

	t.Run("explicit start", func(t *testing.T) {
		env := newPipelineTestEnv()
		from := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
		env.planner.On("Preview", "@daily", "", mock.MatchedBy(from.Equal), 3).Return([]time.Time{}, nil)

		w, _ := env.do(t, http.MethodPost, "/api/v1/cron/preview", map[string]any{
			"expression": "@daily",
			"count":      3,
			"from":       from,
		})

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid expression", func(t *testing.T) {
		env := newPipelineTestEnv()
		env.planner.On("Preview", "bogus", "", env.now, defaultPreviewCount).
			Return(nil, fmt.Errorf("%w: bogus", pipeline.ErrInvalidCronExpr))

		w, resp := env.do(t, http.MethodPost, "/api/v1/cron/preview", map[string]any{"expression": "bogus"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidCron, resp.Error.Code)
	})

	t.Run("count out of range", func(t *testing.T) {
		env := newPipelineTestEnv()

		w, resp := env.do(t, http.MethodPost, "/api/v1/cron/preview", map[string]any{"expression": "* * * * *", "count": 500})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newPipelineTestEnv()

		w, resp := env.do(t, http.MethodPost, "/api/v1/cron/preview", "{not json")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
	})
}

func TestPreviewExtract(t *testing.T) {
	paths := []map[string]any{{"name": "id", "path": "id", "dataType": "number"}}

	t.Run("returns records", func(t *testing.T) {
		env := newPipelineTestEnv()
		env.extractor.On("Extract", mock.Anything, mock.Anything, mock.MatchedBy(func(spec *pipeline.Extract) bool {
			return spec.RootArrayPath == "data" && len(spec.ExtractionPaths) == 1
		})).Return([]pipeline.Record{{"id": float64(1)}, {"id": float64(2)}}, nil)

		w, resp := env.do(t, http.MethodPost, "/api/v1/extracts/preview", map[string]any{
			"response":        map[string]any{"data": []any{map[string]any{"id": 1}, map[string]any{"id": 2}}},
			"rootArrayPath":   "data",
			"extractionPaths": paths,
		})

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(2), data["count"])
	})

	t.Run("missing root", func(t *testing.T) {
		env := newPipelineTestEnv()
		env.extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: %q", pipeline.ErrRootNotFound, "data"))

		w, resp := env.do(t, http.MethodPost, "/api/v1/extracts/preview", map[string]any{
			"response":        map[string]any{},
			"rootArrayPath":   "data",
			"extractionPaths": paths,
		})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeExtractionFailed, resp.Error.Code)
	})

	t.Run("unknown data type", func(t *testing.T) {
		env := newPipelineTestEnv()

		w, resp := env.do(t, http.MethodPost, "/api/v1/extracts/preview", map[string]any{
			"response":        []any{},
			"extractionPaths": []map[string]any{{"name": "id", "path": "id", "dataType": "money"}},
		})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidConfiguration, resp.Error.Code)
		env.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no extraction paths", func(t *testing.T) {
		env := newPipelineTestEnv()

		w, resp := env.do(t, http.MethodPost, "/api/v1/extracts/preview", map[string]any{
			"response":        []any{},
			"extractionPaths": []any{},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})
}
