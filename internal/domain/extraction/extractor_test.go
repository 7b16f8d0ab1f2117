package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

func newTestExtractor(logger *zap.Logger) *Extractor {
	coercer := NewCoercer(clockwork.NewFakeClock(), time.UTC)
	return NewExtractor(coercer, NewTransformRegistry(), logger)
}

func idNameSpec() *pipeline.Extract {
	return &pipeline.Extract{
		ID:            uuid.New(),
		RootArrayPath: "data",
		ExtractionPaths: []pipeline.ExtractionPath{
			{Name: "id", Path: "id", DataType: pipeline.DataTypeNumber},
			{Name: "name", Path: "name", DataType: pipeline.DataTypeString},
		},
	}
}

func TestExtractor_RoundTrip(t *testing.T) {
	response, err := DecodeJSON([]byte(`{"data":[{"id":1,"name":"a"},{"id":2,"name":"b"}]}`))
	require.NoError(t, err)

	records, err := newTestExtractor(nil).Extract(context.Background(), response, idNameSpec())
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Record{
		{"id": float64(1), "name": "a"},
		{"id": float64(2), "name": "b"},
	}, records)
}

func TestExtractor_DateFormatFallsBackToCoercerDefault(t *testing.T) {
	coercer := NewCoercer(clockwork.NewFakeClock(), time.UTC, WithDefaultDateFormat("YYYYMMDD"))
	extractor := NewExtractor(coercer, nil, nil)
	response := map[string]any{"data": []any{map[string]any{"at": "2024-03-09T12:00:00Z"}}}
	spec := &pipeline.Extract{
		RootArrayPath:   "data",
		ExtractionPaths: []pipeline.ExtractionPath{{Name: "at", Path: "at", DataType: pipeline.DataTypeDate}},
	}

	records, err := extractor.Extract(context.Background(), response, spec)
	require.NoError(t, err)
	assert.Equal(t, "20240309", records[0]["at"])

	spec.DateFormat = "DD/MM/YYYY"
	records, err = extractor.Extract(context.Background(), response, spec)
	require.NoError(t, err)
	assert.Equal(t, "09/03/2024", records[0]["at"])
}

func TestExtractor_ResolvesPathsAgainstEachItem(t *testing.T) {
	response := map[string]any{
		"result": map[string]any{
			"orders": []any{
				map[string]any{"id": "A-1", "customer": map[string]any{"email": "a@example.com"}, "lines": []any{map[string]any{"sku": "X"}}},
				map[string]any{"id": "A-2"},
			},
		},
	}
	spec := &pipeline.Extract{
		RootArrayPath:     "result.orders",
		NullValueHandling: pipeline.NullEmpty,
		ExtractionPaths: []pipeline.ExtractionPath{
			{Name: "order_id", Path: "id"},
			{Name: "email", Path: "customer.email", DataType: pipeline.DataTypeString},
			{Name: "first_sku", Path: "lines[0].sku", DataType: pipeline.DataTypeString},
			{Name: "total", Path: "total", DataType: pipeline.DataTypeNumber},
		},
	}

	records, err := newTestExtractor(nil).Extract(context.Background(), response, spec)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, pipeline.Record{"order_id": "A-1", "email": "a@example.com", "first_sku": "X", "total": nil}, records[0])
	assert.Equal(t, pipeline.Record{"order_id": "A-2", "email": "", "first_sku": "", "total": nil}, records[1])
}

func TestExtractor_WrapsSingleObject(t *testing.T) {
	response := map[string]any{"data": map[string]any{"id": 7, "name": "solo"}}

	records, err := newTestExtractor(nil).Extract(context.Background(), response, idNameSpec())
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Record{{"id": float64(7), "name": "solo"}}, records)
}

func TestExtractor_WholeResponseWithoutRootPath(t *testing.T) {
	spec := idNameSpec()
	spec.RootArrayPath = ""
	response := []any{map[string]any{"id": 1, "name": "a"}}

	records, err := newTestExtractor(nil).Extract(context.Background(), response, spec)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExtractor_Failures(t *testing.T) {
	ex := newTestExtractor(nil)

	_, err := ex.Extract(context.Background(), nil, idNameSpec())
	assert.ErrorIs(t, err, pipeline.ErrEmptyResponse)

	_, err = ex.Extract(context.Background(), map[string]any{"items": []any{}}, idNameSpec())
	assert.ErrorIs(t, err, pipeline.ErrRootNotFound)

	_, err = ex.Extract(context.Background(), map[string]any{"data": nil}, idNameSpec())
	assert.ErrorIs(t, err, pipeline.ErrRootNotFound)
}

func TestExtractor_EmptyPathsProduceNoRecords(t *testing.T) {
	spec := &pipeline.Extract{RootArrayPath: "data"}
	records, err := newTestExtractor(nil).Extract(context.Background(), map[string]any{"data": []any{1, 2}}, spec)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExtractor_Transform(t *testing.T) {
	response := map[string]any{"data": []any{
		map[string]any{"id": 1, "name": "a"},
		map[string]any{"id": 2, "name": "b"},
	}}

	t.Run("expression transform applies", func(t *testing.T) {
		spec := idNameSpec()
		spec.TransformScript = "name = upper(name)\nwhere id > 1"

		records, err := newTestExtractor(nil).Extract(context.Background(), response, spec)
		require.NoError(t, err)
		assert.Equal(t, []pipeline.Record{{"id": float64(2), "name": "B"}}, records)
	})

	t.Run("failing transform keeps original records", func(t *testing.T) {
		core, recorded := observer.New(zapcore.WarnLevel)
		spec := idNameSpec()
		spec.TransformScript = "missing_field > 3 ? 1 : 0 +"

		records, err := newTestExtractor(zap.New(core)).Extract(context.Background(), response, spec)
		require.NoError(t, err)
		assert.Equal(t, []pipeline.Record{
			{"id": float64(1), "name": "a"},
			{"id": float64(2), "name": "b"},
		}, records)
		assert.Equal(t, 1, recorded.Len())
	})

	t.Run("panicking function keeps original records", func(t *testing.T) {
		ex := newTestExtractor(nil)
		ex.transforms.Register("explode", func(context.Context, []pipeline.Record, string) ([]pipeline.Record, error) {
			panic("boom")
		})
		spec := idNameSpec()
		spec.TransformScript = "fn:explode"

		records, err := ex.Extract(context.Background(), response, spec)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("erroring function keeps original records", func(t *testing.T) {
		ex := newTestExtractor(nil)
		ex.transforms.Register("fail", func(_ context.Context, recs []pipeline.Record, _ string) ([]pipeline.Record, error) {
			recs[0]["name"] = "mutated"
			return nil, errors.New("nope")
		})
		spec := idNameSpec()
		spec.TransformScript = "fn:fail"

		records, err := ex.Extract(context.Background(), response, spec)
		require.NoError(t, err)
		assert.Equal(t, "a", records[0]["name"])
	})
}

func TestRawRecords(t *testing.T) {
	assert.Equal(t, []pipeline.Record{{"a": 1}}, RawRecords(map[string]any{"a": 1}))
	assert.Equal(t, []pipeline.Record{{"a": 1}, {"value": "x"}}, RawRecords([]any{map[string]any{"a": 1}, "x"}))
	assert.Equal(t, []pipeline.Record{{"value": float64(3)}}, RawRecords(float64(3)))
	assert.Empty(t, RawRecords(nil))
}
