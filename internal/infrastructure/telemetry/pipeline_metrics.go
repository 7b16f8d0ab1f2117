package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the pipeline instruments.
const MeterName = "apiflow/pipeline"

// Token request outcomes.
const (
	TokenCacheHit  = "cache_hit"
	TokenAcquired  = "acquired"
	TokenRefreshed = "refreshed"
	TokenFailed    = "failed"
)

// PipelineMetrics groups the instruments recorded by an execution.
// All methods are safe on a nil receiver.
type PipelineMetrics struct {
	executions       *Counter
	recordsExtracted *Counter
	rowsWritten      *Counter
	tokenRequests    *Counter
	apiCalls         *Counter
	duration         *Histogram
}

// NewPipelineMetrics registers the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	executions, err := NewCounter(meter, "apiflow_executions_total",
		"Pipeline executions by terminal stage and status", "{execution}")
	if err != nil {
		return nil, err
	}
	records, err := NewCounter(meter, "apiflow_records_extracted_total",
		"Records produced by the extraction stage", "{record}")
	if err != nil {
		return nil, err
	}
	rows, err := NewCounter(meter, "apiflow_rows_written_total",
		"Destination rows by write outcome", "{row}")
	if err != nil {
		return nil, err
	}
	tokens, err := NewCounter(meter, "apiflow_token_requests_total",
		"Token lookups by result", "{request}")
	if err != nil {
		return nil, err
	}
	calls, err := NewCounter(meter, "apiflow_api_calls_total",
		"Outbound API calls by response status", "{call}")
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "apiflow_execution_duration_seconds",
		Description: "Wall time of a pipeline execution",
		Unit:        "s",
		Boundaries:  ExecutionDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return &PipelineMetrics{
		executions:       executions,
		recordsExtracted: records,
		rowsWritten:      rows,
		tokenRequests:    tokens,
		apiCalls:         calls,
		duration:         duration,
	}, nil
}

// RecordExecution counts one finished execution and its duration.
func (m *PipelineMetrics) RecordExecution(ctx context.Context, trigger, stage string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.executions.Inc(ctx, AttrTrigger.String(trigger), AttrStage.String(stage), AttrStatus.String(status))
	m.duration.RecordDuration(ctx, elapsed, AttrStatus.String(status))
}

func (m *PipelineMetrics) RecordExtracted(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsExtracted.Add(ctx, int64(n))
}

// RecordWrite counts inserted, updated and skipped rows.
func (m *PipelineMetrics) RecordWrite(ctx context.Context, inserted, updated, skipped int) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{"inserted": inserted, "updated": updated, "skipped": skipped} {
		if n > 0 {
			m.rowsWritten.Add(ctx, int64(n), AttrOutcome.String(outcome))
		}
	}
}

func (m *PipelineMetrics) RecordToken(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.tokenRequests.Inc(ctx, AttrResult.String(result))
}

// RecordAPICall counts an outbound API call. A zero status marks a
// transport failure.
func (m *PipelineMetrics) RecordAPICall(ctx context.Context, statusCode int) {
	if m == nil {
		return
	}
	m.apiCalls.Inc(ctx, AttrStatusCode.Int(statusCode))
}
