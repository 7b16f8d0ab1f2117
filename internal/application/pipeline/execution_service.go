// Package pipeline runs configured API ingestion pipelines: request, call,
// extract, store, then schedule bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/extraction"
	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/domain/shared"
	"github.com/apiflow/backend/internal/infrastructure/logger"
	"github.com/apiflow/backend/internal/infrastructure/telemetry"
)

// maxErrorBodyChars bounds how much of a non-2xx response body ends up in
// the failure message.
const maxErrorBodyChars = 200

// ExecutionService executes schedules. Each call to Execute runs the
// pipeline exactly once and always returns a result; retries belong to the
// caller.
type ExecutionService struct {
	store     pipeline.DefinitionStore
	builder   RequestBuilder
	sender    pipeline.HTTPSender
	extractor RecordExtractor
	writer    TableWriter
	planner   FireTimePlanner
	schema    SchemaEnsurer
	archiver  ResponseArchiver
	clock     clockwork.Clock
	metrics   *telemetry.PipelineMetrics
	logger    *zap.Logger
}

// Option configures an ExecutionService.
type Option func(*ExecutionService)

// WithSchemaEnsurer creates missing destination tables before writing.
func WithSchemaEnsurer(s SchemaEnsurer) Option {
	return func(e *ExecutionService) { e.schema = s }
}

// WithArchiver archives every successful response body.
func WithArchiver(a ResponseArchiver) Option {
	return func(e *ExecutionService) { e.archiver = a }
}

func WithClock(c clockwork.Clock) Option {
	return func(e *ExecutionService) { e.clock = c }
}

func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(e *ExecutionService) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *ExecutionService) { e.logger = l }
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(
	store pipeline.DefinitionStore,
	builder RequestBuilder,
	sender pipeline.HTTPSender,
	extractor RecordExtractor,
	writer TableWriter,
	planner FireTimePlanner,
	opts ...Option,
) *ExecutionService {
	s := &ExecutionService{
		store:     store,
		builder:   builder,
		sender:    sender,
		extractor: extractor,
		writer:    writer,
		planner:   planner,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// definitions is everything one execution reads from the store.
type definitions struct {
	schedule    *pipeline.Schedule
	request     *pipeline.Request
	source      *pipeline.Source
	extract     *pipeline.Extract
	destination *pipeline.Destination
}

// run is the mutable state of one execution.
type run struct {
	id      uuid.UUID
	trigger pipeline.Trigger
	stage   pipeline.Stage
	data    *pipeline.ExecutionData
}

// Execute runs the schedule once. Failures of any stage, panics included,
// come back as a failed result; the schedule's counters and timestamps are
// updated either way.
func (s *ExecutionService) Execute(ctx context.Context, scheduleID uuid.UUID, trigger pipeline.Trigger) (result *pipeline.ExecutionResult) {
	if trigger == "" {
		trigger = pipeline.TriggerManual
	}
	r := &run{
		id:      uuid.New(),
		trigger: trigger,
		stage:   pipeline.StageConfiguration,
		data:    &pipeline.ExecutionData{StartedAt: s.clock.Now()},
	}

	ctx = logger.EnsureContext(ctx, s.logger)
	ctx = logger.WithScheduleID(ctx, scheduleID.String())
	ctx = logger.WithExecutionID(ctx, r.id.String())
	ctx, span := telemetry.StartSpan(ctx, "pipeline.execute",
		telemetry.WithAttribute(telemetry.SpanAttrScheduleID, scheduleID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrExecutionID, r.id.String()),
		telemetry.WithAttribute(string(telemetry.AttrTrigger), string(trigger)),
	)
	defer span.End()

	var schedule *pipeline.Schedule
	defer func() {
		if p := recover(); p != nil {
			logger.L(ctx).Error("Execution panicked",
				zap.String("stage", r.stage.String()),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			result = s.finish(ctx, span, scheduleID, r, schedule,
				pipeline.Failed(r.stage, fmt.Errorf("internal error: %v", p), r.data))
		}
	}()

	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		schedule = nil
		return s.finish(ctx, span, scheduleID, r, nil,
			pipeline.Failed(pipeline.StageConfiguration, fmt.Errorf("load schedule: %w", err), r.data))
	}
	return s.finish(ctx, span, scheduleID, r, schedule, s.execute(ctx, r, schedule))
}

func (s *ExecutionService) execute(ctx context.Context, r *run, schedule *pipeline.Schedule) *pipeline.ExecutionResult {
	defs, err := s.load(ctx, schedule)
	if err != nil {
		return pipeline.Failed(pipeline.StageConfiguration, err, r.data)
	}

	r.stage = pipeline.StageAPICall
	resp, err := s.callAPI(ctx, r, defs)
	if err != nil {
		return pipeline.Failed(pipeline.StageAPICall, err, r.data)
	}

	r.stage = pipeline.StageExtraction
	decoded, decodeErr := extraction.DecodeJSON(resp.Body)
	var records []pipeline.Record
	if defs.extract != nil {
		if decodeErr != nil {
			return pipeline.Failed(pipeline.StageExtraction, decodeErr, r.data)
		}
		records, err = s.extractRecords(ctx, r, defs.extract, decoded)
		if err != nil {
			return pipeline.Failed(pipeline.StageExtraction, err, r.data)
		}
	} else if defs.destination != nil {
		if decodeErr != nil {
			decoded = string(resp.Body)
		}
		records = extraction.RawRecords(decoded)
	}

	if defs.destination != nil {
		r.stage = pipeline.StageStorage
		if err := s.persist(ctx, r, defs.destination, records); err != nil {
			return pipeline.Failed(pipeline.StageStorage, err, r.data)
		}
	}

	r.stage = pipeline.StageCompleted
	return pipeline.Succeeded(summarize(r.data), r.data)
}

// load reads and validates the definitions a schedule points at.
func (s *ExecutionService) load(ctx context.Context, schedule *pipeline.Schedule) (*definitions, error) {
	defs := &definitions{schedule: schedule}
	if schedule.RequestID == nil || *schedule.RequestID == uuid.Nil {
		return nil, pipeline.ErrMissingRequest
	}

	var err error
	if defs.request, err = s.store.GetRequest(ctx, *schedule.RequestID); err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	sourceID := defs.request.SourceID
	if schedule.SourceID != nil && *schedule.SourceID != uuid.Nil {
		sourceID = *schedule.SourceID
	}
	if defs.source, err = s.store.GetSource(ctx, sourceID); err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	if err := validate(defs.source, defs.source.Validate); err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(defs.request); err != nil {
		return nil, fmt.Errorf("request %s: %w", defs.request.ID, err)
	}

	if schedule.ExtractID != nil && *schedule.ExtractID != uuid.Nil {
		if defs.extract, err = s.store.GetExtract(ctx, *schedule.ExtractID); err != nil {
			return nil, fmt.Errorf("load extract: %w", err)
		}
		if err := validate(defs.extract, defs.extract.Validate); err != nil {
			return nil, err
		}
	}
	if schedule.DestinationID != nil && *schedule.DestinationID != uuid.Nil {
		if defs.destination, err = s.store.GetDestination(ctx, *schedule.DestinationID); err != nil {
			return nil, fmt.Errorf("load destination: %w", err)
		}
		if err := defs.destination.Validate(); err != nil {
			return nil, shared.ErrInvalidConfiguration.Wrap(err)
		}
	}
	return defs, nil
}

// validate runs the struct tags of v and then its own checks.
func validate(v any, check func() error) error {
	if err := shared.ValidateStruct(v); err != nil {
		return err
	}
	if err := check(); err != nil {
		return shared.ErrInvalidConfiguration.Wrap(err)
	}
	return nil
}

func (s *ExecutionService) callAPI(ctx context.Context, r *run, defs *definitions) (*pipeline.HTTPResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.api_call",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrRequestID, defs.request.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSourceID, defs.source.ID.String()),
	)
	defer span.End()

	out, err := s.builder.Build(ctx, defs.request, defs.source)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp, err := s.sender.Send(ctx, out)
	if err != nil {
		s.metrics.RecordAPICall(ctx, 0)
		telemetry.RecordError(span, err)
		return nil, err
	}
	r.data.StatusCode = resp.StatusCode
	s.metrics.RecordAPICall(ctx, resp.StatusCode)
	telemetry.SetAttributes(span, string(telemetry.AttrStatusCode), resp.StatusCode)

	now := s.clock.Now()
	if err := s.store.TouchSource(ctx, defs.source.ID, now); err != nil {
		logger.L(ctx).Warn("Failed to stamp source usage", zap.Error(err))
	}
	if !resp.IsSuccess() {
		err := fmt.Errorf("%w: %d %s", pipeline.ErrUnexpectedStatus, resp.StatusCode, snippet(resp.Body))
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.store.MarkRequestExecuted(ctx, defs.request.ID, now); err != nil {
		logger.L(ctx).Warn("Failed to stamp request execution", zap.Error(err))
	}

	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, defs.schedule.ID, r.id, resp.Body)
		if err != nil {
			logger.L(ctx).Warn("Failed to archive response", zap.Error(err))
		} else {
			r.data.ArchiveKey = key
		}
	}
	telemetry.SetOK(span)
	return resp, nil
}

func (s *ExecutionService) extractRecords(ctx context.Context, r *run, spec *pipeline.Extract, decoded any) ([]pipeline.Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.extract",
		telemetry.WithAttribute(telemetry.SpanAttrExtractID, spec.ID.String()),
	)
	defer span.End()

	records, err := s.extractor.Extract(ctx, decoded, spec)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	r.data.RecordsExtracted = len(records)
	s.metrics.RecordExtracted(ctx, len(records))
	telemetry.SetAttributes(span, telemetry.SpanAttrRecordCount, len(records))

	if err := s.store.MarkExtractExecuted(ctx, spec.ID, s.clock.Now()); err != nil {
		logger.L(ctx).Warn("Failed to stamp extract execution", zap.Error(err))
	}
	telemetry.SetOK(span)
	return records, nil
}

func (s *ExecutionService) persist(ctx context.Context, r *run, dest *pipeline.Destination, records []pipeline.Record) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.store",
		telemetry.WithAttribute(telemetry.SpanAttrDestinationID, dest.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrTable, dest.TableName),
		telemetry.WithAttribute(telemetry.SpanAttrRecordCount, len(records)),
	)
	defer span.End()

	if s.schema != nil {
		created, err := s.schema.EnsureTable(ctx, dest)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		if created && len(dest.PrimaryKeyColumns()) > 0 {
			dest.UniqueKeyEnforced = true
			if enforcer, ok := s.store.(destinationEnforcer); ok {
				if err := enforcer.MarkDestinationEnforced(ctx, dest.ID); err != nil {
					logger.L(ctx).Warn("Failed to record destination key constraint", zap.Error(err))
				}
			}
		}
	}

	stats, err := s.writer.Write(ctx, dest, records)
	r.data.Write = &stats
	s.metrics.RecordWrite(ctx, stats.Inserted, stats.Updated, stats.Skipped)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetOK(span)
	return nil
}

// finish stamps ids, updates schedule bookkeeping and reports the result.
func (s *ExecutionService) finish(
	ctx context.Context,
	span trace.Span,
	scheduleID uuid.UUID,
	r *run,
	schedule *pipeline.Schedule,
	res *pipeline.ExecutionResult,
) *pipeline.ExecutionResult {
	now := s.clock.Now()
	res.ScheduleID = scheduleID
	res.ExecutionID = r.id
	res.Trigger = r.trigger
	if res.Data == nil {
		res.Data = r.data
	}
	elapsed := now.Sub(r.data.StartedAt)
	res.Data.DurationMs = elapsed.Milliseconds()

	if schedule != nil {
		s.recordBookkeeping(ctx, schedule, now, res)
	}

	log := logger.L(ctx).With(
		zap.String("trigger", r.trigger.String()),
		zap.String("stage", res.Stage.String()),
		zap.Duration("elapsed", elapsed),
	)
	if res.Success {
		log.Info("Execution completed", zap.String("message", res.Message))
		telemetry.SetOK(span)
	} else {
		log.Warn("Execution failed", zap.String("error", res.Message))
		telemetry.RecordError(span, errors.New(res.Message))
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrStage, res.Stage.String())
	s.metrics.RecordExecution(ctx, r.trigger.String(), res.Stage.String(), res.Success, elapsed)
	return res
}

// recordBookkeeping persists lastExecutedAt, nextExecutionAt and the
// counters. Failures are logged and never change the result.
func (s *ExecutionService) recordBookkeeping(ctx context.Context, schedule *pipeline.Schedule, now time.Time, res *pipeline.ExecutionResult) {
	var next *time.Time
	if schedule.IsCron() && s.planner != nil {
		t, err := s.planner.NextFireTime(schedule.CronExpression, schedule.Timezone, now)
		if err == nil {
			next = &t
		} else {
			logger.L(ctx).Warn("Cannot plan next execution, schedule stays idle until re-armed",
				zap.String("cron_expression", schedule.CronExpression),
				zap.Error(err),
			)
		}
	}
	schedule.RecordExecution(now, next, res.Success)
	res.Data.NextExecutionAt = next

	// Bookkeeping must land even when the caller gave up on the run.
	if err := s.store.SaveScheduleBookkeeping(context.WithoutCancel(ctx), schedule); err != nil {
		logger.L(ctx).Error("Failed to save schedule bookkeeping", zap.Error(err))
	}
}

func summarize(data *pipeline.ExecutionData) string {
	msg := fmt.Sprintf("API call returned %d", data.StatusCode)
	if data.RecordsExtracted > 0 {
		msg += fmt.Sprintf(", %d records extracted", data.RecordsExtracted)
	}
	if w := data.Write; w != nil {
		msg += fmt.Sprintf(", %d inserted, %d updated, %d skipped", w.Inserted, w.Updated, w.Skipped)
	}
	return msg
}

func snippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	s := string(body)
	if utf8.RuneCountInString(s) <= maxErrorBodyChars {
		return s
	}
	return string([]rune(s)[:maxErrorBodyChars]) + "..."
}
