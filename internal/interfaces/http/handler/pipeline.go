package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/apiflow/backend/internal/domain/extraction"
	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/domain/shared"
	"github.com/apiflow/backend/internal/infrastructure/scheduler"
	"github.com/apiflow/backend/internal/interfaces/http/dto"
)

const defaultPreviewCount = 5

// Executor runs one schedule.
type Executor interface {
	Execute(ctx context.Context, scheduleID uuid.UUID, trigger pipeline.Trigger) *pipeline.ExecutionResult
}

// DueRunner runs every due schedule once.
type DueRunner interface {
	RunDue(ctx context.Context) (scheduler.RunSummary, error)
}

// CronPreviewer lists upcoming fire times.
type CronPreviewer interface {
	Preview(expr, timezone string, from time.Time, count int) ([]time.Time, error)
}

// RecordExtractor applies extraction rules to a decoded response.
type RecordExtractor interface {
	Extract(ctx context.Context, response any, spec *pipeline.Extract) ([]pipeline.Record, error)
}

// PipelineHandler exposes manual execution and dry-run previews.
type PipelineHandler struct {
	BaseHandler
	executor  Executor
	runner    DueRunner
	planner   CronPreviewer
	extractor RecordExtractor
	now       func() time.Time
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(executor Executor, runner DueRunner, planner CronPreviewer, extractor RecordExtractor) *PipelineHandler {
	return &PipelineHandler{
		executor:  executor,
		runner:    runner,
		planner:   planner,
		extractor: extractor,
		now:       time.Now,
	}
}

// RegisterRoutes mounts the pipeline endpoints under rg.
func (h *PipelineHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/schedules/:id/execute", h.Execute)
	rg.POST("/schedules/run-due", h.RunDue)
	rg.POST("/cron/preview", h.PreviewCron)
	rg.POST("/extracts/preview", h.PreviewExtract)
}

// Execute runs a schedule now. A failed run answers 422 with the result in
// data so callers see the failing stage.
//
// @ID           executeSchedule
// @Summary      Execute a schedule
// @Description  Runs the schedule's request, extraction and storage pipeline immediately
// @Tags         pipeline
// @Produce      json
// @Param        id   path      string  true  "Schedule ID" format(uuid)
// @Success      200  {object}  dto.Response{data=pipeline.ExecutionResult}
// @Failure      400  {object}  dto.Response
// @Failure      422  {object}  dto.Response{data=pipeline.ExecutionResult}
// @Router       /schedules/{id}/execute [post]
func (h *PipelineHandler) Execute(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	res := h.executor.Execute(c.Request.Context(), id, pipeline.TriggerManual)
	if !res.Success {
		c.JSON(dto.GetHTTPStatus(dto.ErrCodeExecutionFailed),
			dto.NewFailedResultResponse(dto.ErrCodeExecutionFailed, res.Message, requestID(c), res))
		return
	}
	h.Success(c, res)
}

// RunDue fires every due cron schedule once, with retries.
//
// @ID           runDueSchedules
// @Summary      Run due schedules
// @Description  Fires every active cron schedule whose next execution has passed
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  dto.Response{data=scheduler.RunSummary}
// @Failure      503  {object}  dto.Response
// @Router       /schedules/run-due [post]
func (h *PipelineHandler) RunDue(c *gin.Context) {
	summary, err := h.runner.RunDue(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// PreviewCron lists the next fire times of an expression.
//
// @ID           previewCron
// @Summary      Preview a cron expression
// @Description  Lists upcoming fire times in the given timezone
// @Tags         pipeline
// @Accept       json
// @Produce      json
// @Param        request  body      dto.CronPreviewRequest  true  "Expression and timezone"
// @Success      200      {object}  dto.Response{data=dto.CronPreviewResponse}
// @Failure      400      {object}  dto.Response
// @Router       /cron/preview [post]
func (h *PipelineHandler) PreviewCron(c *gin.Context) {
	var req dto.CronPreviewRequest
	if !h.BindJSON(c, &req) {
		return
	}
	count := req.Count
	if count == 0 {
		count = defaultPreviewCount
	}
	from := h.now()
	if req.From != nil {
		from = *req.From
	}

	times, err := h.planner.Preview(req.Expression, req.Timezone, from, count)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.CronPreviewResponse{
		Expression: req.Expression,
		Normalized: scheduler.NormalizeExpression(req.Expression),
		Timezone:   req.Timezone,
		FireTimes:  times,
	})
}

// PreviewExtract runs extraction rules over a sample response body.
//
// @ID           previewExtract
// @Summary      Preview extraction rules
// @Description  Applies extraction paths to a sample response without calling any API or writing rows
// @Tags         pipeline
// @Accept       json
// @Produce      json
// @Param        request  body      dto.ExtractPreviewRequest  true  "Sample response and rules"
// @Success      200      {object}  dto.Response{data=dto.ExtractPreviewResponse}
// @Failure      400      {object}  dto.Response
// @Failure      422      {object}  dto.Response
// @Router       /extracts/preview [post]
func (h *PipelineHandler) PreviewExtract(c *gin.Context) {
	var req dto.ExtractPreviewRequest
	if !h.BindJSON(c, &req) {
		return
	}
	spec := req.Extract()
	if err := shared.ValidateStruct(spec); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := spec.Validate(); err != nil {
		h.HandleError(c, shared.ErrInvalidConfiguration.Wrap(err))
		return
	}

	decoded, err := extraction.DecodeJSON(req.Response)
	if err != nil {
		h.Error(c, dto.ErrCodeInvalidJSON, err.Error())
		return
	}
	records, err := h.extractor.Extract(c.Request.Context(), decoded, spec)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if records == nil {
		records = []pipeline.Record{}
	}
	h.Success(c, dto.ExtractPreviewResponse{Count: len(records), Records: records})
}
