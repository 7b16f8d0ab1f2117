package dto

import (
	"encoding/json"
	"time"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// CronPreviewRequest asks for the upcoming fire times of an expression.
type CronPreviewRequest struct {
	Expression string     `json:"expression"`
	Timezone   string     `json:"timezone"`
	Count      int        `json:"count" binding:"omitempty,min=1,max=50"`
	From       *time.Time `json:"from"`
}

// CronPreviewResponse lists fire times in the requested timezone.
type CronPreviewResponse struct {
	Expression string      `json:"expression"`
	Normalized string      `json:"normalized"`
	Timezone   string      `json:"timezone,omitempty"`
	FireTimes  []time.Time `json:"fireTimes"`
}

// ExtractPreviewRequest runs extraction rules against a sample response
// without calling any API.
type ExtractPreviewRequest struct {
	Response          json.RawMessage           `json:"response" binding:"required"`
	RootArrayPath     string                    `json:"rootArrayPath"`
	ExtractionPaths   []pipeline.ExtractionPath `json:"extractionPaths" binding:"required,min=1,dive"`
	NullValueHandling string                    `json:"nullValueHandling" binding:"omitempty,oneof=keep empty default"`
	DateFormat        string                    `json:"dateFormat"`
	TransformScript   string                    `json:"transformScript"`
}

// Extract converts the request into extraction rules.
func (r ExtractPreviewRequest) Extract() *pipeline.Extract {
	return &pipeline.Extract{
		RootArrayPath:     r.RootArrayPath,
		ExtractionPaths:   r.ExtractionPaths,
		NullValueHandling: pipeline.NullValueHandling(r.NullValueHandling),
		DateFormat:        r.DateFormat,
		TransformScript:   r.TransformScript,
	}
}

// ExtractPreviewResponse holds the records extraction produced.
type ExtractPreviewResponse struct {
	Count   int               `json:"count"`
	Records []pipeline.Record `json:"records"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Scheduler bool              `json:"scheduler"`
	Uptime    string            `json:"uptime"`
}
