package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionData carries the details of one pipeline run.
type ExecutionData struct {
	StatusCode       int         `json:"statusCode,omitempty"`
	RecordsExtracted int         `json:"recordsExtracted"`
	Write            *WriteStats `json:"write,omitempty"`
	StartedAt        time.Time   `json:"startedAt"`
	DurationMs       int64       `json:"durationMs"`
	NextExecutionAt  *time.Time  `json:"nextExecutionAt,omitempty"`
	ArchiveKey       string      `json:"archiveKey,omitempty"`
}

// ExecutionResult is returned by every pipeline run, successful or not.
type ExecutionResult struct {
	ScheduleID  uuid.UUID      `json:"scheduleId"`
	ExecutionID uuid.UUID      `json:"executionId"`
	Trigger     Trigger        `json:"trigger,omitempty"`
	Success     bool           `json:"success"`
	Stage       Stage          `json:"stage"`
	Message     string         `json:"message"`
	Data        *ExecutionData `json:"data,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(message string, data *ExecutionData) *ExecutionResult {
	return &ExecutionResult{Success: true, Stage: StageCompleted, Message: message, Data: data}
}

// Failed builds a failed result whose message is prefixed with the stage.
func Failed(stage Stage, err error, data *ExecutionData) *ExecutionResult {
	msg := string(stage)
	if err != nil {
		msg = fmt.Sprintf("%s: %s", stage, err.Error())
	}
	return &ExecutionResult{Success: false, Stage: stage, Message: msg, Data: data}
}
