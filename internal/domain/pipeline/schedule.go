package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Schedule binds a Source/Request/Extract/Destination chain to a cadence.
type Schedule struct {
	ID              uuid.UUID
	Name            string
	ScheduleType    ScheduleType
	Enabled         bool
	CronExpression  string
	Timezone        string
	MaxRetries      int
	RetryDelay      int
	RetryDelayUnit  RetryDelayUnit
	Status          ScheduleStatus
	SourceID        *uuid.UUID
	RequestID       *uuid.UUID
	ExtractID       *uuid.UUID
	DestinationID   *uuid.UUID
	LastExecutedAt  *time.Time
	NextExecutionAt *time.Time
	ExecutionCount  int
	FailureCount    int
}

// IsCron reports whether the schedule fires on a cron expression.
func (s *Schedule) IsCron() bool {
	return s.ScheduleType == ScheduleCron
}

// IsActive reports whether the schedule may run at all.
func (s *Schedule) IsActive() bool {
	return s.Enabled && (s.Status == "" || s.Status == ScheduleActive)
}

// IsDue reports whether an active cron schedule should fire at now. A
// schedule that never ran fires immediately. One that ran but has no next
// execution could not be planned and stays idle until it is re-armed by
// setting NextExecutionAt.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.IsActive() || !s.IsCron() {
		return false
	}
	if s.NextExecutionAt == nil {
		return s.LastExecutedAt == nil
	}
	return !s.NextExecutionAt.After(now)
}

// RetryBackoff is RetryDelay expressed in RetryDelayUnit. Unknown units
// count as seconds.
func (s *Schedule) RetryBackoff() time.Duration {
	if s.RetryDelay <= 0 {
		return 0
	}
	unit := time.Second
	switch s.RetryDelayUnit {
	case RetryMinutes:
		unit = time.Minute
	case RetryHours:
		unit = time.Hour
	}
	return time.Duration(s.RetryDelay) * unit
}

// RecordExecution applies the bookkeeping of one run attempt.
func (s *Schedule) RecordExecution(at time.Time, next *time.Time, success bool) {
	executedAt := at
	s.LastExecutedAt = &executedAt
	s.NextExecutionAt = next
	if success {
		s.ExecutionCount++
	} else {
		s.FailureCount++
	}
}
