package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// RequestBuilder renders a request template against its source.
type RequestBuilder interface {
	Build(ctx context.Context, req *pipeline.Request, src *pipeline.Source) (*pipeline.OutboundRequest, error)
}

// RecordExtractor turns a decoded response into records.
type RecordExtractor interface {
	Extract(ctx context.Context, response any, spec *pipeline.Extract) ([]pipeline.Record, error)
}

// TableWriter stores records in a destination table.
type TableWriter interface {
	Write(ctx context.Context, dest *pipeline.Destination, records []pipeline.Record) (pipeline.WriteStats, error)
}

// SchemaEnsurer creates destination tables that do not exist yet.
type SchemaEnsurer interface {
	EnsureTable(ctx context.Context, dest *pipeline.Destination) (bool, error)
}

// FireTimePlanner computes the next fire time of a cron schedule.
type FireTimePlanner interface {
	NextFireTime(expr, timezone string, from time.Time) (time.Time, error)
}

// ResponseArchiver keeps a copy of a raw response body.
type ResponseArchiver interface {
	Archive(ctx context.Context, scheduleID, executionID uuid.UUID, body []byte) (string, error)
}

// destinationEnforcer is implemented by stores that can record that a
// destination table carries a primary key constraint.
type destinationEnforcer interface {
	MarkDestinationEnforced(ctx context.Context, id uuid.UUID) error
}
