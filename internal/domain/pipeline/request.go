package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Request is a request template issued against a Source.
type Request struct {
	ID             uuid.UUID
	SourceID       uuid.UUID `validate:"required"`
	Name           string
	Method         string
	Path           string
	PathParams     []NameValue
	QueryParams    []NameValue
	Headers        []KeyValue
	Body           string
	BodyFormat     BodyFormat
	LastExecutedAt *time.Time
}

// HTTPMethod returns the upper-cased method, GET when unset.
func (r *Request) HTTPMethod() string {
	return normalizeMethod(r.Method)
}

// CarriesBody reports whether the method sends a request body.
func (r *Request) CarriesBody() bool {
	switch r.HTTPMethod() {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// EffectiveBodyFormat defaults to json.
func (r *Request) EffectiveBodyFormat() BodyFormat {
	if r.BodyFormat == "" {
		return BodyFormatJSON
	}
	return r.BodyFormat
}
