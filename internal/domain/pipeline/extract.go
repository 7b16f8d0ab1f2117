package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultDateFormat is used when an Extract has no date format.
const DefaultDateFormat = "YYYY-MM-DD HH:mm:ss"

// ExtractionPath maps one response field to one output field.
type ExtractionPath struct {
	Name     string   `json:"name" validate:"required"`
	Path     string   `json:"path" validate:"required"`
	DataType DataType `json:"dataType"`
	Required bool     `json:"required"`
}

// EffectiveDataType defaults to string.
func (p ExtractionPath) EffectiveDataType() DataType {
	if p.DataType == "" {
		return DataTypeString
	}
	return p.DataType
}

// Extract holds the rules turning a response into records.
type Extract struct {
	ID                uuid.UUID
	RequestID         uuid.UUID
	RootArrayPath     string
	ExtractionPaths   []ExtractionPath `validate:"required,min=1,dive"`
	NullValueHandling NullValueHandling
	DateFormat        string
	TransformScript   string
	LastExecutedAt    *time.Time
}

// EffectiveNullHandling defaults to keep.
func (e *Extract) EffectiveNullHandling() NullValueHandling {
	if e.NullValueHandling == "" {
		return NullKeep
	}
	return e.NullValueHandling
}

// EffectiveDateFormat defaults to fallback, then to DefaultDateFormat.
func (e *Extract) EffectiveDateFormat(fallback string) string {
	if e.DateFormat == "" {
		if fallback != "" {
			return fallback
		}
		return DefaultDateFormat
	}
	return e.DateFormat
}

// Validate checks the extraction paths and enums.
func (e *Extract) Validate() error {
	if len(e.ExtractionPaths) == 0 {
		return fmt.Errorf("extract %s: no extraction paths", e.ID)
	}
	for i, p := range e.ExtractionPaths {
		if p.Name == "" || p.Path == "" {
			return fmt.Errorf("extract %s: extraction path %d needs a name and a path", e.ID, i)
		}
		if !p.EffectiveDataType().IsValid() {
			return fmt.Errorf("extract %s: extraction path %q has unknown data type %q", e.ID, p.Name, p.DataType)
		}
	}
	if !e.EffectiveNullHandling().IsValid() {
		return fmt.Errorf("extract %s: unknown null value handling %q", e.ID, e.NullValueHandling)
	}
	return nil
}
