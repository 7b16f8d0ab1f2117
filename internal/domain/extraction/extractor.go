package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// Extractor turns a decoded response into records following an Extract.
type Extractor struct {
	coercer    *Coercer
	transforms *TransformRegistry
	logger     *zap.Logger
}

// NewExtractor creates an Extractor. transforms may be nil, in which case
// transform scripts are ignored.
func NewExtractor(coercer *Coercer, transforms *TransformRegistry, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{coercer: coercer, transforms: transforms, logger: logger}
}

// Extract builds one record per item of the root array. A missing response
// or root array is an error; everything else degrades per field to nil.
func (e *Extractor) Extract(ctx context.Context, response any, spec *pipeline.Extract) ([]pipeline.Record, error) {
	if response == nil {
		return nil, pipeline.ErrEmptyResponse
	}
	rootData := response
	if spec.RootArrayPath != "" {
		resolved, ok := Resolve(response, spec.RootArrayPath)
		if !ok || resolved == nil {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrRootNotFound, spec.RootArrayPath)
		}
		rootData = resolved
	}

	items, ok := rootData.([]any)
	if !ok {
		items = []any{rootData}
	}
	if len(spec.ExtractionPaths) == 0 {
		return []pipeline.Record{}, nil
	}

	policy := spec.EffectiveNullHandling()
	dateFormat := spec.EffectiveDateFormat(e.coercer.DefaultDateFormat())
	records := make([]pipeline.Record, 0, len(items))
	missingRequired := 0
	for _, item := range items {
		rec := make(pipeline.Record, len(spec.ExtractionPaths))
		for _, p := range spec.ExtractionPaths {
			raw, found := Resolve(item, p.Path)
			if p.Required && (!found || raw == nil) {
				missingRequired++
			}
			rec[p.Name] = e.coercer.Coerce(raw, p.EffectiveDataType(), policy, dateFormat)
		}
		records = append(records, rec)
	}
	if missingRequired > 0 {
		e.logger.Debug("required fields missing from response items",
			zap.String("extract_id", spec.ID.String()),
			zap.Int("missing", missingRequired),
		)
	}

	if spec.TransformScript == "" || e.transforms == nil {
		return records, nil
	}
	transformed, err := e.transforms.Apply(ctx, records, spec.TransformScript)
	if err != nil {
		e.logger.Warn("transform failed, keeping untransformed records",
			zap.String("extract_id", spec.ID.String()),
			zap.Error(err),
		)
		return records, nil
	}
	return transformed, nil
}

// RawRecords converts a decoded response into records without extraction
// rules: objects become records as-is and other values are stored under
// "value".
func RawRecords(response any) []pipeline.Record {
	toRecord := func(v any) pipeline.Record {
		if m, ok := v.(map[string]any); ok {
			return pipeline.Record(m)
		}
		return pipeline.Record{"value": v}
	}
	switch v := response.(type) {
	case nil:
		return []pipeline.Record{}
	case []any:
		out := make([]pipeline.Record, 0, len(v))
		for _, item := range v {
			out = append(out, toRecord(item))
		}
		return out
	default:
		return []pipeline.Record{toRecord(v)}
	}
}
