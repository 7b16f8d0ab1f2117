package dto

import (
	"errors"
	"net/http"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/domain/shared"
)

// Error codes. Format: ERR_<DESCRIPTION>.
const (
	ErrCodeInternal             = "ERR_INTERNAL"
	ErrCodeBadRequest           = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON          = "ERR_INVALID_JSON"
	ErrCodeValidation           = "ERR_VALIDATION"
	ErrCodeNotFound             = "ERR_NOT_FOUND"
	ErrCodeForbidden            = "ERR_FORBIDDEN"
	ErrCodeInvalidConfiguration = "ERR_INVALID_CONFIGURATION"
	ErrCodeInvalidCron          = "ERR_INVALID_CRON"
	ErrCodeExtractionFailed     = "ERR_EXTRACTION_FAILED"
	ErrCodeExecutionFailed      = "ERR_EXECUTION_FAILED"
	ErrCodeUnavailable          = "ERR_UNAVAILABLE"
	ErrCodeRequestTooLarge      = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:             http.StatusInternalServerError,
	ErrCodeBadRequest:           http.StatusBadRequest,
	ErrCodeInvalidJSON:          http.StatusBadRequest,
	ErrCodeValidation:           http.StatusBadRequest,
	ErrCodeNotFound:             http.StatusNotFound,
	ErrCodeForbidden:            http.StatusForbidden,
	ErrCodeInvalidConfiguration: http.StatusUnprocessableEntity,
	ErrCodeInvalidCron:          http.StatusBadRequest,
	ErrCodeExtractionFailed:     http.StatusUnprocessableEntity,
	ErrCodeExecutionFailed:      http.StatusUnprocessableEntity,
	ErrCodeUnavailable:          http.StatusServiceUnavailable,
	ErrCodeRequestTooLarge:      http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code, 500 when
// the code is unknown.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCode classifies err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrDefinitionNotFound), errors.Is(err, shared.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, pipeline.ErrInvalidCronExpr), errors.Is(err, pipeline.ErrUnknownTimezone):
		return ErrCodeInvalidCron
	case errors.Is(err, pipeline.ErrEmptyResponse), errors.Is(err, pipeline.ErrRootNotFound):
		return ErrCodeExtractionFailed
	case errors.Is(err, shared.ErrInvalidConfiguration),
		errors.Is(err, pipeline.ErrInvalidIdentifier),
		errors.Is(err, pipeline.ErrUnsupportedColumn):
		return ErrCodeInvalidConfiguration
	case errors.Is(err, pipeline.ErrStorageUnavailable):
		return ErrCodeUnavailable
	}
	return ErrCodeInternal
}
