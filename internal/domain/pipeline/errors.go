package pipeline

import "errors"

var (
	ErrDefinitionNotFound = errors.New("pipeline: definition not found")
	ErrMissingRequest     = errors.New("pipeline: schedule has no request")

	// Transport errors
	ErrTransport        = errors.New("pipeline: transport error")
	ErrUnexpectedStatus = errors.New("pipeline: unexpected http status")

	// Auth errors
	ErrTokenAcquisition = errors.New("pipeline: token acquisition failed")
	ErrTokenNotFound    = errors.New("pipeline: token not found at path")
	ErrMissingTokenConf = errors.New("pipeline: source uses token auth without a token config")

	// Extraction errors
	ErrEmptyResponse    = errors.New("pipeline: response is empty")
	ErrRootNotFound     = errors.New("pipeline: root array path not found")
	ErrUnknownTransform = errors.New("pipeline: unknown transform")

	// Storage errors
	ErrStorageUnavailable = errors.New("pipeline: destination storage unavailable")
	ErrInvalidIdentifier  = errors.New("pipeline: invalid identifier")
	ErrUnsupportedColumn  = errors.New("pipeline: unsupported column type")

	// Scheduling errors
	ErrInvalidCronExpr = errors.New("pipeline: invalid cron expression")
	ErrUnknownTimezone = errors.New("pipeline: unknown timezone")
)
