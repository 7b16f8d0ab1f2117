package pipeline

import "strings"

// AuthType selects how a Source authenticates outbound requests.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeAPIKey AuthType = "apiKey"
	AuthTypeToken  AuthType = "token"
)

// IsValid returns true if the auth type is known
func (t AuthType) IsValid() bool {
	switch t {
	case AuthTypeNone, AuthTypeBasic, AuthTypeBearer, AuthTypeAPIKey, AuthTypeToken:
		return true
	}
	return false
}

// APIKeyLocation says where an API key is sent.
type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
)

// IsValid returns true if the location is known
func (l APIKeyLocation) IsValid() bool {
	return l == APIKeyInHeader || l == APIKeyInQuery
}

// BodyFormat is the encoding of a request body.
type BodyFormat string

const (
	BodyFormatJSON BodyFormat = "json"
	BodyFormatForm BodyFormat = "form"
	BodyFormatText BodyFormat = "text"
)

// IsValid returns true if the body format is known
func (f BodyFormat) IsValid() bool {
	switch f {
	case BodyFormatJSON, BodyFormatForm, BodyFormatText:
		return true
	}
	return false
}

// ContentType returns the Content-Type header value for the format.
func (f BodyFormat) ContentType() string {
	switch f {
	case BodyFormatForm:
		return "application/x-www-form-urlencoded"
	case BodyFormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// DataType is the declared semantic type of an extracted field.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeArray   DataType = "array"
	DataTypeObject  DataType = "object"
)

// IsValid returns true if the data type is known
func (t DataType) IsValid() bool {
	switch t {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeDate, DataTypeArray, DataTypeObject:
		return true
	}
	return false
}

// NullValueHandling is the policy applied to absent or null extracted values.
type NullValueHandling string

const (
	NullKeep    NullValueHandling = "keep"
	NullEmpty   NullValueHandling = "empty"
	NullDefault NullValueHandling = "default"
)

// IsValid returns true if the policy is known
func (h NullValueHandling) IsValid() bool {
	switch h {
	case NullKeep, NullEmpty, NullDefault:
		return true
	}
	return false
}

// ColumnType is the closed set of destination column types.
type ColumnType string

const (
	ColumnString    ColumnType = "string"
	ColumnText      ColumnType = "text"
	ColumnInteger   ColumnType = "integer"
	ColumnBigInt    ColumnType = "bigint"
	ColumnDecimal   ColumnType = "decimal"
	ColumnFloat     ColumnType = "float"
	ColumnBoolean   ColumnType = "boolean"
	ColumnDate      ColumnType = "date"
	ColumnDateTime  ColumnType = "datetime"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnJSON      ColumnType = "json"
)

// IsValid returns true if the column type is known
func (t ColumnType) IsValid() bool {
	switch t {
	case ColumnString, ColumnText, ColumnInteger, ColumnBigInt, ColumnDecimal, ColumnFloat,
		ColumnBoolean, ColumnDate, ColumnDateTime, ColumnTimestamp, ColumnJSON:
		return true
	}
	return false
}

// ScheduleType is manual or cron.
type ScheduleType string

const (
	ScheduleManual ScheduleType = "manual"
	ScheduleCron   ScheduleType = "cron"
)

// IsValid returns true if the schedule type is known
func (t ScheduleType) IsValid() bool {
	return t == ScheduleManual || t == ScheduleCron
}

// RetryDelayUnit is the unit of Schedule.RetryDelay.
type RetryDelayUnit string

const (
	RetrySeconds RetryDelayUnit = "seconds"
	RetryMinutes RetryDelayUnit = "minutes"
	RetryHours   RetryDelayUnit = "hours"
)

// IsValid returns true if the unit is known
func (u RetryDelayUnit) IsValid() bool {
	switch u {
	case RetrySeconds, RetryMinutes, RetryHours:
		return true
	}
	return false
}

// ScheduleStatus is the administrative state of a schedule.
type ScheduleStatus string

const (
	ScheduleActive ScheduleStatus = "active"
	SchedulePaused ScheduleStatus = "paused"
)

// Stage names the pipeline step that produced a failure.
type Stage string

const (
	StageConfiguration Stage = "configuration"
	StageAPICall       Stage = "api_call"
	StageExtraction    Stage = "extraction"
	StageStorage       Stage = "storage"
	StageCompleted     Stage = "completed"
)

func (s Stage) String() string {
	return string(s)
}

// Trigger says what started an execution.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerCron   Trigger = "cron"
	TriggerRetry  Trigger = "retry"
)

func (t Trigger) String() string {
	return string(t)
}

// normalizeMethod upper-cases an HTTP method, defaulting to GET.
func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return "GET"
	}
	return m
}
