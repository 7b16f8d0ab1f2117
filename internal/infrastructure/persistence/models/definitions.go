package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// SourceModel is the persistence model for pipeline.Source.
type SourceModel struct {
	BaseModel
	Name           string                                  `gorm:"type:varchar(200);not null"`
	BaseURL        string                                  `gorm:"type:varchar(2048);not null"`
	AuthType       string                                  `gorm:"type:varchar(20);not null;default:'none'"`
	Headers        datatypes.JSONType[[]pipeline.KeyValue] `gorm:"not null"`
	Username       string                                  `gorm:"type:varchar(255)"`
	Password       string                                  `gorm:"type:varchar(255)"`
	BearerToken    string                                  `gorm:"type:text"`
	APIKeyName     string                                  `gorm:"column:api_key_name;type:varchar(255)"`
	APIKeyValue    string                                  `gorm:"column:api_key_value;type:text"`
	APIKeyLocation string                                  `gorm:"column:api_key_location;type:varchar(10);not null;default:'header'"`
	TokenConfigID  *uuid.UUID                              `gorm:"type:uuid;index"`
	LastUsedAt     *time.Time
}

func (SourceModel) TableName() string {
	return "api_sources"
}

// ToDomain converts the model to a domain Source.
func (m *SourceModel) ToDomain() *pipeline.Source {
	return &pipeline.Source{
		ID:             m.ID,
		Name:           m.Name,
		BaseURL:        m.BaseURL,
		AuthType:       pipeline.AuthType(m.AuthType),
		Headers:        m.Headers.Data(),
		Username:       m.Username,
		Password:       m.Password,
		BearerToken:    m.BearerToken,
		APIKeyName:     m.APIKeyName,
		APIKeyValue:    m.APIKeyValue,
		APIKeyLocation: pipeline.APIKeyLocation(m.APIKeyLocation),
		TokenConfigID:  m.TokenConfigID,
		LastUsedAt:     m.LastUsedAt,
	}
}

// SourceFromDomain builds a model from a domain Source.
func SourceFromDomain(s *pipeline.Source) *SourceModel {
	return &SourceModel{
		BaseModel:      BaseModel{ID: s.ID},
		Name:           s.Name,
		BaseURL:        s.BaseURL,
		AuthType:       string(s.EffectiveAuthType()),
		Headers:        datatypes.NewJSONType(nonNil(s.Headers)),
		Username:       s.Username,
		Password:       s.Password,
		BearerToken:    s.BearerToken,
		APIKeyName:     s.APIKeyName,
		APIKeyValue:    s.APIKeyValue,
		APIKeyLocation: string(s.EffectiveAPIKeyLocation()),
		TokenConfigID:  s.TokenConfigID,
		LastUsedAt:     s.LastUsedAt,
	}
}

// TokenConfigModel is the persistence model for pipeline.TokenConfig.
type TokenConfigModel struct {
	BaseModel
	Endpoint                string                                  `gorm:"type:varchar(2048);not null"`
	Method                  string                                  `gorm:"type:varchar(10);not null;default:'POST'"`
	Headers                 datatypes.JSONType[[]pipeline.KeyValue] `gorm:"not null"`
	Body                    datatypes.JSON
	TokenPath               string `gorm:"type:varchar(255);not null"`
	ExpiresInPath           string `gorm:"type:varchar(255)"`
	RefreshTokenPath        string `gorm:"type:varchar(255)"`
	DefaultExpiresInSeconds int    `gorm:"not null;default:0"`
	RefreshEnabled          bool   `gorm:"not null;default:false"`
	HeaderName              string `gorm:"type:varchar(100)"`
	TokenPrefix             string `gorm:"type:varchar(50)"`
	LastUsedAt              *time.Time
}

func (TokenConfigModel) TableName() string {
	return "token_configs"
}

// ToDomain converts the model to a domain TokenConfig. A body that is not a
// JSON object is dropped.
func (m *TokenConfigModel) ToDomain() *pipeline.TokenConfig {
	var body map[string]any
	if len(m.Body) > 0 {
		_ = json.Unmarshal(m.Body, &body)
	}
	return &pipeline.TokenConfig{
		ID:                      m.ID,
		Endpoint:                m.Endpoint,
		Method:                  m.Method,
		Headers:                 m.Headers.Data(),
		Body:                    body,
		TokenPath:               m.TokenPath,
		ExpiresInPath:           m.ExpiresInPath,
		RefreshTokenPath:        m.RefreshTokenPath,
		DefaultExpiresInSeconds: m.DefaultExpiresInSeconds,
		RefreshEnabled:          m.RefreshEnabled,
		HeaderName:              m.HeaderName,
		TokenPrefix:             m.TokenPrefix,
		LastUsedAt:              m.LastUsedAt,
	}
}

// TokenConfigFromDomain builds a model from a domain TokenConfig.
func TokenConfigFromDomain(c *pipeline.TokenConfig) (*TokenConfigModel, error) {
	m := &TokenConfigModel{
		BaseModel:               BaseModel{ID: c.ID},
		Endpoint:                c.Endpoint,
		Method:                  c.HTTPMethod(),
		Headers:                 datatypes.NewJSONType(nonNil(c.Headers)),
		TokenPath:               c.TokenPath,
		ExpiresInPath:           c.ExpiresInPath,
		RefreshTokenPath:        c.RefreshTokenPath,
		DefaultExpiresInSeconds: max(c.DefaultExpiresInSeconds, 0),
		RefreshEnabled:          c.RefreshEnabled,
		HeaderName:              c.HeaderName,
		TokenPrefix:             c.TokenPrefix,
		LastUsedAt:              c.LastUsedAt,
	}
	if c.Body != nil {
		raw, err := json.Marshal(c.Body)
		if err != nil {
			return nil, err
		}
		m.Body = datatypes.JSON(raw)
	}
	return m, nil
}

// RequestModel is the persistence model for pipeline.Request.
type RequestModel struct {
	BaseModel
	SourceID       uuid.UUID                                `gorm:"type:uuid;not null;index"`
	Name           string                                   `gorm:"type:varchar(200)"`
	Method         string                                   `gorm:"type:varchar(10);not null;default:'GET'"`
	Path           string                                   `gorm:"type:varchar(2048)"`
	PathParams     datatypes.JSONType[[]pipeline.NameValue] `gorm:"not null"`
	QueryParams    datatypes.JSONType[[]pipeline.NameValue] `gorm:"not null"`
	Headers        datatypes.JSONType[[]pipeline.KeyValue]  `gorm:"not null"`
	Body           string                                   `gorm:"type:text"`
	BodyFormat     string                                   `gorm:"type:varchar(10);not null;default:'json'"`
	LastExecutedAt *time.Time
}

func (RequestModel) TableName() string {
	return "api_requests"
}

// ToDomain converts the model to a domain Request.
func (m *RequestModel) ToDomain() *pipeline.Request {
	return &pipeline.Request{
		ID:             m.ID,
		SourceID:       m.SourceID,
		Name:           m.Name,
		Method:         m.Method,
		Path:           m.Path,
		PathParams:     m.PathParams.Data(),
		QueryParams:    m.QueryParams.Data(),
		Headers:        m.Headers.Data(),
		Body:           m.Body,
		BodyFormat:     pipeline.BodyFormat(m.BodyFormat),
		LastExecutedAt: m.LastExecutedAt,
	}
}

// RequestFromDomain builds a model from a domain Request.
func RequestFromDomain(r *pipeline.Request) *RequestModel {
	return &RequestModel{
		BaseModel:      BaseModel{ID: r.ID},
		SourceID:       r.SourceID,
		Name:           r.Name,
		Method:         r.HTTPMethod(),
		Path:           r.Path,
		PathParams:     datatypes.NewJSONType(nonNil(r.PathParams)),
		QueryParams:    datatypes.NewJSONType(nonNil(r.QueryParams)),
		Headers:        datatypes.NewJSONType(nonNil(r.Headers)),
		Body:           r.Body,
		BodyFormat:     string(r.EffectiveBodyFormat()),
		LastExecutedAt: r.LastExecutedAt,
	}
}

// ExtractModel is the persistence model for pipeline.Extract.
type ExtractModel struct {
	BaseModel
	RequestID         uuid.UUID                                     `gorm:"type:uuid;not null;index"`
	RootArrayPath     string                                        `gorm:"type:varchar(500)"`
	ExtractionPaths   datatypes.JSONType[[]pipeline.ExtractionPath] `gorm:"not null"`
	NullValueHandling string                                        `gorm:"type:varchar(10);not null;default:'keep'"`
	DateFormat        string                                        `gorm:"type:varchar(100)"`
	TransformScript   string                                        `gorm:"type:text"`
	LastExecutedAt    *time.Time
}

func (ExtractModel) TableName() string {
	return "extracts"
}

// ToDomain converts the model to a domain Extract.
func (m *ExtractModel) ToDomain() *pipeline.Extract {
	return &pipeline.Extract{
		ID:                m.ID,
		RequestID:         m.RequestID,
		RootArrayPath:     m.RootArrayPath,
		ExtractionPaths:   m.ExtractionPaths.Data(),
		NullValueHandling: pipeline.NullValueHandling(m.NullValueHandling),
		DateFormat:        m.DateFormat,
		TransformScript:   m.TransformScript,
		LastExecutedAt:    m.LastExecutedAt,
	}
}

// ExtractFromDomain builds a model from a domain Extract.
func ExtractFromDomain(e *pipeline.Extract) *ExtractModel {
	return &ExtractModel{
		BaseModel:         BaseModel{ID: e.ID},
		RequestID:         e.RequestID,
		RootArrayPath:     e.RootArrayPath,
		ExtractionPaths:   datatypes.NewJSONType(nonNil(e.ExtractionPaths)),
		NullValueHandling: string(e.EffectiveNullHandling()),
		DateFormat:        e.DateFormat,
		TransformScript:   e.TransformScript,
		LastExecutedAt:    e.LastExecutedAt,
	}
}

// DestinationModel is the persistence model for pipeline.Destination.
type DestinationModel struct {
	BaseModel
	Name              string                                `gorm:"type:varchar(200)"`
	TableName_        string                                `gorm:"column:table_name;type:varchar(63);not null"`
	Columns           datatypes.JSONType[[]pipeline.Column] `gorm:"not null"`
	IncludeRawPayload bool                                  `gorm:"not null;default:false"`
	IncludeIngestedAt bool                                  `gorm:"not null;default:false"`
	UniqueKeyEnforced bool                                  `gorm:"not null;default:false"`
}

func (DestinationModel) TableName() string {
	return "destinations"
}

// ToDomain converts the model to a domain Destination.
func (m *DestinationModel) ToDomain() *pipeline.Destination {
	return &pipeline.Destination{
		ID:                m.ID,
		Name:              m.Name,
		TableName:         m.TableName_,
		Columns:           m.Columns.Data(),
		IncludeRawPayload: m.IncludeRawPayload,
		IncludeIngestedAt: m.IncludeIngestedAt,
		UniqueKeyEnforced: m.UniqueKeyEnforced,
	}
}

// DestinationFromDomain builds a model from a domain Destination.
func DestinationFromDomain(d *pipeline.Destination) *DestinationModel {
	return &DestinationModel{
		BaseModel:         BaseModel{ID: d.ID},
		Name:              d.Name,
		TableName_:        d.TableName,
		Columns:           datatypes.NewJSONType(nonNil(d.Columns)),
		IncludeRawPayload: d.IncludeRawPayload,
		IncludeIngestedAt: d.IncludeIngestedAt,
		UniqueKeyEnforced: d.UniqueKeyEnforced,
	}
}

// ScheduleModel is the persistence model for pipeline.Schedule.
type ScheduleModel struct {
	BaseModel
	Name            string     `gorm:"type:varchar(200)"`
	ScheduleType    string     `gorm:"type:varchar(10);not null;default:'manual';index:idx_schedule_due,priority:1"`
	Enabled         bool       `gorm:"not null;default:true"`
	CronExpression  string     `gorm:"type:varchar(120)"`
	Timezone        string     `gorm:"type:varchar(64)"`
	MaxRetries      int        `gorm:"not null;default:0"`
	RetryDelay      int        `gorm:"not null;default:0"`
	RetryDelayUnit  string     `gorm:"type:varchar(10);not null;default:'seconds'"`
	Status          string     `gorm:"type:varchar(10);not null;default:'active'"`
	SourceID        *uuid.UUID `gorm:"type:uuid"`
	RequestID       *uuid.UUID `gorm:"type:uuid"`
	ExtractID       *uuid.UUID `gorm:"type:uuid"`
	DestinationID   *uuid.UUID `gorm:"type:uuid"`
	LastExecutedAt  *time.Time
	NextExecutionAt *time.Time `gorm:"index:idx_schedule_due,priority:2"`
	ExecutionCount  int        `gorm:"not null;default:0"`
	FailureCount    int        `gorm:"not null;default:0"`
}

func (ScheduleModel) TableName() string {
	return "schedules"
}

// ToDomain converts the model to a domain Schedule.
func (m *ScheduleModel) ToDomain() *pipeline.Schedule {
	return &pipeline.Schedule{
		ID:              m.ID,
		Name:            m.Name,
		ScheduleType:    pipeline.ScheduleType(m.ScheduleType),
		Enabled:         m.Enabled,
		CronExpression:  m.CronExpression,
		Timezone:        m.Timezone,
		MaxRetries:      m.MaxRetries,
		RetryDelay:      m.RetryDelay,
		RetryDelayUnit:  pipeline.RetryDelayUnit(m.RetryDelayUnit),
		Status:          pipeline.ScheduleStatus(m.Status),
		SourceID:        m.SourceID,
		RequestID:       m.RequestID,
		ExtractID:       m.ExtractID,
		DestinationID:   m.DestinationID,
		LastExecutedAt:  m.LastExecutedAt,
		NextExecutionAt: m.NextExecutionAt,
		ExecutionCount:  m.ExecutionCount,
		FailureCount:    m.FailureCount,
	}
}

// ScheduleFromDomain builds a model from a domain Schedule.
func ScheduleFromDomain(s *pipeline.Schedule) *ScheduleModel {
	status := string(s.Status)
	if status == "" {
		status = string(pipeline.ScheduleActive)
	}
	unit := string(s.RetryDelayUnit)
	if unit == "" {
		unit = string(pipeline.RetrySeconds)
	}
	return &ScheduleModel{
		BaseModel:       BaseModel{ID: s.ID},
		Name:            s.Name,
		ScheduleType:    string(s.ScheduleType),
		Enabled:         s.Enabled,
		CronExpression:  s.CronExpression,
		Timezone:        s.Timezone,
		MaxRetries:      s.MaxRetries,
		RetryDelay:      s.RetryDelay,
		RetryDelayUnit:  unit,
		Status:          status,
		SourceID:        s.SourceID,
		RequestID:       s.RequestID,
		ExtractID:       s.ExtractID,
		DestinationID:   s.DestinationID,
		LastExecutedAt:  s.LastExecutedAt,
		NextExecutionAt: s.NextExecutionAt,
		ExecutionCount:  s.ExecutionCount,
		FailureCount:    s.FailureCount,
	}
}

// AllModels lists every definition model, in dependency order.
func AllModels() []any {
	return []any{
		&TokenConfigModel{},
		&SourceModel{},
		&RequestModel{},
		&ExtractModel{},
		&DestinationModel{},
		&ScheduleModel{},
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
