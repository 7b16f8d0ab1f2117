package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/persistence/models"
)

// GormDefinitionStore implements pipeline.DefinitionStore using GORM
type GormDefinitionStore struct {
	db *gorm.DB
}

// NewGormDefinitionStore creates a new GormDefinitionStore
func NewGormDefinitionStore(db *gorm.DB) *GormDefinitionStore {
	return &GormDefinitionStore{db: db}
}

func findByID[M any](ctx context.Context, db *gorm.DB, kind string, id uuid.UUID) (*M, error) {
	var model M
	if err := db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, pipeline.ErrDefinitionNotFound)
		}
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return &model, nil
}

// GetSource loads a source by id
func (s *GormDefinitionStore) GetSource(ctx context.Context, id uuid.UUID) (*pipeline.Source, error) {
	m, err := findByID[models.SourceModel](ctx, s.db, "source", id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// GetTokenConfig loads a token config by id
func (s *GormDefinitionStore) GetTokenConfig(ctx context.Context, id uuid.UUID) (*pipeline.TokenConfig, error) {
	m, err := findByID[models.TokenConfigModel](ctx, s.db, "token config", id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// GetRequest loads a request template by id
func (s *GormDefinitionStore) GetRequest(ctx context.Context, id uuid.UUID) (*pipeline.Request, error) {
	m, err := findByID[models.RequestModel](ctx, s.db, "request", id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// GetExtract loads an extract by id
func (s *GormDefinitionStore) GetExtract(ctx context.Context, id uuid.UUID) (*pipeline.Extract, error) {
	m, err := findByID[models.ExtractModel](ctx, s.db, "extract", id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// GetDestination loads a destination by id
func (s *GormDefinitionStore) GetDestination(ctx context.Context, id uuid.UUID) (*pipeline.Destination, error) {
	m, err := findByID[models.DestinationModel](ctx, s.db, "destination", id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// GetSchedule loads a schedule by id
func (s *GormDefinitionStore) GetSchedule(ctx context.Context, id uuid.UUID) (*pipeline.Schedule, error) {
	m, err := findByID[models.ScheduleModel](ctx, s.db, "schedule", id)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// ListDueSchedules returns enabled, active cron schedules that are due at
// now, following Schedule.IsDue. Never-executed schedules come first.
func (s *GormDefinitionStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*pipeline.Schedule, error) {
	q := s.db.WithContext(ctx).
		Where("schedule_type = ?", pipeline.ScheduleCron).
		Where("enabled = ?", true).
		Where("status = ? OR status = ''", pipeline.ScheduleActive).
		Where("next_execution_at <= ? OR (next_execution_at IS NULL AND last_executed_at IS NULL)", now).
		Order("next_execution_at IS NOT NULL, next_execution_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.ScheduleModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	schedules := make([]*pipeline.Schedule, len(rows))
	for i := range rows {
		schedules[i] = rows[i].ToDomain()
	}
	return schedules, nil
}

// TouchSource records that a source was used
func (s *GormDefinitionStore) TouchSource(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.stamp(ctx, &models.SourceModel{}, id, "last_used_at", at)
}

// TouchTokenConfig records that a token config handed out a token
func (s *GormDefinitionStore) TouchTokenConfig(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.stamp(ctx, &models.TokenConfigModel{}, id, "last_used_at", at)
}

// MarkRequestExecuted records a successful API call for a request template
func (s *GormDefinitionStore) MarkRequestExecuted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.stamp(ctx, &models.RequestModel{}, id, "last_executed_at", at)
}

// MarkExtractExecuted records a successful extraction
func (s *GormDefinitionStore) MarkExtractExecuted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.stamp(ctx, &models.ExtractModel{}, id, "last_executed_at", at)
}

func (s *GormDefinitionStore) stamp(ctx context.Context, model any, id uuid.UUID, column string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		UpdateColumns(map[string]any{column: at, "updated_at": at}).Error
}

// SaveScheduleBookkeeping persists the execution timestamps and counters
// of a schedule. Counters are written as absolute values.
func (s *GormDefinitionStore) SaveScheduleBookkeeping(ctx context.Context, sched *pipeline.Schedule) error {
	result := s.db.WithContext(ctx).
		Model(&models.ScheduleModel{}).
		Where("id = ?", sched.ID).
		UpdateColumns(map[string]any{
			"last_executed_at":  sched.LastExecutedAt,
			"next_execution_at": sched.NextExecutionAt,
			"execution_count":   sched.ExecutionCount,
			"failure_count":     sched.FailureCount,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("save schedule %s: %w", sched.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", sched.ID, pipeline.ErrDefinitionNotFound)
	}
	return nil
}

// upsert inserts model or overwrites every column but created_at. The Save
// methods serve seeding and tests; definitions are managed outside the engine.
func (s *GormDefinitionStore) upsert(ctx context.Context, model any) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

// SaveSource creates or replaces a source
func (s *GormDefinitionStore) SaveSource(ctx context.Context, src *pipeline.Source) error {
	m := models.SourceFromDomain(src)
	if err := s.upsert(ctx, m); err != nil {
		return err
	}
	src.ID = m.ID
	return nil
}

// SaveTokenConfig creates or replaces a token config
func (s *GormDefinitionStore) SaveTokenConfig(ctx context.Context, cfg *pipeline.TokenConfig) error {
	m, err := models.TokenConfigFromDomain(cfg)
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, m); err != nil {
		return err
	}
	cfg.ID = m.ID
	return nil
}

// SaveRequest creates or replaces a request template
func (s *GormDefinitionStore) SaveRequest(ctx context.Context, req *pipeline.Request) error {
	m := models.RequestFromDomain(req)
	if err := s.upsert(ctx, m); err != nil {
		return err
	}
	req.ID = m.ID
	return nil
}

// SaveExtract creates or replaces an extract
func (s *GormDefinitionStore) SaveExtract(ctx context.Context, e *pipeline.Extract) error {
	m := models.ExtractFromDomain(e)
	if err := s.upsert(ctx, m); err != nil {
		return err
	}
	e.ID = m.ID
	return nil
}

// SaveDestination creates or replaces a destination
func (s *GormDefinitionStore) SaveDestination(ctx context.Context, d *pipeline.Destination) error {
	m := models.DestinationFromDomain(d)
	if err := s.upsert(ctx, m); err != nil {
		return err
	}
	d.ID = m.ID
	return nil
}

// SaveSchedule creates or replaces a schedule
func (s *GormDefinitionStore) SaveSchedule(ctx context.Context, sched *pipeline.Schedule) error {
	m := models.ScheduleFromDomain(sched)
	if err := s.upsert(ctx, m); err != nil {
		return err
	}
	sched.ID = m.ID
	return nil
}

// MarkDestinationEnforced records that the destination table carries a
// primary key over its primary-key columns.
func (s *GormDefinitionStore) MarkDestinationEnforced(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.DestinationModel{}).
		Where("id = ?", id).
		UpdateColumn("unique_key_enforced", true).Error
}

var _ pipeline.DefinitionStore = (*GormDefinitionStore)(nil)
