package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/logger"
)

// TableWriter writes extracted records into destination tables. Each row
// is its own unit of work: a failing row is counted as skipped and the
// batch continues.
type TableWriter struct {
	db     *gorm.DB
	cfg    config.DestinationConfig
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewTableWriter creates a TableWriter.
func NewTableWriter(db *gorm.DB, cfg config.DestinationConfig, clock clockwork.Clock, l *zap.Logger) *TableWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &TableWriter{db: db, cfg: withColumnDefaults(cfg), clock: clock, logger: l}
}

// Write inserts or updates records in dest.TableName.
//
// Without primary-key columns every record is inserted. With them, a row
// matching the key values is updated and anything else inserted; when the
// table enforces the key the write is a native ON CONFLICT upsert.
//
// A record with a null value in any primary-key column cannot be matched
// and is counted as skipped, not inserted.
func (w *TableWriter) Write(ctx context.Context, dest *pipeline.Destination, records []pipeline.Record) (pipeline.WriteStats, error) {
	var stats pipeline.WriteStats
	if err := dest.Validate(); err != nil {
		return stats, err
	}
	if err := w.ping(ctx); err != nil {
		return stats, fmt.Errorf("%w: %w", pipeline.ErrStorageUnavailable, err)
	}

	ctx = logger.EnsureContext(ctx, w.logger)
	log := logger.L(ctx).With(zap.String("table", dest.TableName))
	pk := dest.PrimaryKeyColumns()
	db := w.db.WithContext(ctx)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			stats.Skipped += len(records) - i
			return stats, err
		}

		row, err := w.rowData(dest, rec)
		if err != nil {
			log.Debug("skipping record with unconvertible value", zap.Int("index", i), zap.Error(err))
			stats.Skipped++
			continue
		}

		if len(pk) == 0 {
			if err := db.Table(dest.TableName).Create(row).Error; err != nil {
				log.Debug("insert failed", zap.Int("index", i), zap.Error(err))
				stats.Skipped++
				continue
			}
			stats.Inserted++
			continue
		}

		predicate, ok := keyPredicate(pk, row)
		if !ok {
			log.Debug("skipping record with null primary key", zap.Int("index", i))
			stats.Skipped++
			continue
		}

		updated, err := w.writeKeyed(db, dest, pk, predicate, row)
		switch {
		case err != nil:
			log.Debug("write failed", zap.Int("index", i), zap.Error(err))
			stats.Skipped++
		case updated:
			stats.Updated++
		default:
			stats.Inserted++
		}
	}

	if stats.Skipped > 0 {
		log.Warn("some records were not written",
			zap.Int("skipped", stats.Skipped),
			zap.Int("total", len(records)),
		)
	}
	return stats, nil
}

// writeKeyed writes one row of a keyed destination and reports whether an
// existing row was updated.
func (w *TableWriter) writeKeyed(db *gorm.DB, dest *pipeline.Destination, pk []pipeline.Column, predicate []clause.Expression, row map[string]any) (bool, error) {
	var count int64
	if err := db.Table(dest.TableName).Clauses(clause.Where{Exprs: predicate}).Count(&count).Error; err != nil {
		return false, err
	}
	exists := count > 0

	assignments := nonKeyColumns(pk, row)
	if dest.UniqueKeyEnforced {
		conflict := clause.OnConflict{Columns: columnRefs(pk)}
		if len(assignments) == 0 {
			conflict.DoNothing = true
		} else {
			conflict.DoUpdates = clause.AssignmentColumns(assignments)
		}
		if err := db.Table(dest.TableName).Clauses(conflict).Create(row).Error; err != nil {
			return false, err
		}
		return exists, nil
	}

	if !exists {
		return false, db.Table(dest.TableName).Create(row).Error
	}
	if len(assignments) == 0 {
		return true, nil
	}
	values := make(map[string]any, len(assignments))
	for _, name := range assignments {
		values[name] = row[name]
	}
	return true, db.Table(dest.TableName).Clauses(clause.Where{Exprs: predicate}).Updates(values).Error
}

// rowData maps rec onto the destination columns.
func (w *TableWriter) rowData(dest *pipeline.Destination, rec pipeline.Record) (map[string]any, error) {
	row := make(map[string]any, len(dest.Columns)+2)
	for _, c := range dest.Columns {
		v, err := columnValue(c.Type, rec[c.SourceField()])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		row[c.Name] = v
	}
	if dest.IncludeRawPayload && !hasColumn(dest, w.cfg.RawPayloadColumn) {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("raw payload: %w", err)
		}
		row[w.cfg.RawPayloadColumn] = string(raw)
	}
	if dest.IncludeIngestedAt && !hasColumn(dest, w.cfg.IngestedAtColumn) {
		row[w.cfg.IngestedAtColumn] = w.clock.Now().UTC()
	}
	return row, nil
}

func (w *TableWriter) ping(ctx context.Context) error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// columnValue converts an extracted value to the driver value for a
// column type. Missing values become NULL.
func columnValue(t pipeline.ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case pipeline.ColumnJSON:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	case pipeline.ColumnInteger, pipeline.ColumnBigInt:
		return cast.ToInt64E(v)
	case pipeline.ColumnFloat:
		return cast.ToFloat64E(v)
	case pipeline.ColumnDecimal:
		if f, ok := v.(float64); ok {
			return decimal.NewFromFloat(f), nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return decimal.NewFromString(s)
	case pipeline.ColumnBoolean:
		return cast.ToBoolE(v)
	case pipeline.ColumnDate, pipeline.ColumnDateTime, pipeline.ColumnTimestamp:
		return timeValue(v), nil
	default:
		switch v.(type) {
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(encoded), nil
		}
		return cast.ToStringE(v)
	}
}

// timeValue parses strings and epoch numbers into time.Time. Strings in a
// layout cast does not know are handed to the database as is.
func timeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		if t, err := cast.ToTimeE(x); err == nil {
			return t
		}
		return x
	case float64:
		return time.Unix(int64(x), 0).UTC()
	}
	return v
}

func keyPredicate(pk []pipeline.Column, row map[string]any) ([]clause.Expression, bool) {
	exprs := make([]clause.Expression, 0, len(pk))
	for _, c := range pk {
		v := row[c.Name]
		if v == nil {
			return nil, false
		}
		exprs = append(exprs, clause.Eq{Column: clause.Column{Name: c.Name}, Value: v})
	}
	return exprs, true
}

// nonKeyColumns returns the row's columns outside pk, sorted.
func nonKeyColumns(pk []pipeline.Column, row map[string]any) []string {
	isKey := make(map[string]bool, len(pk))
	for _, c := range pk {
		isKey[c.Name] = true
	}
	names := make([]string, 0, len(row))
	for name := range row {
		if !isKey[name] {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func columnRefs(cols []pipeline.Column) []clause.Column {
	refs := make([]clause.Column, len(cols))
	for i, c := range cols {
		refs[i] = clause.Column{Name: c.Name}
	}
	return refs
}
