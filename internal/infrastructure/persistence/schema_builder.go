package persistence

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/logger"
)

var postgresTypes = map[pipeline.ColumnType]string{
	pipeline.ColumnString:    "VARCHAR(255)",
	pipeline.ColumnText:      "TEXT",
	pipeline.ColumnInteger:   "INTEGER",
	pipeline.ColumnBigInt:    "BIGINT",
	pipeline.ColumnDecimal:   "NUMERIC(18,4)",
	pipeline.ColumnFloat:     "DOUBLE PRECISION",
	pipeline.ColumnBoolean:   "BOOLEAN",
	pipeline.ColumnDate:      "DATE",
	pipeline.ColumnDateTime:  "TIMESTAMP",
	pipeline.ColumnTimestamp: "TIMESTAMPTZ",
	pipeline.ColumnJSON:      "JSONB",
}

var sqliteTypes = map[pipeline.ColumnType]string{
	pipeline.ColumnString:    "TEXT",
	pipeline.ColumnText:      "TEXT",
	pipeline.ColumnInteger:   "INTEGER",
	pipeline.ColumnBigInt:    "INTEGER",
	pipeline.ColumnDecimal:   "NUMERIC",
	pipeline.ColumnFloat:     "REAL",
	pipeline.ColumnBoolean:   "BOOLEAN",
	pipeline.ColumnDate:      "DATE",
	pipeline.ColumnDateTime:  "DATETIME",
	pipeline.ColumnTimestamp: "DATETIME",
	pipeline.ColumnJSON:      "TEXT",
}

// SchemaBuilder creates destination tables from their column definitions.
type SchemaBuilder struct {
	db     *gorm.DB
	cfg    config.DestinationConfig
	logger *zap.Logger
}

// NewSchemaBuilder creates a SchemaBuilder.
func NewSchemaBuilder(db *gorm.DB, cfg config.DestinationConfig, l *zap.Logger) *SchemaBuilder {
	if l == nil {
		l = zap.NewNop()
	}
	return &SchemaBuilder{db: db, cfg: withColumnDefaults(cfg), logger: l}
}

// EnsureTable creates the destination table when it does not exist yet and
// reports whether it did. A table created here carries a PRIMARY KEY over
// the destination's primary-key columns.
func (b *SchemaBuilder) EnsureTable(ctx context.Context, dest *pipeline.Destination) (bool, error) {
	if err := dest.Validate(); err != nil {
		return false, err
	}
	db := b.db.WithContext(ctx)
	if db.Migrator().HasTable(dest.TableName) {
		return false, nil
	}

	ddl, err := b.CreateTableSQL(dest)
	if err != nil {
		return false, err
	}
	if err := db.Exec(ddl).Error; err != nil {
		return false, fmt.Errorf("%w: create table %s: %w", pipeline.ErrStorageUnavailable, dest.TableName, err)
	}
	logger.L(logger.EnsureContext(ctx, b.logger)).Info("destination table created",
		zap.String("table", dest.TableName),
		zap.Int("columns", len(dest.Columns)),
		zap.Int("primary_key_columns", len(dest.PrimaryKeyColumns())),
	)
	return true, nil
}

// CreateTableSQL renders the CREATE TABLE statement for dest in the dialect
// of the connected database.
func (b *SchemaBuilder) CreateTableSQL(dest *pipeline.Destination) (string, error) {
	if err := dest.Validate(); err != nil {
		return "", err
	}
	types := postgresTypes
	if b.db.Dialector.Name() == "sqlite" {
		types = sqliteTypes
	}

	quote := b.db.Statement.Quote
	defs := make([]string, 0, len(dest.Columns)+3)
	for _, c := range dest.Columns {
		def := quote(c.Name) + " " + types[c.Type]
		if c.IsPrimaryKey || !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if dest.IncludeRawPayload && !hasColumn(dest, b.cfg.RawPayloadColumn) {
		defs = append(defs, quote(b.cfg.RawPayloadColumn)+" "+types[pipeline.ColumnJSON])
	}
	if dest.IncludeIngestedAt && !hasColumn(dest, b.cfg.IngestedAtColumn) {
		defs = append(defs, quote(b.cfg.IngestedAtColumn)+" "+types[pipeline.ColumnTimestamp])
	}
	if pk := dest.PrimaryKeyColumns(); len(pk) > 0 {
		names := make([]string, len(pk))
		for i, c := range pk {
			names[i] = quote(c.Name)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("destination %s: table %s has no columns", dest.ID, dest.TableName)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(dest.TableName), strings.Join(defs, ",\n\t")), nil
}

func hasColumn(dest *pipeline.Destination, name string) bool {
	for _, c := range dest.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func withColumnDefaults(cfg config.DestinationConfig) config.DestinationConfig {
	if cfg.RawPayloadColumn == "" {
		cfg.RawPayloadColumn = "raw_payload"
	}
	if cfg.IngestedAtColumn == "" {
		cfg.IngestedAtColumn = "ingested_at"
	}
	return cfg
}
