package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
)

func TestSchemaBuilder_CreateTableSQL_Postgres(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	b := NewSchemaBuilder(db.DB, config.DestinationConfig{RawPayloadColumn: "raw", IngestedAtColumn: "loaded_at"}, nil)

	dest := &pipeline.Destination{
		TableName: "orders",
		Columns: []pipeline.Column{
			{Name: "tenant", Type: pipeline.ColumnString, IsPrimaryKey: true},
			{Name: "order_id", Type: pipeline.ColumnBigInt, IsPrimaryKey: true},
			{Name: "total", Type: pipeline.ColumnDecimal, Nullable: true},
			{Name: "paid", Type: pipeline.ColumnBoolean},
			{Name: "meta", Type: pipeline.ColumnJSON, Nullable: true},
			{Name: "created", Type: pipeline.ColumnTimestamp, Nullable: true},
		},
		IncludeRawPayload: true,
		IncludeIngestedAt: true,
	}

	ddl, err := b.CreateTableSQL(dest)
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "orders" (
	"tenant" VARCHAR(255) NOT NULL,
	"order_id" BIGINT NOT NULL,
	"total" NUMERIC(18,4),
	"paid" BOOLEAN NOT NULL,
	"meta" JSONB,
	"created" TIMESTAMPTZ,
	"raw" JSONB,
	"loaded_at" TIMESTAMPTZ,
	PRIMARY KEY ("tenant", "order_id")
)`, ddl)
}

func TestSchemaBuilder_CreateTableSQL_UserDefinedBookkeepingColumns(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	b := NewSchemaBuilder(db.DB, config.DestinationConfig{}, nil)

	ddl, err := b.CreateTableSQL(&pipeline.Destination{
		TableName: "events",
		Columns: []pipeline.Column{
			{Name: "raw_payload", Type: pipeline.ColumnText, Nullable: true},
		},
		IncludeRawPayload: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"events\" (\n\t\"raw_payload\" TEXT\n)", ddl)
}

func TestSchemaBuilder_RejectsInvalidDefinitions(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	b := NewSchemaBuilder(db.DB, config.DestinationConfig{}, nil)

	tests := []struct {
		name string
		dest *pipeline.Destination
		want error
	}{
		{
			name: "table name with quote",
			dest: &pipeline.Destination{TableName: `orders"; DROP TABLE x; --`},
			want: pipeline.ErrInvalidIdentifier,
		},
		{
			name: "column name with space",
			dest: &pipeline.Destination{TableName: "orders", Columns: []pipeline.Column{{Name: "order id", Type: pipeline.ColumnString}}},
			want: pipeline.ErrInvalidIdentifier,
		},
		{
			name: "table name too long",
			dest: &pipeline.Destination{TableName: "t234567890123456789012345678901234567890123456789012345678901234"},
			want: pipeline.ErrInvalidIdentifier,
		},
		{
			name: "unknown column type",
			dest: &pipeline.Destination{TableName: "orders", Columns: []pipeline.Column{{Name: "id", Type: "money"}}},
			want: pipeline.ErrUnsupportedColumn,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.CreateTableSQL(tt.dest)
			assert.ErrorIs(t, err, tt.want)

			_, err = b.EnsureTable(context.Background(), tt.dest)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSchemaBuilder_EnsureTable_Postgres(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	b := NewSchemaBuilder(db.DB, config.DestinationConfig{}, nil)
	dest := &pipeline.Destination{
		TableName: "orders",
		Columns:   []pipeline.Column{{Name: "id", Type: pipeline.ColumnInteger, IsPrimaryKey: true}},
	}

	mock.ExpectQuery(`SELECT count\(\*\) FROM information_schema.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "orders" \(\s+"id" INTEGER NOT NULL,\s+PRIMARY KEY \("id"\)\s+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := b.EnsureTable(context.Background(), dest)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaBuilder_EnsureTable_Sqlite(t *testing.T) {
	db := setupTestDB(t)
	b := NewSchemaBuilder(db, config.DestinationConfig{}, nil)
	dest := &pipeline.Destination{
		TableName: "metrics",
		Columns: []pipeline.Column{
			{Name: "name", Type: pipeline.ColumnString, IsPrimaryKey: true},
			{Name: "value", Type: pipeline.ColumnFloat, Nullable: true},
		},
		IncludeIngestedAt: true,
	}

	created, err := b.EnsureTable(context.Background(), dest)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, db.Migrator().HasColumn("metrics", "ingested_at"))
	assert.False(t, db.Migrator().HasColumn("metrics", "raw_payload"))

	created, err = b.EnsureTable(context.Background(), dest)
	require.NoError(t, err)
	assert.False(t, created, "existing tables are left alone")
}
