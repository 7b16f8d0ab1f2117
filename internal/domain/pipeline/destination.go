package pipeline

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// IsValidIdentifier reports whether s is safe to use as a table or column name.
func IsValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Column is a destination column definition.
type Column struct {
	Name         string     `json:"name"`
	Type         ColumnType `json:"type"`
	Nullable     bool       `json:"nullable"`
	IsPrimaryKey bool       `json:"isPrimaryKey"`
	MappedField  string     `json:"mappedField,omitempty"`
}

// SourceField is the record field feeding this column.
func (c Column) SourceField() string {
	if c.MappedField != "" {
		return c.MappedField
	}
	return c.Name
}

// Destination is a table extracted records are written into.
type Destination struct {
	ID                uuid.UUID
	Name              string
	TableName         string
	Columns           []Column
	IncludeRawPayload bool
	IncludeIngestedAt bool
	// UniqueKeyEnforced is set when the table carries a PRIMARY KEY over the
	// primary-key columns, which enables ON CONFLICT upserts.
	UniqueKeyEnforced bool
}

// PrimaryKeyColumns returns the columns flagged as primary key, in order.
func (d *Destination) PrimaryKeyColumns() []Column {
	var pk []Column
	for _, c := range d.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// Validate checks identifiers and column types.
func (d *Destination) Validate() error {
	if !IsValidIdentifier(d.TableName) {
		return fmt.Errorf("destination %s: table %q: %w", d.ID, d.TableName, ErrInvalidIdentifier)
	}
	seen := make(map[string]struct{}, len(d.Columns))
	for _, c := range d.Columns {
		if !IsValidIdentifier(c.Name) {
			return fmt.Errorf("destination %s: column %q: %w", d.ID, c.Name, ErrInvalidIdentifier)
		}
		if !c.Type.IsValid() {
			return fmt.Errorf("destination %s: column %q type %q: %w", d.ID, c.Name, c.Type, ErrUnsupportedColumn)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("destination %s: duplicate column %q", d.ID, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
