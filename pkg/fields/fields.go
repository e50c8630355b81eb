// Package fields defines the field-descriptor capability used by blok
// declarations. A field describes one persisted attribute of a model and
// knows how to materialize itself into a storage column for a given table.
// Field discovery is explicit: fragments carry a declared-fields table, so
// the registry never scans attributes by runtime type.
package fields

import (
	"errors"
	"fmt"
)

// ErrUnknownRemoteModel is returned when a relation field references a model
// that is not loaded in the registry.
var ErrUnknownRemoteModel = errors.New("unknown remote model")

// ErrNoPrimaryKey is returned when a relation field targets a model that
// declares no primary key column.
var ErrNoPrimaryKey = errors.New("remote model has no primary key")

// Column is the storage-column descriptor produced by materializing a field.
type Column struct {
	Name       string
	Table      string
	SQLType    string
	PrimaryKey bool
	Nullable   bool
	Unique     bool
	Default    any

	// ForeignTable and ForeignColumn are set for relation columns.
	ForeignTable  string
	ForeignColumn string
}

// Registry is the minimal registry capability a field needs during
// materialization: resolving other models to their table and primary key.
type Registry interface {
	// TableFor returns the table name for a loaded model namespace.
	TableFor(registryName string) (string, bool)

	// PrimaryKeyFor returns the primary key column of a loaded model
	// namespace.
	PrimaryKeyFor(registryName string) (Column, bool)
}

// Field is the descriptor capability. Materialize is invoked exactly once
// per discovered field per storage-backed model, after all model namespaces
// have been synthesized.
type Field interface {
	Materialize(reg Registry, table, name string, props map[string]any) (Column, error)
}

// PrimaryKeyed is implemented by fields that can act as a primary key.
type PrimaryKeyed interface {
	IsPrimaryKey() bool
}

// String is a sized varchar field.
type String struct {
	Size       int
	PrimaryKey bool
	Nullable   bool
	Unique     bool
	Default    string
}

func (f String) IsPrimaryKey() bool { return f.PrimaryKey }

func (f String) Materialize(_ Registry, table, name string, _ map[string]any) (Column, error) {
	size := f.Size
	if size == 0 {
		size = 64
	}
	col := Column{
		Name:       name,
		Table:      table,
		SQLType:    fmt.Sprintf("VARCHAR(%d)", size),
		PrimaryKey: f.PrimaryKey,
		Nullable:   f.Nullable && !f.PrimaryKey,
		Unique:     f.Unique,
	}
	if f.Default != "" {
		col.Default = f.Default
	}
	return col, nil
}

// Integer is a plain integer field.
type Integer struct {
	PrimaryKey bool
	Nullable   bool
	Unique     bool
	Default    *int64
}

func (f Integer) IsPrimaryKey() bool { return f.PrimaryKey }

func (f Integer) Materialize(_ Registry, table, name string, _ map[string]any) (Column, error) {
	col := Column{
		Name:       name,
		Table:      table,
		SQLType:    "INTEGER",
		PrimaryKey: f.PrimaryKey,
		Nullable:   f.Nullable && !f.PrimaryKey,
		Unique:     f.Unique,
	}
	if f.Default != nil {
		col.Default = *f.Default
	}
	return col, nil
}

// Boolean is a boolean field.
type Boolean struct {
	Nullable bool
	Default  *bool
}

func (f Boolean) Materialize(_ Registry, table, name string, _ map[string]any) (Column, error) {
	col := Column{
		Name:     name,
		Table:    table,
		SQLType:  "BOOLEAN",
		Nullable: f.Nullable,
	}
	if f.Default != nil {
		col.Default = *f.Default
	}
	return col, nil
}

// Text is an unsized text field.
type Text struct {
	Nullable bool
}

func (f Text) Materialize(_ Registry, table, name string, _ map[string]any) (Column, error) {
	return Column{
		Name:     name,
		Table:    table,
		SQLType:  "TEXT",
		Nullable: f.Nullable,
	}, nil
}

// DateTime is a timestamp field.
type DateTime struct {
	Nullable bool
}

func (f DateTime) Materialize(_ Registry, table, name string, _ map[string]any) (Column, error) {
	return Column{
		Name:     name,
		Table:    table,
		SQLType:  "TIMESTAMP",
		Nullable: f.Nullable,
	}, nil
}

// Many2One is a relation field pointing at another model. It materializes
// into a foreign-key column referencing the remote model's primary key.
type Many2One struct {
	// Model is the registry name of the remote model, e.g. "Model.System.Blok".
	Model string

	// ColumnName overrides the generated column name. By default the
	// attribute name is used.
	ColumnName string

	Nullable bool
	Unique   bool
}

func (f Many2One) Materialize(reg Registry, table, name string, _ map[string]any) (Column, error) {
	remoteTable, ok := reg.TableFor(f.Model)
	if !ok {
		return Column{}, fmt.Errorf("%w: %s (referenced by %s.%s)", ErrUnknownRemoteModel, f.Model, table, name)
	}
	remotePK, ok := reg.PrimaryKeyFor(f.Model)
	if !ok {
		return Column{}, fmt.Errorf("%w: %s (referenced by %s.%s)", ErrNoPrimaryKey, f.Model, table, name)
	}

	colName := f.ColumnName
	if colName == "" {
		colName = name
	}
	return Column{
		Name:          colName,
		Table:         table,
		SQLType:       remotePK.SQLType,
		Nullable:      f.Nullable,
		Unique:        f.Unique,
		ForeignTable:  remoteTable,
		ForeignColumn: remotePK.Name,
	}, nil
}
