// Package schema holds the canonical in-memory model shared by the declarative
// parser, the catalog introspector and the drift detector.
package schema

import "strings"

// Schema is an immutable snapshot of either the declared or the live structure.
// Models is only populated on the declarative side.
type Schema struct {
	Tables []Table `json:"tables"`
	Enums  []Enum  `json:"enums,omitempty"`
	Models []Model `json:"models,omitempty"`
}

// Table describes a physical table.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
}

// Column is a value object; a changed column is a new Column.
type Column struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Nullable bool     `json:"nullable"`
	Default  *Default `json:"default,omitempty"`
	Unique   bool     `json:"unique,omitempty"`
}

type DefaultKind string

const (
	DefaultLiteral       DefaultKind = "literal"
	DefaultNow           DefaultKind = "now"
	DefaultUUID          DefaultKind = "uuid"
	DefaultCUID          DefaultKind = "cuid"
	DefaultAutoincrement DefaultKind = "autoincrement"
)

type LiteralKind string

const (
	LiteralString  LiteralKind = "string"
	LiteralNumber  LiteralKind = "number"
	LiteralBoolean LiteralKind = "boolean"
	LiteralOpaque  LiteralKind = "opaque"
)

// Default is either a literal or one of the generator functions. For string
// literals Value is unquoted; for opaque literals it is the source text.
type Default struct {
	Kind    DefaultKind `json:"kind"`
	Literal LiteralKind `json:"literal,omitempty"`
	Value   string      `json:"value,omitempty"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

type ForeignKey struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
	OnDelete   string   `json:"on_delete,omitempty"`
	OnUpdate   string   `json:"on_update,omitempty"`
}

// Enum keeps labels in declaration (or catalog sort) order.
type Enum struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
	Map    string   `json:"map,omitempty"`
	Doc    string   `json:"doc,omitempty"`
}

// StorageName is the name of the enum type in the database.
func (e Enum) StorageName() string {
	if e.Map != "" {
		return e.Map
	}
	return strings.ToLower(e.Name)
}

// Table looks up a table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Enum looks up an enum by its storage name.
func (s Schema) Enum(storageName string) (Enum, bool) {
	for _, e := range s.Enums {
		if e.StorageName() == storageName {
			return e, true
		}
	}
	return Enum{}, false
}

func (s Schema) Model(name string) (Model, bool) {
	for _, m := range s.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasIndex reports whether an index over exactly these columns with the same
// uniqueness exists. Names are ignored because engines generate them.
func (t Table) HasIndex(columns []string, unique bool) bool {
	for _, idx := range t.Indexes {
		if idx.Unique == unique && equalStrings(idx.Columns, columns) {
			return true
		}
	}
	return false
}

func (t Table) HasForeignKey(fk ForeignKey) bool {
	for _, existing := range t.ForeignKeys {
		if existing.RefTable == fk.RefTable &&
			equalStrings(existing.Columns, fk.Columns) &&
			equalStrings(existing.RefColumns, fk.RefColumns) {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EqualStrings compares two ordered name lists.
func EqualStrings(a, b []string) bool { return equalStrings(a, b) }
