package schema

import (
	"errors"
	"fmt"
)

// Change is the closed set of structural changes. Only types in this package
// implement it; callers switch over the concrete variants.
type Change interface {
	// Object returns the dotted locator of the changed object.
	Object() string
	change()
}

type CreateTable struct {
	Table Table
	// IfNotExists marks baseline statements that record an existing table.
	IfNotExists bool
}

type DropTable struct {
	Table Table
}

type AddColumn struct {
	Table  string
	Column Column
}

type DropColumn struct {
	Table  string
	Column Column
}

// AlterColumn changes type and/or nullability from Before to After.
type AlterColumn struct {
	Table  string
	Before Column
	After  Column
}

type CreateEnum struct {
	Enum Enum
}

type DropEnum struct {
	Enum Enum
}

type AddEnumValue struct {
	Enum  string
	Value string
}

type CreateIndex struct {
	Table string
	Index Index
}

type DropIndex struct {
	Table string
	Index Index
}

type AddForeignKey struct {
	Table      string
	ForeignKey ForeignKey
}

type DropForeignKey struct {
	Table      string
	ForeignKey ForeignKey
}

func (c CreateTable) Object() string    { return c.Table.Name }
func (c DropTable) Object() string      { return c.Table.Name }
func (c AddColumn) Object() string      { return c.Table + "." + c.Column.Name }
func (c DropColumn) Object() string     { return c.Table + "." + c.Column.Name }
func (c AlterColumn) Object() string    { return c.Table + "." + c.After.Name }
func (c CreateEnum) Object() string     { return c.Enum.StorageName() }
func (c DropEnum) Object() string       { return c.Enum.StorageName() }
func (c AddEnumValue) Object() string   { return c.Enum }
func (c CreateIndex) Object() string    { return c.Table + "." + c.Index.Name }
func (c DropIndex) Object() string      { return c.Table + "." + c.Index.Name }
func (c AddForeignKey) Object() string  { return c.Table + "." + c.ForeignKey.Name }
func (c DropForeignKey) Object() string { return c.Table + "." + c.ForeignKey.Name }

func (CreateTable) change()    {}
func (DropTable) change()      {}
func (AddColumn) change()      {}
func (DropColumn) change()     {}
func (AlterColumn) change()    {}
func (CreateEnum) change()     {}
func (DropEnum) change()       {}
func (AddEnumValue) change()   {}
func (CreateIndex) change()    {}
func (DropIndex) change()      {}
func (AddForeignKey) change()  {}
func (DropForeignKey) change() {}

var (
	ErrTableExists   = errors.New("table already exists")
	ErrTableNotFound = errors.New("table not found")
	ErrColumnExists  = errors.New("column already exists")
	ErrColumnMissing = errors.New("column not found")
	ErrEnumExists    = errors.New("enum already exists")
	ErrEnumNotFound  = errors.New("enum not found")
)

// Apply returns a new snapshot with the change applied. The input snapshot is
// never modified.
func Apply(s Schema, c Change) (Schema, error) {
	out := s.clone()
	switch c := c.(type) {
	case CreateTable:
		if _, ok := out.Table(c.Table.Name); ok {
			if c.IfNotExists {
				return out, nil
			}
			return s, fmt.Errorf("%s: %w", c.Table.Name, ErrTableExists)
		}
		out.Tables = append(out.Tables, cloneTable(c.Table))
	case DropTable:
		idx := out.tableIndex(c.Table.Name)
		if idx < 0 {
			return s, fmt.Errorf("%s: %w", c.Table.Name, ErrTableNotFound)
		}
		out.Tables = append(out.Tables[:idx], out.Tables[idx+1:]...)
	case AddColumn:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		if _, ok := t.Column(c.Column.Name); ok {
			return s, fmt.Errorf("%s: %w", c.Object(), ErrColumnExists)
		}
		t.Columns = append(t.Columns, c.Column)
	case DropColumn:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		i := columnIndex(t.Columns, c.Column.Name)
		if i < 0 {
			return s, fmt.Errorf("%s: %w", c.Object(), ErrColumnMissing)
		}
		t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
	case AlterColumn:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		i := columnIndex(t.Columns, c.Before.Name)
		if i < 0 {
			return s, fmt.Errorf("%s: %w", c.Object(), ErrColumnMissing)
		}
		// Only attributes that differ between Before and After change.
		col := t.Columns[i]
		if c.Before.Type != c.After.Type {
			col.Type = c.After.Type
		}
		if c.Before.Nullable != c.After.Nullable {
			col.Nullable = c.After.Nullable
		}
		t.Columns[i] = col
	case CreateEnum:
		if _, ok := out.Enum(c.Enum.StorageName()); ok {
			return s, fmt.Errorf("%s: %w", c.Object(), ErrEnumExists)
		}
		name := c.Enum.StorageName()
		out.Enums = append(out.Enums, Enum{Name: name, Map: name, Values: append([]string(nil), c.Enum.Values...)})
	case DropEnum:
		i := out.enumIndex(c.Enum.StorageName())
		if i < 0 {
			return s, fmt.Errorf("%s: %w", c.Object(), ErrEnumNotFound)
		}
		out.Enums = append(out.Enums[:i], out.Enums[i+1:]...)
	case AddEnumValue:
		i := out.enumIndex(c.Enum)
		if i < 0 {
			return s, fmt.Errorf("%s: %w", c.Enum, ErrEnumNotFound)
		}
		out.Enums[i].Values = append(out.Enums[i].Values, c.Value)
	case CreateIndex:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		t.Indexes = append(t.Indexes, c.Index)
		if c.Index.Unique && len(c.Index.Columns) == 1 {
			if i := columnIndex(t.Columns, c.Index.Columns[0]); i >= 0 {
				t.Columns[i].Unique = true
			}
		}
	case DropIndex:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		kept := t.Indexes[:0]
		for _, idx := range t.Indexes {
			if idx.Name != c.Index.Name {
				kept = append(kept, idx)
			}
		}
		t.Indexes = kept
	case AddForeignKey:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		t.ForeignKeys = append(t.ForeignKeys, c.ForeignKey)
	case DropForeignKey:
		t, err := out.mutableTable(c.Table)
		if err != nil {
			return s, err
		}
		kept := t.ForeignKeys[:0]
		for _, fk := range t.ForeignKeys {
			if fk.Name != c.ForeignKey.Name {
				kept = append(kept, fk)
			}
		}
		t.ForeignKeys = kept
	default:
		return s, fmt.Errorf("unsupported change %T", c)
	}
	return out, nil
}

func (s *Schema) mutableTable(name string) (*Table, error) {
	i := s.tableIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	return &s.Tables[i], nil
}

func (s Schema) tableIndex(name string) int {
	for i, t := range s.Tables {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) enumIndex(storageName string) int {
	for i, e := range s.Enums {
		if e.StorageName() == storageName {
			return i
		}
	}
	return -1
}

func columnIndex(cols []Column, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) clone() Schema {
	out := Schema{
		Tables: make([]Table, len(s.Tables)),
		Enums:  make([]Enum, len(s.Enums)),
		Models: append([]Model(nil), s.Models...),
	}
	for i, t := range s.Tables {
		out.Tables[i] = cloneTable(t)
	}
	for i, e := range s.Enums {
		e.Values = append([]string(nil), e.Values...)
		out.Enums[i] = e
	}
	return out
}

func cloneTable(t Table) Table {
	t.Columns = append([]Column(nil), t.Columns...)
	t.PrimaryKey = append([]string(nil), t.PrimaryKey...)
	t.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
	t.Indexes = append([]Index(nil), t.Indexes...)
	return t
}
