// Package diff compares two declared schemas and produces the changes that
// turn the first into the second.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"schemasync/internal/dsl"
	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

// Compare returns the changes from schema a to schema b. Order is enum
// creations and additions, created tables, column changes, indexes, foreign
// keys, dropped tables, then dropped enums, so every statement only depends
// on earlier ones.
func Compare(a, b schema.Schema) []schema.Change {
	aTables, bTables := tablesOf(a), tablesOf(b)

	var (
		enums, tables, columns, indexes, fks, drops, enumDrops []schema.Change
	)

	for _, e := range b.Enums {
		old, ok := a.Enum(e.StorageName())
		if !ok {
			enums = append(enums, schema.CreateEnum{Enum: e})
			continue
		}
		for _, v := range difference(e.Values, old.Values) {
			enums = append(enums, schema.AddEnumValue{Enum: e.StorageName(), Value: v})
		}
	}
	for _, e := range a.Enums {
		if _, ok := b.Enum(e.StorageName()); !ok {
			enumDrops = append(enumDrops, schema.DropEnum{Enum: e})
		}
	}

	for _, name := range sortedKeys(bTables) {
		tb := bTables[name]
		ta, ok := aTables[name]
		if !ok {
			create := tb
			create.Indexes = nil
			create.ForeignKeys = nil
			tables = append(tables, schema.CreateTable{Table: create})
			ta = schema.Table{Name: name}
		} else {
			columns = append(columns, compareColumns(ta, tb)...)
		}
		for _, idx := range ta.Indexes {
			if !tb.HasIndex(idx.Columns, idx.Unique) {
				indexes = append(indexes, schema.DropIndex{Table: name, Index: idx})
			}
		}
		for _, idx := range tb.Indexes {
			if !ta.HasIndex(idx.Columns, idx.Unique) {
				indexes = append(indexes, schema.CreateIndex{Table: name, Index: idx})
			}
		}
		for _, fk := range ta.ForeignKeys {
			if !tb.HasForeignKey(fk) {
				fks = append(fks, schema.DropForeignKey{Table: name, ForeignKey: fk})
			}
		}
		for _, fk := range tb.ForeignKeys {
			if !ta.HasForeignKey(fk) {
				fks = append(fks, schema.AddForeignKey{Table: name, ForeignKey: fk})
			}
		}
	}
	for _, name := range sortedKeys(aTables) {
		if _, ok := bTables[name]; !ok {
			drops = append(drops, schema.DropTable{Table: aTables[name]})
		}
	}

	var out []schema.Change
	for _, group := range [][]schema.Change{enums, tables, columns, indexes, fks, drops, enumDrops} {
		out = append(out, group...)
	}
	return out
}

func compareColumns(a, b schema.Table) []schema.Change {
	var out []schema.Change
	for _, col := range b.Columns {
		old, ok := a.Column(col.Name)
		if !ok {
			out = append(out, schema.AddColumn{Table: b.Name, Column: col})
			continue
		}
		if !typemap.Match(old.Type, col.Type) || old.Nullable != col.Nullable {
			out = append(out, schema.AlterColumn{Table: b.Name, Before: old, After: col})
		}
	}
	for _, col := range a.Columns {
		if _, ok := b.Column(col.Name); !ok {
			out = append(out, schema.DropColumn{Table: a.Name, Column: col})
		}
	}
	return out
}

// tablesOf keys the physical tables of s by name, materializing models when
// the snapshot carries them.
func tablesOf(s schema.Schema) map[string]schema.Table {
	tables := s.Tables
	if len(s.Models) > 0 {
		tables = dsl.Materialize(s)
	}
	out := make(map[string]schema.Table, len(tables))
	for _, t := range tables {
		out[t.Name] = t
	}
	return out
}

// Describe returns a human-readable summary of changes.
func Describe(changes []schema.Change) string {
	if len(changes) == 0 {
		return "schemas match"
	}
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		lines = append(lines, describe(c))
	}
	return strings.Join(lines, "\n")
}

func describe(c schema.Change) string {
	switch c := c.(type) {
	case schema.CreateTable:
		return fmt.Sprintf("create table %s (%d columns)", c.Table.Name, len(c.Table.Columns))
	case schema.DropTable:
		return fmt.Sprintf("drop table %s", c.Table.Name)
	case schema.AddColumn:
		return fmt.Sprintf("add column %s %s", c.Object(), c.Column.Type)
	case schema.DropColumn:
		return fmt.Sprintf("drop column %s", c.Object())
	case schema.AlterColumn:
		return fmt.Sprintf("alter column %s (%s NULL:%v -> %s NULL:%v)", c.Object(),
			c.Before.Type, c.Before.Nullable, c.After.Type, c.After.Nullable)
	case schema.CreateEnum:
		return fmt.Sprintf("create enum %s (%s)", c.Object(), strings.Join(c.Enum.Values, ", "))
	case schema.DropEnum:
		return fmt.Sprintf("drop enum %s", c.Object())
	case schema.AddEnumValue:
		return fmt.Sprintf("add enum label %s.%s", c.Enum, c.Value)
	case schema.CreateIndex:
		return fmt.Sprintf("create index %s on %s (%s)", c.Index.Name, c.Table, strings.Join(c.Index.Columns, ", "))
	case schema.DropIndex:
		return fmt.Sprintf("drop index %s", c.Index.Name)
	case schema.AddForeignKey:
		return fmt.Sprintf("add foreign key %s -> %s", c.Object(), c.ForeignKey.RefTable)
	case schema.DropForeignKey:
		return fmt.Sprintf("drop foreign key %s", c.Object())
	}
	return fmt.Sprintf("%T %s", c, c.Object())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// difference returns the items of a missing from b, in a's order.
func difference(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
