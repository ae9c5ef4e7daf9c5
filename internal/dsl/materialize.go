package dsl

import (
	"strings"

	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

// Materialize derives the physical tables described by the models of s.
// Ignored models and fields, and relation fields, produce nothing.
func Materialize(s schema.Schema) []schema.Table {
	var tables []schema.Table
	for _, m := range s.Models {
		if m.Ignored {
			continue
		}
		tables = append(tables, materializeModel(s, m))
	}
	return tables
}

func materializeModel(s schema.Schema, m schema.Model) schema.Table {
	t := schema.Table{Name: m.TableName()}
	for _, f := range m.Fields {
		if f.IsRelation() || f.Ignored {
			continue
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:     f.ColumnName(),
			Type:     ColumnType(s, f),
			Nullable: !f.Required(),
			Default:  f.Default,
			Unique:   f.Unique,
		})
		if f.ID {
			t.PrimaryKey = append(t.PrimaryKey, f.ColumnName())
		}
		if f.Unique {
			t.Indexes = append(t.Indexes, schema.Index{
				Name:    indexName(t.Name, []string{f.ColumnName()}, "key"),
				Columns: []string{f.ColumnName()},
				Unique:  true,
			})
		}
	}
	if len(t.PrimaryKey) == 0 {
		t.PrimaryKey = columnNames(m, m.PrimaryKey)
	}
	for _, idx := range m.Indexes {
		cols := columnNames(m, idx.Columns)
		name := idx.Name
		if name == "" {
			suffix := "idx"
			if idx.Unique {
				suffix = "key"
			}
			name = indexName(t.Name, cols, suffix)
		}
		t.Indexes = append(t.Indexes, schema.Index{Name: name, Columns: cols, Unique: idx.Unique})
	}
	for _, f := range m.Fields {
		if f.Relation == nil || len(f.Relation.Fields) == 0 {
			continue
		}
		target, _ := s.Model(f.Type)
		cols := columnNames(m, f.Relation.Fields)
		t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKey{
			Name:       indexName(t.Name, cols, "fkey"),
			Columns:    cols,
			RefTable:   target.TableName(),
			RefColumns: columnNames(target, f.Relation.References),
			OnDelete:   referentialAction(f.Relation.OnDelete),
			OnUpdate:   referentialAction(f.Relation.OnUpdate),
		})
	}
	return t
}

// ColumnType is the canonical physical type of a scalar or enum field.
func ColumnType(s schema.Schema, f schema.Field) string {
	typ, ok := typemap.Declared(f.Type, f.Native)
	if !ok {
		for _, e := range s.Enums {
			if e.Name == f.Type {
				typ = e.StorageName()
				break
			}
		}
	}
	if f.List {
		return typemap.List(typ)
	}
	return typ
}

func columnNames(m schema.Model, fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, len(fields))
	for i, name := range fields {
		out[i] = name
		if f, ok := m.Field(name); ok {
			out[i] = f.ColumnName()
		}
	}
	return out
}

func indexName(table string, cols []string, suffix string) string {
	return table + "_" + strings.Join(cols, "_") + "_" + suffix
}
