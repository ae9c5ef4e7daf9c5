package db

import (
	"regexp"
	"strings"

	"schemasync/internal/schema"
)

// catalog accumulates introspected rows into a schema.Schema, keeping tables
// in the order the catalog listed them.
type catalog struct {
	order  []string
	tables map[string]*schema.Table
	enums  []schema.Enum
}

func newCatalog() *catalog {
	return &catalog{tables: map[string]*schema.Table{}}
}

func (c *catalog) addTable(name string) {
	if _, ok := c.tables[name]; ok {
		return
	}
	c.order = append(c.order, name)
	c.tables[name] = &schema.Table{Name: name, Columns: []schema.Column{}}
}

func (c *catalog) table(name string) (*schema.Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

func (c *catalog) addIndexColumn(table, name string, unique bool, column string) {
	t, ok := c.table(table)
	if !ok {
		return
	}
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			t.Indexes[i].Columns = append(t.Indexes[i].Columns, column)
			return
		}
	}
	t.Indexes = append(t.Indexes, schema.Index{Name: name, Columns: []string{column}, Unique: unique})
}

func (c *catalog) addForeignKeyColumn(table, name, column, refTable, refColumn, onDelete, onUpdate string) {
	t, ok := c.table(table)
	if !ok {
		return
	}
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Name == name {
			t.ForeignKeys[i].Columns = append(t.ForeignKeys[i].Columns, column)
			t.ForeignKeys[i].RefColumns = append(t.ForeignKeys[i].RefColumns, refColumn)
			return
		}
	}
	t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKey{
		Name:       name,
		Columns:    []string{column},
		RefTable:   refTable,
		RefColumns: []string{refColumn},
		OnDelete:   onDelete,
		OnUpdate:   onUpdate,
	})
}

func (c *catalog) result() schema.Schema {
	out := schema.Schema{Tables: make([]schema.Table, 0, len(c.order)), Enums: c.enums}
	for _, name := range c.order {
		t := c.tables[name]
		// Single-column unique indexes mark the column unique.
		for _, idx := range t.Indexes {
			if !idx.Unique || len(idx.Columns) != 1 {
				continue
			}
			for i := range t.Columns {
				if t.Columns[i].Name == idx.Columns[0] {
					t.Columns[i].Unique = true
				}
			}
		}
		out.Tables = append(out.Tables, *t)
	}
	return out
}

var (
	quotedLiteral = regexp.MustCompile(`^'((?:[^']|'')*)'(?:::[\w\s".\[\]]+)?$`)
	numberLiteral = regexp.MustCompile(`^\(?(-?\d+(?:\.\d+)?)\)?(?:::[\w\s]+)?$`)
)

// parseDefault turns a catalog column default back into a schema.Default.
// quoted reports whether the catalog quotes string defaults (postgres does,
// mysql does not).
func parseDefault(raw string, quoted bool) *schema.Default {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") || strings.HasPrefix(strings.ToLower(raw), "null::") {
		return nil
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "nextval("):
		return &schema.Default{Kind: schema.DefaultAutoincrement}
	case strings.HasPrefix(lower, "now()"), strings.HasPrefix(lower, "current_timestamp"):
		return &schema.Default{Kind: schema.DefaultNow}
	case lower == "gen_random_uuid()", lower == "uuid_generate_v4()", lower == "uuid()":
		return &schema.Default{Kind: schema.DefaultUUID}
	case lower == "true", lower == "false":
		return &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralBoolean, Value: lower}
	}
	if m := numberLiteral.FindStringSubmatch(raw); m != nil {
		return &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralNumber, Value: m[1]}
	}
	if m := quotedLiteral.FindStringSubmatch(raw); m != nil {
		return &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralString, Value: strings.ReplaceAll(m[1], "''", "'")}
	}
	if !quoted {
		return &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralString, Value: raw}
	}
	return &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralOpaque, Value: raw}
}
