// Package ddl renders schema changes as postgres statements and knows the
// inverse of each change.
package ddl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

var ErrUnsupportedChange = errors.New("unsupported change")

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reserved holds the postgres keywords that cannot be used as a table or
// column name unquoted. "user" is left out: generated SQL keeps it bare.
var reserved = map[string]bool{}

func init() {
	for _, kw := range strings.Fields(`
		all analyse analyze and any array as asc asymmetric authorization binary both
		case cast check collate collation column concurrently constraint create cross
		current_catalog current_date current_role current_schema current_time
		current_timestamp current_user default deferrable desc distinct do else end
		except false fetch for foreign freeze from full grant group having ilike in
		initially inner intersect into is isnull join lateral leading left like limit
		localtime localtimestamp natural not notnull null offset on only or order outer
		overlaps placing primary references returning right select session_user similar
		some symmetric system_user table tablesample then to trailing true union unique
		using variadic verbose when where window with`) {
		reserved[kw] = true
	}
}

// Ident quotes name only when postgres would otherwise fold or reject it.
func Ident(name string) string {
	if plainIdent.MatchString(name) && !reserved[name] {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Literal renders a single-quoted string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func identList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Ident(n)
	}
	return strings.Join(out, ", ")
}

var plainType = regexp.MustCompile(`^[a-z][a-z0-9_ ]*$`)

// ColumnType renders a canonical type. Built-in names pass through; anything
// else is a user-defined type and is quoted as an identifier.
func ColumnType(t string) string {
	elem, array := strings.CutSuffix(t, "[]")
	out := elem
	if !plainType.MatchString(elem) {
		out = Ident(elem)
	}
	if array {
		out += "[]"
	}
	return out
}

// Render returns the statements implementing c, each terminated by ";".
func Render(c schema.Change) ([]string, error) {
	switch c := c.(type) {
	case schema.CreateTable:
		return []string{createTable(c.Table, c.IfNotExists)}, nil
	case schema.DropTable:
		return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s;", Ident(c.Table.Name))}, nil
	case schema.AddColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", Ident(c.Table), columnDef(c.Column))}, nil
	case schema.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;", Ident(c.Table), Ident(c.Column.Name))}, nil
	case schema.AlterColumn:
		return alterColumn(c), nil
	case schema.CreateEnum:
		labels := make([]string, len(c.Enum.Values))
		for i, v := range c.Enum.Values {
			labels[i] = Literal(v)
		}
		return []string{fmt.Sprintf("CREATE TYPE %s AS ENUM (%s);", Ident(c.Enum.StorageName()), strings.Join(labels, ", "))}, nil
	case schema.DropEnum:
		return []string{fmt.Sprintf("DROP TYPE IF EXISTS %s;", Ident(c.Enum.StorageName()))}, nil
	case schema.AddEnumValue:
		return []string{fmt.Sprintf("ALTER TYPE %s ADD VALUE %s;", Ident(c.Enum), Literal(c.Value))}, nil
	case schema.CreateIndex:
		unique := ""
		if c.Index.Unique {
			unique = "UNIQUE "
		}
		return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s);", unique, Ident(c.Index.Name), Ident(c.Table), identList(c.Index.Columns))}, nil
	case schema.DropIndex:
		return []string{fmt.Sprintf("DROP INDEX IF EXISTS %s;", Ident(c.Index.Name))}, nil
	case schema.AddForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD %s;", Ident(c.Table), foreignKeyDef(c.ForeignKey))}, nil
	case schema.DropForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", Ident(c.Table), Ident(c.ForeignKey.Name))}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedChange, c)
}

// RenderAll renders changes in order.
func RenderAll(changes []schema.Change) ([]string, error) {
	var out []string
	for _, c := range changes {
		stmts, err := Render(c)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

func createTable(t schema.Table, ifNotExists bool) string {
	var defs []string
	for _, col := range t.Columns {
		defs = append(defs, "  "+columnDef(col))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "  PRIMARY KEY ("+identList(t.PrimaryKey)+")")
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, "  "+foreignKeyDef(fk))
	}
	guard := ""
	if ifNotExists {
		guard = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (\n%s\n);", guard, Ident(t.Name), strings.Join(defs, ",\n"))
}

func columnDef(c schema.Column) string {
	typ := ColumnType(c.Type)
	var def string
	if c.Default != nil {
		if c.Default.Kind == schema.DefaultAutoincrement {
			typ = serialType(c.Type)
		} else {
			def = DefaultExpr(*c.Default)
		}
	}
	out := Ident(c.Name) + " " + typ
	if !c.Nullable {
		out += " NOT NULL"
	}
	if def != "" {
		out += " DEFAULT " + def
	}
	return out
}

func serialType(t string) string {
	switch t {
	case typemap.BigInt:
		return "bigserial"
	case typemap.SmallInt:
		return "smallserial"
	}
	return "serial"
}

var (
	dbGenerated = regexp.MustCompile(`^dbgenerated\("(.*)"\)$`)
	bareLabel   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// DefaultExpr renders a default as a SQL expression. It returns "" for
// defaults the application generates itself.
func DefaultExpr(d schema.Default) string {
	switch d.Kind {
	case schema.DefaultNow:
		return "CURRENT_TIMESTAMP"
	case schema.DefaultUUID:
		return "gen_random_uuid()"
	case schema.DefaultCUID, schema.DefaultAutoincrement:
		return ""
	}
	switch d.Literal {
	case schema.LiteralString:
		return Literal(d.Value)
	case schema.LiteralNumber, schema.LiteralBoolean:
		return d.Value
	}
	if m := dbGenerated.FindStringSubmatch(d.Value); m != nil {
		return strings.ReplaceAll(m[1], `\"`, `"`)
	}
	// A bare identifier is an enum label.
	if bareLabel.MatchString(d.Value) {
		return Literal(d.Value)
	}
	return d.Value
}

func foreignKeyDef(fk schema.ForeignKey) string {
	out := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		Ident(fk.Name), identList(fk.Columns), Ident(fk.RefTable), identList(fk.RefColumns))
	if fk.OnDelete != "" {
		out += " ON DELETE " + fk.OnDelete
	}
	if fk.OnUpdate != "" {
		out += " ON UPDATE " + fk.OnUpdate
	}
	return out
}

func alterColumn(c schema.AlterColumn) []string {
	var out []string
	table, col := Ident(c.Table), Ident(c.After.Name)
	if !typemap.Match(c.Before.Type, c.After.Type) {
		typ := ColumnType(c.After.Type)
		out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;", table, col, typ, col, typ))
	}
	if c.Before.Nullable != c.After.Nullable {
		if c.After.Nullable {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", table, col))
		} else {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, col))
		}
	}
	return out
}
