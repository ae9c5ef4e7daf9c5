package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"schemasync/internal/migration"
	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

type PostgresAdapter struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *PostgresAdapter { return &PostgresAdapter{db: db} }

func (p *PostgresAdapter) Provider() string { return "postgres" }

func (p *PostgresAdapter) Close() error { return p.db.Close() }

func (p *PostgresAdapter) DB() *sql.DB { return p.db }

var pgLedger = ledgerSQL{
	quote: quoteIdent,
	ph:    func(n int) string { return fmt.Sprintf("$%d", n) },
	create: `
CREATE TABLE IF NOT EXISTS %s (
	id varchar(36) PRIMARY KEY,
	checksum varchar(64) NOT NULL,
	finished_at timestamptz,
	migration_name varchar(255) NOT NULL,
	logs text,
	rolled_back_at timestamptz,
	started_at timestamptz NOT NULL DEFAULT now(),
	applied_steps_count integer NOT NULL DEFAULT 0
)`,
	exists: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
}

func (p *PostgresAdapter) EnsureLedgerTable(ctx context.Context, table string) error {
	return pgLedger.ensure(ctx, p.db, table)
}

func (p *PostgresAdapter) FetchLedger(ctx context.Context, table string) ([]migration.Record, error) {
	return pgLedger.fetch(ctx, p.db, p.Provider(), table)
}

func (p *PostgresAdapter) InsertLedgerRow(ctx context.Context, ex Execer, table string, rec migration.Record) error {
	return pgLedger.insert(ctx, ex, table, rec)
}

func (p *PostgresAdapter) FinishLedgerRow(ctx context.Context, ex Execer, table string, rec migration.Record) error {
	return pgLedger.finish(ctx, ex, table, rec)
}

func (p *PostgresAdapter) MarkRolledBack(ctx context.Context, ex Execer, table, id string, at time.Time) error {
	return pgLedger.rolledBack(ctx, ex, table, id, at)
}

// FetchSchema reads tables, columns, keys, indexes, foreign keys and enums
// of one schema ("public" when empty).
func (p *PostgresAdapter) FetchSchema(ctx context.Context, schemaName string) (schema.Schema, error) {
	if schemaName == "" {
		schemaName = "public"
	}
	c := newCatalog()
	steps := []struct {
		stage string
		run   func(context.Context, string, *catalog) error
	}{
		{"tables", p.fetchTables},
		{"columns", p.fetchColumns},
		{"primary keys", p.fetchPrimaryKeys},
		{"indexes", p.fetchIndexes},
		{"foreign keys", p.fetchForeignKeys},
		{"enums", p.fetchEnums},
	}
	for _, s := range steps {
		if err := s.run(ctx, schemaName, c); err != nil {
			return schema.Schema{}, &IntrospectionError{Provider: p.Provider(), Stage: s.stage, Err: err}
		}
	}
	return c.result(), nil
}

func (p *PostgresAdapter) fetchTables(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema=$1 AND table_type='BASE TABLE'
ORDER BY table_name`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		c.addTable(name)
	}
	return rows.Err()
}

func (p *PostgresAdapter) fetchColumns(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, udt_name, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema=$1
ORDER BY table_name, ordinal_position`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tbl, col, dataType, udt, nullable string
		var def sql.NullString
		if err := rows.Scan(&tbl, &col, &dataType, &udt, &nullable, &def); err != nil {
			return err
		}
		t, ok := c.table(tbl)
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:     col,
			Type:     pgColumnType(dataType, udt),
			Nullable: strings.EqualFold(nullable, "YES"),
			Default:  parseDefault(def.String, true),
		})
	}
	return rows.Err()
}

// pgColumnType resolves information_schema's data_type: enums report
// USER-DEFINED and arrays ARRAY, both named by udt_name instead.
func pgColumnType(dataType, udt string) string {
	switch dataType {
	case "USER-DEFINED", "ARRAY":
		return typemap.Native(typemap.Postgres, udt)
	}
	return typemap.Native(typemap.Postgres, dataType)
}

func (p *PostgresAdapter) fetchPrimaryKeys(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.table_schema=$1 AND tc.constraint_type='PRIMARY KEY'
ORDER BY tc.table_name, kcu.ordinal_position`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tbl, col string
		if err := rows.Scan(&tbl, &col); err != nil {
			return err
		}
		if t, ok := c.table(tbl); ok {
			t.PrimaryKey = append(t.PrimaryKey, col)
		}
	}
	return rows.Err()
}

func (p *PostgresAdapter) fetchIndexes(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT t.relname, i.relname, ix.indisunique, a.attname
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE n.nspname = $1 AND NOT ix.indisprimary
ORDER BY t.relname, i.relname, k.ord`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tbl, idx, col string
		var unique bool
		if err := rows.Scan(&tbl, &idx, &unique, &col); err != nil {
			return err
		}
		c.addIndexColumn(tbl, idx, unique, col)
	}
	return rows.Err()
}

func (p *PostgresAdapter) fetchForeignKeys(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT con.conname, src.relname, a.attname, ref.relname, ra.attname, con.confdeltype, con.confupdtype
FROM pg_constraint con
JOIN pg_class src ON src.oid = con.conrelid
JOIN pg_class ref ON ref.oid = con.confrelid
JOIN pg_namespace n ON n.oid = src.relnamespace
JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src_att, ref_att, ord) ON true
JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.src_att
JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.ref_att
WHERE con.contype = 'f' AND n.nspname = $1
ORDER BY src.relname, con.conname, k.ord`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, tbl, col, refTbl, refCol, onDelete, onUpdate string
		if err := rows.Scan(&name, &tbl, &col, &refTbl, &refCol, &onDelete, &onUpdate); err != nil {
			return err
		}
		c.addForeignKeyColumn(tbl, name, col, refTbl, refCol, pgAction(onDelete), pgAction(onUpdate))
	}
	return rows.Err()
}

// pgAction decodes pg_constraint's one-letter referential actions. NO ACTION
// is the default and reported as empty.
func pgAction(code string) string {
	switch code {
	case "r":
		return "RESTRICT"
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	}
	return ""
}

func (p *PostgresAdapter) fetchEnums(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT t.typname, e.enumlabel
FROM pg_type t
JOIN pg_enum e ON e.enumtypid = t.oid
JOIN pg_namespace n ON n.oid = t.typnamespace
WHERE n.nspname = $1
ORDER BY t.typname, e.enumsortorder`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return err
		}
		if n := len(c.enums); n > 0 && c.enums[n-1].Name == name {
			c.enums[n-1].Values = append(c.enums[n-1].Values, label)
			continue
		}
		c.enums = append(c.enums, schema.Enum{Name: name, Map: name, Values: []string{label}})
	}
	return rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
