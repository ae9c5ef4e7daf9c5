package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"schemasync/internal/migration"
	"schemasync/internal/schema"
	"schemasync/internal/typemap"
)

// MySQLAdapter introspects MySQL catalogs. Enums are inline column types
// there and come back as the column's raw type; migration SQL is only
// generated for postgres.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQL(db *sql.DB) *MySQLAdapter { return &MySQLAdapter{db: db} }

func (m *MySQLAdapter) Provider() string { return "mysql" }

func (m *MySQLAdapter) Close() error { return m.db.Close() }

func (m *MySQLAdapter) DB() *sql.DB { return m.db }

var mysqlLedger = ledgerSQL{
	quote: quoteBacktick,
	ph:    func(int) string { return "?" },
	create: `
CREATE TABLE IF NOT EXISTS %s (
	id varchar(36) PRIMARY KEY,
	checksum varchar(64) NOT NULL,
	finished_at datetime(3),
	migration_name varchar(255) NOT NULL,
	logs text,
	rolled_back_at datetime(3),
	started_at datetime(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	applied_steps_count int unsigned NOT NULL DEFAULT 0
) ENGINE=InnoDB`,
	exists: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?)`,
}

func (m *MySQLAdapter) EnsureLedgerTable(ctx context.Context, table string) error {
	return mysqlLedger.ensure(ctx, m.db, table)
}

func (m *MySQLAdapter) FetchLedger(ctx context.Context, table string) ([]migration.Record, error) {
	return mysqlLedger.fetch(ctx, m.db, m.Provider(), table)
}

func (m *MySQLAdapter) InsertLedgerRow(ctx context.Context, ex Execer, table string, rec migration.Record) error {
	return mysqlLedger.insert(ctx, ex, table, rec)
}

func (m *MySQLAdapter) FinishLedgerRow(ctx context.Context, ex Execer, table string, rec migration.Record) error {
	return mysqlLedger.finish(ctx, ex, table, rec)
}

func (m *MySQLAdapter) MarkRolledBack(ctx context.Context, ex Execer, table, id string, at time.Time) error {
	return mysqlLedger.rolledBack(ctx, ex, table, id, at)
}

// FetchSchema reads one database; an empty name means the connection's
// current database.
func (m *MySQLAdapter) FetchSchema(ctx context.Context, schemaName string) (schema.Schema, error) {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		if err := m.db.QueryRowContext(ctx, `SELECT DATABASE()`).Scan(&schemaName); err != nil {
			return schema.Schema{}, &IntrospectionError{Provider: m.Provider(), Stage: "database", Err: err}
		}
	}
	c := newCatalog()
	steps := []struct {
		stage string
		run   func(context.Context, string, *catalog) error
	}{
		{"tables", m.fetchTables},
		{"columns", m.fetchColumns},
		{"primary keys", m.fetchPrimaryKeys},
		{"indexes", m.fetchIndexes},
		{"foreign keys", m.fetchForeignKeys},
	}
	for _, s := range steps {
		if err := s.run(ctx, schemaName, c); err != nil {
			return schema.Schema{}, &IntrospectionError{Provider: m.Provider(), Stage: s.stage, Err: err}
		}
	}
	return c.result(), nil
}

func (m *MySQLAdapter) fetchTables(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := m.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema=? AND table_type='BASE TABLE'
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

func (m *MySQLAdapter) fetchColumns(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := m.db.QueryContext(ctx, `
SELECT table_name, column_name, column_type, is_nullable, column_default, extra
FROM information_schema.columns
WHERE table_schema=?
ORDER BY table_name, ordinal_position`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tbl, col, colType, nullable, extra string
		var def sql.NullString
		if err := rows.Scan(&tbl, &col, &colType, &nullable, &def, &extra); err != nil {
			return err
		}
		t, ok := c.table(tbl)
		if !ok {
			continue
		}
		column := schema.Column{
			Name:     col,
			Type:     typemap.Native(typemap.MySQL, strings.TrimSuffix(strings.ToLower(colType), " unsigned")),
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if strings.Contains(strings.ToLower(extra), "auto_increment") {
			column.Default = &schema.Default{Kind: schema.DefaultAutoincrement}
		} else if def.Valid {
			column.Default = parseDefault(def.String, false)
		}
		t.Columns = append(t.Columns, column)
	}
	return rows.Err()
}

func (m *MySQLAdapter) fetchPrimaryKeys(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := m.db.QueryContext(ctx, `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
 ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.table_schema=? AND tc.constraint_type='PRIMARY KEY'
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

func (m *MySQLAdapter) fetchIndexes(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := m.db.QueryContext(ctx, `
SELECT table_name, index_name, non_unique, column_name
FROM information_schema.statistics
WHERE table_schema=? AND index_name <> 'PRIMARY'
ORDER BY table_name, index_name, seq_in_index`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tbl, idx, col string
		var nonUnique int
		if err := rows.Scan(&tbl, &idx, &nonUnique, &col); err != nil {
			return err
		}
		c.addIndexColumn(tbl, idx, nonUnique == 0, col)
	}
	return rows.Err()
}

func (m *MySQLAdapter) fetchForeignKeys(ctx context.Context, schemaName string, c *catalog) error {
	rows, err := m.db.QueryContext(ctx, `
SELECT kcu.constraint_name, kcu.table_name, kcu.column_name, kcu.referenced_table_name, kcu.referenced_column_name,
       rc.delete_rule, rc.update_rule
FROM information_schema.key_column_usage kcu
JOIN information_schema.referential_constraints rc
  ON rc.constraint_schema = kcu.table_schema
 AND rc.constraint_name = kcu.constraint_name
WHERE kcu.table_schema=? AND kcu.referenced_table_name IS NOT NULL
ORDER BY kcu.table_name, kcu.constraint_name, kcu.ordinal_position`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, tbl, col, refTbl, refCol, onDelete, onUpdate string
		if err := rows.Scan(&name, &tbl, &col, &refTbl, &refCol, &onDelete, &onUpdate); err != nil {
			return err
		}
		c.addForeignKeyColumn(tbl, name, col, refTbl, refCol, mysqlAction(onDelete), mysqlAction(onUpdate))
	}
	return rows.Err()
}

func mysqlAction(rule string) string {
	if strings.EqualFold(rule, "NO ACTION") {
		return ""
	}
	return strings.ToUpper(rule)
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
