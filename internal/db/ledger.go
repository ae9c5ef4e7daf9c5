package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"schemasync/internal/migration"
)

// ledgerSQL holds the ledger statements of one dialect. The table layout
// matches the applied-migrations table migration tools keep:
// id, checksum, migration_name, started_at, finished_at, rolled_back_at,
// applied_steps_count, logs.
type ledgerSQL struct {
	quote  func(string) string
	ph     func(n int) string
	create string
	exists string
}

func (l ledgerSQL) placeholders(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = l.ph(i + 1)
	}
	return strings.Join(out, ", ")
}

func (l ledgerSQL) ensure(ctx context.Context, db *sql.DB, table string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(l.create, l.quote(table)))
	return err
}

func (l ledgerSQL) fetch(ctx context.Context, db *sql.DB, provider, table string) ([]migration.Record, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, l.exists, table).Scan(&exists); err != nil {
		return nil, &IntrospectionError{Provider: provider, Stage: "ledger", Err: err}
	}
	if !exists {
		return []migration.Record{}, nil
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, checksum, migration_name, started_at, finished_at, rolled_back_at, applied_steps_count, logs
FROM %s
ORDER BY started_at, id`, l.quote(table)))
	if err != nil {
		return nil, &IntrospectionError{Provider: provider, Stage: "ledger", Err: err}
	}
	defer rows.Close()

	out := []migration.Record{}
	for rows.Next() {
		var (
			rec                  migration.Record
			finished, rolledBack sql.NullTime
			logs                 sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Checksum, &rec.MigrationName, &rec.StartedAt, &finished, &rolledBack, &rec.AppliedStepsCount, &logs); err != nil {
			return nil, &IntrospectionError{Provider: provider, Stage: "ledger", Err: err}
		}
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		if rolledBack.Valid {
			t := rolledBack.Time
			rec.RolledBackAt = &t
		}
		rec.Logs = logs.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &IntrospectionError{Provider: provider, Stage: "ledger", Err: err}
	}
	return out, nil
}

func (l ledgerSQL) insert(ctx context.Context, ex Execer, table string, rec migration.Record) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
	(id, checksum, migration_name, started_at, finished_at, rolled_back_at, applied_steps_count, logs)
	VALUES (%s)`, l.quote(table), l.placeholders(8))
	_, err := ex.ExecContext(ctx, stmt,
		rec.ID,
		rec.Checksum,
		rec.MigrationName,
		rec.StartedAt,
		nullTime(rec.FinishedAt),
		nullTime(rec.RolledBackAt),
		rec.AppliedStepsCount,
		nullString(rec.Logs),
	)
	return err
}

func (l ledgerSQL) finish(ctx context.Context, ex Execer, table string, rec migration.Record) error {
	stmt := fmt.Sprintf(`UPDATE %s SET finished_at=%s, applied_steps_count=%s, logs=%s WHERE id=%s`,
		l.quote(table), l.ph(1), l.ph(2), l.ph(3), l.ph(4))
	_, err := ex.ExecContext(ctx, stmt, nullTime(rec.FinishedAt), rec.AppliedStepsCount, nullString(rec.Logs), rec.ID)
	return err
}

func (l ledgerSQL) rolledBack(ctx context.Context, ex Execer, table, id string, at time.Time) error {
	stmt := fmt.Sprintf(`UPDATE %s SET rolled_back_at=%s WHERE id=%s`, l.quote(table), l.ph(1), l.ph(2))
	res, err := ex.ExecContext(ctx, stmt, at, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger row %s not found", id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
