// Package executor runs migrations against the target database and keeps
// the ledger and tracking table in step with the outcome.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schemasync/internal/db"
	"schemasync/internal/ddl"
	"schemasync/internal/events"
	"schemasync/internal/ledger"
	"schemasync/internal/migration"
)

var (
	ErrAlreadyApplied   = errors.New("migration already applied")
	ErrChecksumMismatch = errors.New("migration already applied with different checksum")
	ErrNotCompleted     = errors.New("only completed migrations can be rolled back")
	ErrNoRollback       = errors.New("migration has no rollback script")
	ErrNotApplied       = errors.New("migration has no applied ledger row")
	ErrEmpty            = errors.New("migration has no statements")
)

// TransactionError reports the statement that failed. Err is the driver's
// error, unchanged.
type TransactionError struct {
	MigrationID string
	// Index is the zero-based statement index, or -1 for bookkeeping
	// statements and commit.
	Index     int
	Statement string
	Err       error
}

func (e *TransactionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("migration %s: %s: %v", e.MigrationID, e.Statement, e.Err)
	}
	return fmt.Sprintf("migration %s: statement %d failed: %v", e.MigrationID, e.Index+1, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Tracker moves a migration through its status machine.
type Tracker interface {
	UpdateStatus(ctx context.Context, id string, to migration.Status, errMsg string) error
}

type Executor struct {
	adapter     db.Adapter
	ledgerTable string
	tracker     Tracker
	sink        events.Sink
	now         func() time.Time
	newID       func() string
}

// New builds an executor. tracker may be nil when no tracking table is
// configured.
func New(adapter db.Adapter, ledgerTable string, tracker Tracker, sink events.Sink) *Executor {
	if sink == nil {
		sink = events.Nop
	}
	return &Executor{
		adapter:     adapter,
		ledgerTable: ledgerTable,
		tracker:     tracker,
		sink:        sink,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Apply runs m on a single connection. Atomic migrations run in one
// transaction together with their ledger row; others run statement by
// statement and leave an unfinished ledger row on failure. No statement is
// retried.
func (e *Executor) Apply(ctx context.Context, m *migration.Migration) error {
	span := events.Start(e.sink, events.CategoryMigration, "executor", "apply")
	steps, err := e.apply(ctx, m)
	details := map[string]any{"migration_id": m.ID, "atomic": m.Metadata.Atomic, "applied_steps": steps}
	if err != nil {
		span.End(ctx, err, "migration "+m.ID+" failed", details)
		return err
	}
	span.End(ctx, nil, "applied migration "+m.ID, details)
	return nil
}

func (e *Executor) apply(ctx context.Context, m *migration.Migration) (int, error) {
	if m.Status == migration.StatusCompleted {
		return 0, fmt.Errorf("%s: %w", m.ID, ErrAlreadyApplied)
	}
	stmts, wrapped := statements(m.SQL)
	if len(stmts) == 0 {
		return 0, fmt.Errorf("%s: %w", m.ID, ErrEmpty)
	}
	if err := e.checkLedger(ctx, m); err != nil {
		return 0, err
	}

	if err := e.transition(ctx, m, migration.StatusRunning, ""); err != nil {
		return 0, err
	}
	started := e.now()
	m.StartedAt = &started

	conn, err := e.adapter.DB().Conn(ctx)
	if err != nil {
		return 0, e.fail(ctx, m, &db.ConnectionError{Provider: e.adapter.Provider(), Attempts: 1, Err: err})
	}
	defer conn.Close()

	rec := migration.Record{ID: e.newID(), Checksum: m.Checksum, MigrationName: m.ID, StartedAt: started}
	var steps int
	if m.Metadata.Atomic || wrapped {
		steps, err = e.runAtomic(ctx, conn, m, stmts, rec)
	} else {
		steps, err = e.runEach(ctx, conn, m, stmts, rec)
	}
	if err != nil {
		return steps, e.fail(ctx, m, err)
	}

	finished := e.now()
	m.FinishedAt = &finished
	return steps, e.transition(ctx, m, migration.StatusCompleted, "")
}

func (e *Executor) runAtomic(ctx context.Context, conn *sql.Conn, m *migration.Migration, stmts []string, rec migration.Record) (int, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, &TransactionError{MigrationID: m.ID, Index: -1, Statement: "begin", Err: err}
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback() // nolint:errcheck
			return 0, &TransactionError{MigrationID: m.ID, Index: i, Statement: stmt, Err: err}
		}
	}
	finished := e.now()
	rec.FinishedAt = &finished
	rec.AppliedStepsCount = len(stmts)
	if err := e.adapter.InsertLedgerRow(ctx, tx, e.ledgerTable, rec); err != nil {
		tx.Rollback() // nolint:errcheck
		return 0, &TransactionError{MigrationID: m.ID, Index: -1, Statement: "record ledger row", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &TransactionError{MigrationID: m.ID, Index: -1, Statement: "commit", Err: err}
	}
	return len(stmts), nil
}

func (e *Executor) runEach(ctx context.Context, conn *sql.Conn, m *migration.Migration, stmts []string, rec migration.Record) (int, error) {
	if err := e.adapter.InsertLedgerRow(ctx, conn, e.ledgerTable, rec); err != nil {
		return 0, &TransactionError{MigrationID: m.ID, Index: -1, Statement: "record ledger row", Err: err}
	}
	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			txErr := &TransactionError{MigrationID: m.ID, Index: i, Statement: stmt, Err: err}
			rec.AppliedStepsCount = i
			rec.Logs = txErr.Error()
			if uerr := e.adapter.FinishLedgerRow(ctx, conn, e.ledgerTable, rec); uerr != nil {
				return i, errors.Join(txErr, fmt.Errorf("update ledger row: %w", uerr))
			}
			return i, txErr
		}
	}
	finished := e.now()
	rec.FinishedAt = &finished
	rec.AppliedStepsCount = len(stmts)
	if err := e.adapter.FinishLedgerRow(ctx, conn, e.ledgerTable, rec); err != nil {
		return len(stmts), &TransactionError{MigrationID: m.ID, Index: -1, Statement: "finish ledger row", Err: err}
	}
	return len(stmts), nil
}

// Rollback runs m's rollback script in one transaction and stamps the
// ledger row as rolled back.
func (e *Executor) Rollback(ctx context.Context, m *migration.Migration) error {
	span := events.Start(e.sink, events.CategoryMigration, "executor", "rollback")
	err := e.rollback(ctx, m)
	span.End(ctx, err, "rollback of migration "+m.ID, map[string]any{"migration_id": m.ID})
	return err
}

func (e *Executor) rollback(ctx context.Context, m *migration.Migration) error {
	if m.Status != migration.StatusCompleted {
		return fmt.Errorf("%s is %s: %w", m.ID, m.Status, ErrNotCompleted)
	}
	stmts, _ := statements(m.RollbackSQL)
	if len(stmts) == 0 {
		return fmt.Errorf("%s: %w", m.ID, ErrNoRollback)
	}
	rows, err := e.adapter.FetchLedger(ctx, e.ledgerTable)
	if err != nil {
		return err
	}
	row, ok := ledger.Latest(rows)[m.ID]
	if !ok || !row.Applied() {
		return fmt.Errorf("%s: %w", m.ID, ErrNotApplied)
	}

	conn, err := e.adapter.DB().Conn(ctx)
	if err != nil {
		return &db.ConnectionError{Provider: e.adapter.Provider(), Attempts: 1, Err: err}
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &TransactionError{MigrationID: m.ID, Index: -1, Statement: "begin", Err: err}
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback() // nolint:errcheck
			return &TransactionError{MigrationID: m.ID, Index: i, Statement: stmt, Err: err}
		}
	}
	at := e.now()
	if err := e.adapter.MarkRolledBack(ctx, tx, e.ledgerTable, row.ID, at); err != nil {
		tx.Rollback() // nolint:errcheck
		return &TransactionError{MigrationID: m.ID, Index: -1, Statement: "mark ledger row rolled back", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &TransactionError{MigrationID: m.ID, Index: -1, Statement: "commit", Err: err}
	}
	m.RolledBackAt = &at
	return e.transition(ctx, m, migration.StatusRolledBack, "")
}

// checkLedger refuses migrations the ledger already shows as applied.
func (e *Executor) checkLedger(ctx context.Context, m *migration.Migration) error {
	rows, err := e.adapter.FetchLedger(ctx, e.ledgerTable)
	if err != nil {
		return err
	}
	row, ok := ledger.Latest(rows)[m.ID]
	if !ok || !row.Applied() {
		return nil
	}
	if row.Checksum != m.Checksum {
		return fmt.Errorf("%s: %w", m.ID, ErrChecksumMismatch)
	}
	return fmt.Errorf("%s: %w", m.ID, ErrAlreadyApplied)
}

func (e *Executor) transition(ctx context.Context, m *migration.Migration, to migration.Status, errMsg string) error {
	if e.tracker != nil {
		if err := e.tracker.UpdateStatus(ctx, m.ID, to, errMsg); err != nil {
			return fmt.Errorf("track %s as %s: %w", m.ID, to, err)
		}
	}
	m.Status = to
	m.Error = errMsg
	return nil
}

// fail marks m failed and returns cause, joined with any tracking error.
func (e *Executor) fail(ctx context.Context, m *migration.Migration, cause error) error {
	finished := e.now()
	m.FinishedAt = &finished
	if err := e.transition(ctx, m, migration.StatusFailed, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// statements splits a body and drops transaction control; wrapped reports
// whether the body carried its own BEGIN/COMMIT.
func statements(body string) (stmts []string, wrapped bool) {
	for _, s := range ddl.SplitStatements(body) {
		if ddl.IsTransactionControl(s) {
			wrapped = true
			continue
		}
		stmts = append(stmts, s)
	}
	return stmts, wrapped
}
