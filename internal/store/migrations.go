package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"schemasync/internal/migration"
)

var (
	ErrMigrationNotFound = errors.New("migration not found")
	ErrMigrationExists   = errors.New("migration id already tracked")
	ErrMigrationIDEmpty  = errors.New("migration id required")
	ErrMigrationSQLEmpty = errors.New("migration sql required")
)

// TransitionError rejects a status change the status machine does not allow.
type TransitionError struct {
	ID   string
	From migration.Status
	To   migration.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("migration %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Store keeps tracked migrations in the tracked_migrations table.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const selectColumns = `id, name, sql_up, sql_down, checksum, status, created_at, started_at, finished_at, rolled_back_at, error, metadata`

// Create registers m. A zero status is stored as pending.
func (s *Store) Create(ctx context.Context, m *migration.Migration) error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrMigrationIDEmpty
	}
	if strings.TrimSpace(m.SQL) == "" {
		return ErrMigrationSQLEmpty
	}
	if m.Status == "" {
		m.Status = migration.StatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO tracked_migrations (`+selectColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, m.ID, m.Name, m.SQL, nullableString(m.RollbackSQL), m.Checksum, string(m.Status), m.CreatedAt,
		m.StartedAt, m.FinishedAt, m.RolledBackAt, nullableString(m.Error), meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w", m.ID, ErrMigrationExists)
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*migration.Migration, error) {
	m, err := scanMigration(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM tracked_migrations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrMigrationNotFound)
	}
	return m, err
}

// List returns every tracked migration in id order, which is creation order.
func (s *Store) List(ctx context.Context) ([]migration.Migration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM tracked_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []migration.Migration{}
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// UpdateStatus moves a migration to status to under a row lock. running
// stamps started_at, completed and failed stamp finished_at, rolled_back
// stamps rolled_back_at. errMsg replaces the stored error.
func (s *Store) UpdateStatus(ctx context.Context, id string, to migration.Status, errMsg string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM tracked_migrations WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", id, ErrMigrationNotFound)
		}
		return err
	}
	from := migration.Status(current)
	if !migration.CanTransition(from, to) {
		return &TransitionError{ID: id, From: from, To: to}
	}

	column := stampColumn(to)
	now := s.now()
	if _, err := tx.Exec(ctx, `
UPDATE tracked_migrations
SET status = $1, error = $2, `+column+` = $3
WHERE id = $4
`, string(to), nullableString(errMsg), now, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func stampColumn(to migration.Status) string {
	switch to {
	case migration.StatusRunning:
		return "started_at"
	case migration.StatusRolledBack:
		return "rolled_back_at"
	default:
		return "finished_at"
	}
}

func scanMigration(row pgx.Row) (*migration.Migration, error) {
	var (
		m           migration.Migration
		rollback    *string
		errText     *string
		status      string
		rawMetadata []byte
	)
	if err := row.Scan(&m.ID, &m.Name, &m.SQL, &rollback, &m.Checksum, &status, &m.CreatedAt,
		&m.StartedAt, &m.FinishedAt, &m.RolledBackAt, &errText, &rawMetadata); err != nil {
		return nil, err
	}
	m.Status = migration.Status(status)
	if rollback != nil {
		m.RollbackSQL = *rollback
	}
	if errText != nil {
		m.Error = *errText
	}
	if len(rawMetadata) > 0 {
		if err := json.Unmarshal(rawMetadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func nullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
