package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"schemasync/internal/config"
	"schemasync/internal/migration"
	"schemasync/internal/schema"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// Execer runs a statement. *sql.DB, *sql.Conn and *sql.Tx all satisfy it, so
// ledger writes can join the migration's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Adapter abstracts provider-specific catalog and ledger access.
type Adapter interface {
	Provider() string
	Close() error
	DB() *sql.DB
	FetchSchema(ctx context.Context, schemaName string) (schema.Schema, error)
	EnsureLedgerTable(ctx context.Context, table string) error
	FetchLedger(ctx context.Context, table string) ([]migration.Record, error)
	InsertLedgerRow(ctx context.Context, ex Execer, table string, rec migration.Record) error
	FinishLedgerRow(ctx context.Context, ex Execer, table string, rec migration.Record) error
	MarkRolledBack(ctx context.Context, ex Execer, table, id string, at time.Time) error
}

// NormalizeProvider maps accepted provider spellings to postgres or mysql.
func NormalizeProvider(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedProvider, p)
}

// Open builds an adapter and verifies the connection, retrying with linear
// backoff up to cfg.ConnectAttempts times. The last failure is returned as a
// *ConnectionError.
func Open(ctx context.Context, cfg config.DBConfig) (Adapter, error) {
	provider, err := NormalizeProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	var conn *sql.DB
	switch provider {
	case "postgres":
		conn, err = sql.Open("pgx", cfg.DSN)
	case "mysql":
		// Validate DSN early to provide actionable errors.
		parsed, perr := mysql.ParseDSN(cfg.DSN)
		if perr != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", perr)
		}
		parsed.ParseTime = true
		conn, err = sql.Open("mysql", parsed.FormatDSN())
	}
	if err != nil {
		return nil, err
	}
	conn.SetConnMaxIdleTime(5 * time.Minute)
	conn.SetMaxOpenConns(5)

	if err := Ping(ctx, conn, provider, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		conn.Close()
		return nil, err
	}
	return newAdapter(provider, conn), nil
}

func newAdapter(provider string, conn *sql.DB) Adapter {
	if provider == "mysql" {
		return &MySQLAdapter{db: conn}
	}
	return &PostgresAdapter{db: conn}
}

// Ping checks the connection with bounded, linearly spaced retries.
func Ping(ctx context.Context, conn *sql.DB, provider string, attempts int, step time.Duration) error {
	n := 0
	err := Retry(ctx, attempts, step, func() error {
		n++
		return conn.PingContext(ctx)
	})
	if err != nil {
		return &ConnectionError{Provider: provider, Attempts: n, Err: err}
	}
	return nil
}

// Retry calls op until it succeeds or attempts run out, waiting step, 2*step,
// 3*step... between tries. Context cancellation stops it early.
func Retry(ctx context.Context, attempts int, step time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(&linear{step: step}, uint64(attempts-1)), ctx)
	return backoff.Retry(op, b)
}

// linear implements backoff.BackOff with waits growing by step each try.
type linear struct {
	step time.Duration
	n    int
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linear) Reset() { l.n = 0 }
