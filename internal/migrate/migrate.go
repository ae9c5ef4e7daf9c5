// Package migrate creates the tool's own tables in the tracking database.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schemasync/migrations"
)

const versionsTable = "schemasync_versions"

type Runner struct {
	pool   *pgxpool.Pool
	logger Logger
	fs     fs.FS
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(pool *pgxpool.Pool, logger Logger) *Runner {
	return &Runner{
		pool:   pool,
		logger: logger,
		fs:     migrations.FS(),
	}
}

// Up applies every embedded file not yet recorded, in version order, each
// in its own transaction.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return err
	}

	pending, err := Pending(r.fs, applied)
	if err != nil {
		return err
	}
	for _, file := range pending {
		body, err := fs.ReadFile(r.fs, file.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", file.Path, err)
		}
		if err := r.apply(ctx, file, string(body)); err != nil {
			r.logger.Error("self-migration failed", "version", file.Version, "name", file.Name, "error", err)
			return fmt.Errorf("apply %s: %w", file.Path, err)
		}
		r.logger.Info("self-migration applied", "version", file.Version, "name", file.Name)
	}
	return nil
}

type File struct {
	Path    string
	Version int64
	Name    string
}

// Pending lists the *.sql files of fsys whose version is not in applied,
// sorted by version.
func Pending(fsys fs.FS, applied map[int64]bool) ([]File, error) {
	paths, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list self-migrations: %w", err)
	}
	seen := map[int64]string{}
	var out []File
	for _, p := range paths {
		version, name, err := parseVersion(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate self-migration version %d: %s and %s", version, prev, p)
		}
		seen[version] = p
		if applied[version] {
			continue
		}
		out = append(out, File{Path: p, Version: version, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *Runner) apply(ctx context.Context, file File, body string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+versionsTable+`(version, name) VALUES ($1, $2)`, file.Version, file.Name); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+versionsTable+` (
  version    BIGINT PRIMARY KEY,
  name       TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (r *Runner) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM `+versionsTable)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", versionsTable, err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func parseVersion(path string) (int64, string, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(strings.TrimSuffix(base, ".sql"), "_", 2)
	if len(parts) < 2 || parts[1] == "" {
		return 0, "", fmt.Errorf("invalid self-migration filename: %s", base)
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid self-migration version in %s: %w", base, err)
	}
	return version, parts[1], nil
}
