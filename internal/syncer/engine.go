// Package syncer runs whole passes: it parses the schema document, reads
// the catalog and the migration history, and hands them to the detector,
// generator, executor and reconciler.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"schemasync/internal/config"
	"schemasync/internal/db"
	"schemasync/internal/diff"
	"schemasync/internal/drift"
	"schemasync/internal/dsl"
	"schemasync/internal/events"
	"schemasync/internal/executor"
	"schemasync/internal/ledger"
	"schemasync/internal/migration"
	"schemasync/internal/schema"
	"schemasync/internal/storage"
	"schemasync/internal/store"
)

var (
	ErrProviderMismatch = errors.New("schema datasource provider does not match the database")
	ErrFileChanged      = errors.New("migration file changed after it was tracked")
	ErrNoDatabase       = errors.New("no database connection configured")
)

// Tracking is the application tracking table. *store.Store implements it.
type Tracking interface {
	Create(ctx context.Context, m *migration.Migration) error
	Get(ctx context.Context, id string) (*migration.Migration, error)
	List(ctx context.Context) ([]migration.Migration, error)
	UpdateStatus(ctx context.Context, id string, to migration.Status, errMsg string) error
}

type Engine struct {
	cfg        config.Config
	adapter    db.Adapter
	dir        *storage.Dir
	tracking   Tracking
	sink       events.Sink
	detector   *drift.Detector
	generator  *migration.Generator
	executor   *executor.Executor
	reconciler *ledger.Reconciler
	readFile   func(string) ([]byte, error)
}

// New wires an engine. adapter may be nil for commands that never touch the
// database (diff, fmt); tracking may be nil when no tracking database is
// configured.
func New(cfg config.Config, adapter db.Adapter, dir *storage.Dir, tracking Tracking, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Nop
	}
	var (
		genTracker  migration.Tracker
		execTracker executor.Tracker
	)
	if tracking != nil {
		genTracker, execTracker = tracking, tracking
	}
	e := &Engine{
		cfg:        cfg,
		adapter:    adapter,
		dir:        dir,
		tracking:   tracking,
		sink:       sink,
		detector:   drift.NewDetector(sink),
		generator:  migration.NewGenerator(dir, genTracker, sink),
		reconciler: ledger.NewReconciler(sink),
		readFile:   os.ReadFile,
	}
	if adapter != nil {
		e.executor = executor.New(adapter, cfg.LedgerTable, execTracker, sink)
	}
	return e
}

type CheckOptions struct {
	// Ignore patterns are added to the configured ones.
	Ignore []string
}

// Check runs one detection pass of the schema document against the live
// catalog.
func (e *Engine) Check(ctx context.Context, opts CheckOptions) (*drift.Report, error) {
	if e.adapter == nil {
		return nil, ErrNoDatabase
	}
	ctx, _ = events.EnsureCorrelationID(ctx)
	ignore, err := drift.CompileIgnore(append(append([]string{}, e.cfg.Ignore...), opts.Ignore...))
	if err != nil {
		return nil, err
	}

	var (
		doc     *dsl.Document
		actual  schema.Schema
		history []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = e.parseDocument(gctx, e.cfg.SchemaFile)
		return err
	})
	g.Go(func() error {
		var err error
		actual, err = e.introspect(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = e.history()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p := doc.Provider(); p != "" && p != e.adapter.Provider() {
		return nil, fmt.Errorf("%w: schema declares %s, database is %s", ErrProviderMismatch, p, e.adapter.Provider())
	}
	return e.detector.Detect(ctx, doc.Schema, actual, drift.Options{
		History:      history,
		SystemTables: e.cfg.SystemTableNames(),
		Ignore:       ignore,
	})
}

type PlanOptions struct {
	Check CheckOptions
	// DriftIDs limits generation to these drifts; empty means every fixable one.
	DriftIDs  []string
	Migration migration.Options
}

type Plan struct {
	Report     *drift.Report          `json:"report"`
	Migrations []*migration.Migration `json:"migrations"`
}

// Plan checks and generates migrations for the fixable drifts. A clean
// report yields a plan without migrations.
func (e *Engine) Plan(ctx context.Context, opts PlanOptions) (*Plan, error) {
	ctx, _ = events.EnsureCorrelationID(ctx)
	report, err := e.Check(ctx, opts.Check)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Report: report, Migrations: []*migration.Migration{}}

	selected := report.Fixable()
	if len(opts.DriftIDs) > 0 {
		selected = selected[:0:0]
		for _, id := range opts.DriftIDs {
			d, ok := report.Find(id)
			if !ok {
				return nil, fmt.Errorf("drift %s not found in report", id)
			}
			selected = append(selected, d)
		}
	}
	if len(selected) == 0 {
		return plan, nil
	}

	ms, err := e.generator.FromDrifts(ctx, selected, opts.Migration)
	if err != nil {
		return nil, err
	}
	plan.Migrations = ms
	return plan, nil
}

// Diff generates the migrations that turn the schema document at fromPath
// into the one at toPath. No database is involved.
func (e *Engine) Diff(ctx context.Context, fromPath, toPath string, opts migration.Options) ([]*migration.Migration, []schema.Change, error) {
	ctx, _ = events.EnsureCorrelationID(ctx)
	from, err := e.parseDocument(ctx, fromPath)
	if err != nil {
		return nil, nil, err
	}
	to, err := e.parseDocument(ctx, toPath)
	if err != nil {
		return nil, nil, err
	}
	changes := diff.Compare(from.Schema, to.Schema)
	if len(changes) == 0 {
		return []*migration.Migration{}, changes, nil
	}
	ms, err := e.generator.FromChanges(ctx, changes, opts)
	if err != nil {
		return nil, changes, err
	}
	return ms, changes, nil
}

// Author wraps hand-written SQL in a new migration folder.
func (e *Engine) Author(ctx context.Context, body, rollback string, opts migration.Options) (*migration.Migration, error) {
	ctx, _ = events.EnsureCorrelationID(ctx)
	return e.generator.FromSQL(ctx, body, rollback, opts)
}

// Reconcile compares migration folders, the ledger and the tracking table.
func (e *Engine) Reconcile(ctx context.Context) (ledger.Result, error) {
	if e.adapter == nil {
		return ledger.Result{}, ErrNoDatabase
	}
	ctx, _ = events.EnsureCorrelationID(ctx)
	files, rows, tracked, err := e.sources(ctx)
	if err != nil {
		return ledger.Result{}, err
	}
	return e.reconciler.Reconcile(ctx, files, rows, tracked), nil
}

// Apply runs one migration folder.
func (e *Engine) Apply(ctx context.Context, id string) (*migration.Migration, error) {
	if e.executor == nil {
		return nil, ErrNoDatabase
	}
	ctx, _ = events.EnsureCorrelationID(ctx)
	if err := e.adapter.EnsureLedgerTable(ctx, e.cfg.LedgerTable); err != nil {
		return nil, fmt.Errorf("ensure ledger table: %w", err)
	}
	m, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.executor.Apply(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

// ApplyPending applies every folder without an applied ledger row, oldest
// first, and stops at the first failure.
func (e *Engine) ApplyPending(ctx context.Context) ([]*migration.Migration, error) {
	if e.executor == nil {
		return nil, ErrNoDatabase
	}
	ctx, _ = events.EnsureCorrelationID(ctx)
	if err := e.adapter.EnsureLedgerTable(ctx, e.cfg.LedgerTable); err != nil {
		return nil, fmt.Errorf("ensure ledger table: %w", err)
	}
	files, err := e.dir.Discover()
	if err != nil {
		return nil, err
	}
	rows, err := e.adapter.FetchLedger(ctx, e.cfg.LedgerTable)
	if err != nil {
		return nil, err
	}
	latest := ledger.Latest(rows)

	applied := []*migration.Migration{}
	for _, f := range files {
		if row, ok := latest[f.ID]; ok && row.Applied() {
			continue
		}
		m, err := e.load(ctx, f.ID)
		if err != nil {
			return applied, err
		}
		if m.Status == migration.StatusFailed || m.Status == migration.StatusRolledBack {
			return applied, fmt.Errorf("migration %s is %s; generate a new migration instead", m.ID, m.Status)
		}
		if err := e.executor.Apply(ctx, m); err != nil {
			return applied, err
		}
		applied = append(applied, m)
	}
	return applied, nil
}

// Rollback runs a migration's rollback script.
func (e *Engine) Rollback(ctx context.Context, id string) (*migration.Migration, error) {
	if e.executor == nil {
		return nil, ErrNoDatabase
	}
	ctx, _ = events.EnsureCorrelationID(ctx)
	m, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.executor.Rollback(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

// MigrationStatus is one row of the status listing.
type MigrationStatus struct {
	ID          string           `json:"id"`
	OnDisk      bool             `json:"on_disk"`
	HasRollback bool             `json:"has_rollback"`
	Checksum    string           `json:"checksum,omitempty"`
	Tracked     migration.Status `json:"tracked,omitempty"`
	Ledger      string           `json:"ledger"`
	Error       string           `json:"error,omitempty"`
}

// Status lists every migration known to the folders, the ledger or the
// tracking table, in id order.
func (e *Engine) Status(ctx context.Context) ([]MigrationStatus, error) {
	if e.adapter == nil {
		return nil, ErrNoDatabase
	}
	files, rows, tracked, err := e.sources(ctx)
	if err != nil {
		return nil, err
	}
	return statusRows(files, rows, tracked), nil
}

// Migration returns one migration, tracked or on disk. Unlike Apply it never
// registers an untracked folder.
func (e *Engine) Migration(ctx context.Context, id string) (*migration.Migration, error) {
	if e.tracking != nil {
		m, err := e.tracking.Get(ctx, id)
		if !errors.Is(err, store.ErrMigrationNotFound) {
			return m, err
		}
	}
	return e.dir.Migration(id)
}

// Migrations lists tracked migrations, or the folders when no tracking table
// is configured.
func (e *Engine) Migrations(ctx context.Context) ([]migration.Migration, error) {
	if e.tracking != nil {
		return e.tracking.List(ctx)
	}
	files, err := e.dir.Discover()
	if err != nil {
		return nil, err
	}
	out := make([]migration.Migration, 0, len(files))
	for _, f := range files {
		m, err := e.dir.Migration(f.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (e *Engine) parseDocument(ctx context.Context, path string) (*dsl.Document, error) {
	span := events.Start(e.sink, events.CategoryParse, "schema_parser", "parse")
	src, err := e.readFile(path)
	if err != nil {
		err = fmt.Errorf("read schema file: %w", err)
		span.End(ctx, err, "reading "+path+" failed", map[string]any{"file": path})
		return nil, err
	}
	doc, err := dsl.ParseDocument(path, string(src))
	if err != nil {
		span.End(ctx, err, "parsing "+path+" failed", map[string]any{"file": path})
		return nil, err
	}
	span.End(ctx, nil, "parsed "+path, map[string]any{
		"file":   path,
		"models": len(doc.Schema.Models),
		"enums":  len(doc.Schema.Enums),
	})
	return doc, nil
}

func (e *Engine) introspect(ctx context.Context) (schema.Schema, error) {
	span := events.Start(e.sink, events.CategoryIntrospection, "catalog_introspector", "fetch_schema")
	s, err := e.adapter.FetchSchema(ctx, e.cfg.DB.Schema)
	details := map[string]any{"provider": e.adapter.Provider()}
	if err != nil {
		span.End(ctx, err, "introspection failed", details)
		return schema.Schema{}, err
	}
	details["tables"] = len(s.Tables)
	details["enums"] = len(s.Enums)
	span.End(ctx, nil, fmt.Sprintf("introspected %d table(s)", len(s.Tables)), details)
	return s, nil
}

// history returns the tables created by migration folders, or nil when there
// are none, which turns manual-change detection off.
func (e *Engine) history() ([]string, error) {
	files, err := e.dir.Discover()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return ledger.TrackedTables(files), nil
}

func (e *Engine) sources(ctx context.Context) ([]migration.File, []migration.Record, []migration.Migration, error) {
	var (
		files   []migration.File
		rows    []migration.Record
		tracked []migration.Migration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = e.dir.Discover()
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = e.adapter.FetchLedger(gctx, e.cfg.LedgerTable)
		return err
	})
	if e.tracking != nil {
		g.Go(func() error {
			var err error
			tracked, err = e.tracking.List(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return files, rows, tracked, nil
}

// load returns the migration with id. Tracked migrations come from the
// tracking table and must still match their folder; untracked folders are
// registered first. Without tracking the status is derived from the ledger.
func (e *Engine) load(ctx context.Context, id string) (*migration.Migration, error) {
	if e.tracking == nil {
		m, err := e.dir.Migration(id)
		if err != nil {
			return nil, err
		}
		if e.adapter != nil {
			rows, err := e.adapter.FetchLedger(ctx, e.cfg.LedgerTable)
			if err != nil {
				return nil, err
			}
			if row, ok := ledger.Latest(rows)[id]; ok {
				m.Status = statusFromLedger(row)
			}
		}
		return m, nil
	}

	m, err := e.tracking.Get(ctx, id)
	if err == nil {
		if f, ferr := e.dir.Load(id); ferr == nil && f.Checksum != m.Checksum {
			return nil, fmt.Errorf("%s: %w", id, ErrFileChanged)
		}
		return m, nil
	}
	if !errors.Is(err, store.ErrMigrationNotFound) {
		return nil, err
	}
	m, err = e.dir.Migration(id)
	if err != nil {
		return nil, err
	}
	if err := e.tracking.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}
	return m, nil
}

func statusFromLedger(row migration.Record) migration.Status {
	switch {
	case row.RolledBackAt != nil:
		return migration.StatusRolledBack
	case row.FinishedAt != nil:
		return migration.StatusCompleted
	default:
		return migration.StatusFailed
	}
}

func ledgerState(row migration.Record, ok bool) string {
	if !ok {
		return "not_applied"
	}
	switch statusFromLedger(row) {
	case migration.StatusRolledBack:
		return "rolled_back"
	case migration.StatusCompleted:
		return "applied"
	default:
		return "failed"
	}
}
