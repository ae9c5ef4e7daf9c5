package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"schemasync/internal/ddl"
	"schemasync/internal/drift"
	"schemasync/internal/events"
	"schemasync/internal/schema"
)

var (
	ErrNothingToGenerate = errors.New("nothing to generate")
	ErrNoWriter          = errors.New("no migration directory configured")
)

// GenerationError is returned when a caller asks for SQL that cannot be
// generated safely, such as the fix of a non-fixable drift.
type GenerationError struct {
	DriftID string
	Object  string
	Reason  string
}

func (e *GenerationError) Error() string {
	if e.DriftID != "" {
		return fmt.Sprintf("generate %s (drift %s): %s", e.Object, e.DriftID, e.Reason)
	}
	return fmt.Sprintf("generate %s: %s", e.Object, e.Reason)
}

// Writer persists a generated migration.
type Writer interface {
	Write(m *Migration) error
}

// newestIDer is implemented by writers that can report the newest id they
// hold, so new ids sort after it.
type newestIDer interface {
	NewestID() (string, error)
}

// Tracker registers a generated migration as pending.
type Tracker interface {
	Create(ctx context.Context, m *Migration) error
}

type Options struct {
	Name            string
	DryRun          bool
	IncludeRollback bool
	Atomic          bool
}

type Generator struct {
	writer  Writer
	tracker Tracker
	sink    events.Sink
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewGenerator builds a generator. writer may be nil for dry runs only;
// tracker may be nil when no tracking table is configured.
func NewGenerator(writer Writer, tracker Tracker, sink events.Sink) *Generator {
	if sink == nil {
		sink = events.Nop
	}
	return &Generator{writer: writer, tracker: tracker, sink: sink, now: time.Now}
}

type item struct {
	change  schema.Change
	driftID string
	manual  bool
}

// FromChanges generates migrations for a declared schema diff.
func (g *Generator) FromChanges(ctx context.Context, changes []schema.Change, opts Options) ([]*Migration, error) {
	items := make([]item, len(changes))
	for i, c := range changes {
		items[i] = item{change: c}
	}
	if opts.Name == "" {
		opts.Name = "schema_diff"
	}
	return g.generate(ctx, items, opts, SourceSchemaDiff)
}

// FromDrifts generates migrations for drift fixes, in the given order. Every
// drift must be fixable.
func (g *Generator) FromDrifts(ctx context.Context, drifts []drift.Drift, opts Options) ([]*Migration, error) {
	var items []item
	for _, d := range drifts {
		if !d.Fixable || len(d.Fix) == 0 {
			reason := "drift is not fixable"
			if d.DeclarativeFix != "" {
				reason += "; " + d.DeclarativeFix
			}
			return nil, &GenerationError{DriftID: d.ID, Object: d.Object, Reason: reason}
		}
		for _, c := range d.Fix {
			items = append(items, item{change: c, driftID: d.ID, manual: d.Type == drift.ManualChange})
		}
	}
	if opts.Name == "" {
		opts.Name = "fix_drift"
	}
	return g.generate(ctx, items, opts, SourceDriftReport)
}

// FromSQL wraps hand-authored SQL in a migration.
func (g *Generator) FromSQL(ctx context.Context, body, rollback string, opts Options) (*Migration, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrNothingToGenerate
	}
	span := events.Start(g.sink, events.CategoryMigration, "migration_generator", "generate")
	base, err := g.nextBase()
	if err != nil {
		span.End(ctx, err, "generating hand-authored migration failed", nil)
		return nil, err
	}
	m := &Migration{
		Name:        opts.Name,
		SQL:         ensureNewline(body),
		Status:      StatusPending,
		CreatedAt:   base,
		RollbackSQL: ensureNewline(rollback),
		Metadata: Metadata{
			Source:            SourceManual,
			Statements:        len(ddl.SplitStatements(body)),
			RollbackAvailable: strings.TrimSpace(rollback) != "",
		},
	}
	if strings.TrimSpace(rollback) == "" {
		m.RollbackSQL = ""
	}
	m.ID = NewID(m.CreatedAt, opts.Name)
	m.Checksum = Checksum(m.SQL)
	err = g.persist(ctx, []*Migration{m}, opts.DryRun)
	span.End(ctx, err, "generated hand-authored migration", map[string]any{"ids": []string{m.ID}, "dry_run": opts.DryRun})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (g *Generator) generate(ctx context.Context, items []item, opts Options, source Source) ([]*Migration, error) {
	span := events.Start(g.sink, events.CategoryMigration, "migration_generator", "generate")
	out, err := g.build(items, opts, source)
	if err == nil {
		err = g.persist(ctx, out, opts.DryRun)
	}
	ids := make([]string, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	span.End(ctx, err, fmt.Sprintf("generated %d migration(s)", len(out)), map[string]any{
		"source":  string(source),
		"ids":     ids,
		"dry_run": opts.DryRun,
		"atomic":  opts.Atomic,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Generator) build(items []item, opts Options, source Source) ([]*Migration, error) {
	if len(items) == 0 {
		return nil, ErrNothingToGenerate
	}

	type part struct {
		suffix string
		items  []item
		atomic bool
	}
	parts := []part{{items: items, atomic: opts.Atomic}}
	if opts.Atomic {
		// Postgres refuses ALTER TYPE ... ADD VALUE inside a transaction
		// block, so enum labels go first in their own migration.
		var labels, rest []item
		for _, it := range items {
			if _, ok := it.change.(schema.AddEnumValue); ok {
				labels = append(labels, it)
			} else {
				rest = append(rest, it)
			}
		}
		switch {
		case len(labels) > 0 && len(rest) > 0:
			parts = []part{{suffix: "_enum_values", items: labels}, {items: rest, atomic: true}}
		case len(labels) > 0:
			parts = []part{{items: labels}}
		}
	}

	base, err := g.nextBase()
	if err != nil {
		return nil, err
	}
	out := make([]*Migration, 0, len(parts))
	for i, p := range parts {
		name := opts.Name + p.suffix
		created := base.Add(time.Duration(i) * time.Second)
		m, err := render(p.items, opts.IncludeRollback, p.atomic)
		if err != nil {
			return nil, err
		}
		m.ID = NewID(created, name)
		m.Name = name
		m.CreatedAt = created
		m.Status = StatusPending
		m.Metadata.Source = source
		if len(parts) > 1 {
			m.Metadata.Part, m.Metadata.Parts = i+1, len(parts)
		}
		out = append(out, m)
	}
	return out, nil
}

// nextBase returns the creation time of the next migration: now, truncated to
// the second, moved past every id already written so ids never collide.
func (g *Generator) nextBase() (time.Time, error) {
	base := g.now().UTC().Truncate(time.Second)
	g.mu.Lock()
	last := g.last
	g.mu.Unlock()
	if n, ok := g.writer.(newestIDer); ok {
		id, err := n.NewestID()
		if err != nil {
			return time.Time{}, fmt.Errorf("newest migration id: %w", err)
		}
		if t, ok := IDTime(id); ok && t.After(last) {
			last = t
		}
	}
	if !base.After(last) {
		base = last.Add(time.Second)
	}
	return base, nil
}

func render(items []item, includeRollback, atomic bool) (*Migration, error) {
	m := &Migration{Metadata: Metadata{Atomic: atomic}}
	var stmts []string
	seen := map[string]bool{}
	for _, it := range items {
		s, err := ddl.Render(it.change)
		if err != nil {
			return nil, &GenerationError{DriftID: it.driftID, Object: it.change.Object(), Reason: err.Error()}
		}
		stmts = append(stmts, s...)
		if it.driftID != "" && !seen[it.driftID] {
			seen[it.driftID] = true
			m.Metadata.DriftIDs = append(m.Metadata.DriftIDs, it.driftID)
		}
	}
	m.Metadata.Statements = len(stmts)
	m.SQL = body(stmts, atomic)
	m.Checksum = Checksum(m.SQL)

	if !includeRollback {
		m.Metadata.RollbackUnavailable = []string{"rollback not requested"}
		return m, nil
	}
	var reasons, down []string
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.manual {
			reasons = append(reasons, "manual change "+it.change.Object()+" has no generated history to undo")
			continue
		}
		inv, ok := ddl.Inverse(it.change)
		if !ok {
			reasons = append(reasons, ddl.InverseReason(it.change))
			continue
		}
		s, err := ddl.Render(inv)
		if err != nil {
			return nil, &GenerationError{DriftID: it.driftID, Object: it.change.Object(), Reason: err.Error()}
		}
		down = append(down, s...)
	}
	if len(reasons) > 0 {
		m.Metadata.RollbackUnavailable = reasons
		return m, nil
	}
	m.RollbackSQL = body(down, atomic)
	m.Metadata.RollbackAvailable = true
	return m, nil
}

func body(stmts []string, atomic bool) string {
	var b strings.Builder
	if atomic {
		b.WriteString("BEGIN;\n")
	}
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString("\n")
	}
	if atomic {
		b.WriteString("COMMIT;\n")
	}
	return b.String()
}

func (g *Generator) persist(ctx context.Context, ms []*Migration, dryRun bool) error {
	if dryRun {
		return nil
	}
	if g.writer == nil {
		return ErrNoWriter
	}
	for _, m := range ms {
		if err := g.writer.Write(m); err != nil {
			return fmt.Errorf("write migration %s: %w", m.ID, err)
		}
		g.mu.Lock()
		if m.CreatedAt.After(g.last) {
			g.last = m.CreatedAt
		}
		g.mu.Unlock()
		if g.tracker == nil {
			continue
		}
		if err := g.tracker.Create(ctx, m); err != nil {
			return fmt.Errorf("track migration %s: %w", m.ID, err)
		}
	}
	return nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
