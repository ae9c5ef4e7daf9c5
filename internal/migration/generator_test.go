package migration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/ddl"
	"schemasync/internal/drift"
	"schemasync/internal/events"
	"schemasync/internal/schema"
)

type memWriter struct{ written []*Migration }

func (w *memWriter) Write(m *Migration) error {
	w.written = append(w.written, m)
	return nil
}

type memTracker struct{ created []string }

func (t *memTracker) Create(_ context.Context, m *Migration) error {
	t.created = append(t.created, m.ID)
	return nil
}

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func newGenerator(w Writer, t Tracker, sink events.Sink) *Generator {
	g := NewGenerator(w, t, sink)
	g.now = func() time.Time { return fixedNow }
	return g
}

var addName = schema.AddColumn{Table: "user", Column: schema.Column{Name: "name", Type: "text", Nullable: true}}

func TestRollbackOfAddColumnIsOneDrop(t *testing.T) {
	ms, err := newGenerator(nil, nil, nil).FromChanges(context.Background(), []schema.Change{addName}, Options{DryRun: true, IncludeRollback: true})
	require.NoError(t, err)
	require.Len(t, ms, 1)

	m := ms[0]
	assert.Equal(t, "ALTER TABLE user ADD COLUMN name text;\n", m.SQL)
	assert.Equal(t, "ALTER TABLE user DROP COLUMN IF EXISTS name;", strings.TrimSpace(m.RollbackSQL))
	assert.Len(t, ddl.SplitStatements(m.RollbackSQL), 1)
	assert.True(t, m.Metadata.RollbackAvailable)
	assert.Equal(t, SourceSchemaDiff, m.Metadata.Source)
	assert.Equal(t, "20240309140507_schema_diff", m.ID)
	assert.Equal(t, StatusPending, m.Status)
}

func TestChecksumTracksBody(t *testing.T) {
	ms, err := newGenerator(nil, nil, nil).FromChanges(context.Background(), []schema.Change{addName}, Options{DryRun: true})
	require.NoError(t, err)
	m := ms[0]
	assert.Equal(t, Checksum(m.SQL), m.Checksum)
	assert.Len(t, m.Checksum, 64)

	mutated := strings.Replace(m.SQL, "name", "Name", 1)
	assert.NotEqual(t, m.Checksum, Checksum(mutated))
}

func TestAtomicWrapsAndReversesRollback(t *testing.T) {
	changes := []schema.Change{
		schema.CreateTable{Table: schema.Table{Name: "tag", Columns: []schema.Column{{Name: "id", Type: "integer"}}}},
		addName,
	}
	ms, err := newGenerator(nil, nil, nil).FromChanges(context.Background(), changes, Options{DryRun: true, IncludeRollback: true, Atomic: true})
	require.NoError(t, err)
	require.Len(t, ms, 1)

	stmts := ddl.SplitStatements(ms[0].SQL)
	require.Len(t, stmts, 4)
	assert.Equal(t, "BEGIN", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE tag"))
	assert.Equal(t, "COMMIT", stmts[3])

	down := ddl.SplitStatements(ms[0].RollbackSQL)
	assert.Equal(t, []string{"BEGIN", "ALTER TABLE user DROP COLUMN IF EXISTS name", "DROP TABLE IF EXISTS tag", "COMMIT"}, down)
}

func TestAtomicSplitsEnumLabels(t *testing.T) {
	changes := []schema.Change{
		addName,
		schema.AddEnumValue{Enum: "status", Value: "ARCHIVED"},
	}
	ms, err := newGenerator(nil, nil, nil).FromChanges(context.Background(), changes, Options{Name: "sync", DryRun: true, Atomic: true, IncludeRollback: true})
	require.NoError(t, err)
	require.Len(t, ms, 2)

	assert.Equal(t, "20240309140507_sync_enum_values", ms[0].ID)
	assert.Equal(t, "20240309140508_sync", ms[1].ID)
	assert.Less(t, ms[0].ID, ms[1].ID)

	assert.Equal(t, "ALTER TYPE status ADD VALUE 'ARCHIVED';\n", ms[0].SQL)
	assert.False(t, ms[0].Metadata.Atomic)
	assert.False(t, ms[0].Metadata.RollbackAvailable)
	assert.Empty(t, ms[0].RollbackSQL)
	assert.Contains(t, ms[0].Metadata.RollbackUnavailable[0], "cannot be removed")

	assert.True(t, strings.HasPrefix(ms[1].SQL, "BEGIN;\n"))
	assert.True(t, ms[1].Metadata.RollbackAvailable)
	assert.Equal(t, 2, ms[1].Metadata.Parts)
}

func TestFromDriftsRejectsUnfixable(t *testing.T) {
	drifts := []drift.Drift{{ID: "d1", Type: drift.ExtraColumn, Object: "user.nickname", DeclarativeFix: "add field nickname"}}
	_, err := newGenerator(nil, nil, nil).FromDrifts(context.Background(), drifts, Options{DryRun: true})

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, "d1", genErr.DriftID)
	assert.Contains(t, err.Error(), "user.nickname")
}

func TestManualChangeHasNoRollback(t *testing.T) {
	baseline := schema.CreateTable{Table: schema.Table{Name: "audit_log", Columns: []schema.Column{{Name: "id", Type: "bigint"}}}, IfNotExists: true}
	drifts := []drift.Drift{
		{ID: "d1", Type: drift.MissingColumn, Object: "user.name", Fixable: true, Fix: []schema.Change{addName}},
		{ID: "d2", Type: drift.ManualChange, Object: "audit_log", Fixable: true, Fix: []schema.Change{baseline}},
	}
	ms, err := newGenerator(nil, nil, nil).FromDrifts(context.Background(), drifts, Options{DryRun: true, IncludeRollback: true})
	require.NoError(t, err)
	require.Len(t, ms, 1)

	m := ms[0]
	assert.Equal(t, SourceDriftReport, m.Metadata.Source)
	assert.Equal(t, []string{"d1", "d2"}, m.Metadata.DriftIDs)
	assert.Empty(t, m.RollbackSQL)
	assert.False(t, m.Metadata.RollbackAvailable)
	require.Len(t, m.Metadata.RollbackUnavailable, 1)
	assert.Contains(t, m.Metadata.RollbackUnavailable[0], "audit_log")
}

func TestDryRunWritesNothing(t *testing.T) {
	w, tr := &memWriter{}, &memTracker{}
	g := newGenerator(w, tr, nil)

	_, err := g.FromChanges(context.Background(), []schema.Change{addName}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, w.written)
	assert.Empty(t, tr.created)

	ms, err := g.FromChanges(context.Background(), []schema.Change{addName}, Options{})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, []string{ms[0].ID}, tr.created)
}

type newestWriter struct {
	memWriter
	newest string
}

func (w *newestWriter) NewestID() (string, error) { return w.newest, nil }

func TestIDsNeverCollide(t *testing.T) {
	w := &memWriter{}
	g := newGenerator(w, nil, nil)
	ctx := context.Background()

	first, err := g.FromSQL(ctx, "SELECT 1;", "", Options{Name: "same"})
	require.NoError(t, err)
	second, err := g.FromSQL(ctx, "SELECT 2;", "", Options{Name: "same"})
	require.NoError(t, err)
	assert.Equal(t, "20240309140507_same", first.ID)
	assert.Equal(t, "20240309140508_same", second.ID)

	changes := []schema.Change{addName, schema.AddEnumValue{Enum: "status", Value: "ARCHIVED"}}
	ms, err := g.FromChanges(ctx, changes, Options{Name: "sync", Atomic: true})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "20240309140509_sync_enum_values", ms[0].ID)
	assert.Equal(t, "20240309140510_sync", ms[1].ID)

	third, err := g.FromSQL(ctx, "SELECT 3;", "", Options{Name: "same", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "20240309140511_same", third.ID)

	nw := &newestWriter{newest: "20240309150000_later"}
	m, err := newGenerator(nw, nil, nil).FromSQL(ctx, "SELECT 1;", "", Options{Name: "after"})
	require.NoError(t, err)
	assert.Equal(t, "20240309150001_after", m.ID)

	id, ok := IDTime("20240309150000_later")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC), id)
	_, ok = IDTime("later")
	assert.False(t, ok)
}

func TestGenerateErrors(t *testing.T) {
	g := newGenerator(nil, nil, nil)
	_, err := g.FromChanges(context.Background(), nil, Options{DryRun: true})
	assert.ErrorIs(t, err, ErrNothingToGenerate)

	_, err = g.FromChanges(context.Background(), []schema.Change{addName}, Options{})
	assert.ErrorIs(t, err, ErrNoWriter)
}

func TestFromSQL(t *testing.T) {
	rec := &events.Recorder{}
	m, err := newGenerator(nil, nil, rec).FromSQL(context.Background(), "UPDATE user SET name = 'x'", "", Options{Name: "Backfill names", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "20240309140507_backfill_names", m.ID)
	assert.Equal(t, SourceManual, m.Metadata.Source)
	assert.Equal(t, "UPDATE user SET name = 'x'\n", m.SQL)
	assert.Empty(t, m.RollbackSQL)
	assert.False(t, m.Metadata.RollbackAvailable)

	require.Len(t, rec.Events(), 1)
	assert.Equal(t, events.CategoryMigration, rec.Events()[0].Category)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusFailed))
	assert.True(t, CanTransition(StatusCompleted, StatusRolledBack))
	assert.False(t, CanTransition(StatusCompleted, StatusRunning))
	assert.False(t, CanTransition(StatusFailed, StatusRunning))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "add_user_name", Slug("  Add User-Name! "))
	assert.Equal(t, "migration", Slug("!!!"))
	assert.True(t, ValidID(NewID(fixedNow, "x")))
	assert.False(t, ValidID("2024_x"))
}
