package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanStampsCorrelationAndFailure(t *testing.T) {
	rec := &Recorder{}
	ctx := WithCorrelationID(context.Background(), "corr-1")

	Start(rec, CategoryDrift, "drift_detector", "detect").End(ctx, nil, "ok", map[string]any{"total": 2})
	Start(rec, CategoryDrift, "drift_detector", "detect").End(ctx, errors.New("boom"), "failed", nil)

	got := rec.Events()
	require.Len(t, got, 2)
	assert.True(t, got[0].Success)
	assert.Equal(t, LevelInfo, got[0].Level)
	assert.Equal(t, "corr-1", got[0].CorrelationID)
	assert.False(t, got[0].Time.IsZero())

	assert.False(t, got[1].Success)
	assert.Equal(t, LevelError, got[1].Level)
	assert.Equal(t, "boom", got[1].Details["error"])
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, id)
	again, same := EnsureCorrelationID(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, ctx, again)
}

func TestMultiSkipsNil(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Multi(a, nil, b)
	Publish(context.Background(), sink, Event{Message: "x", Success: true})
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestLogSinkWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	Publish(context.Background(), sink, Event{Category: CategoryMigration, Operation: "apply", Message: "applied", Success: true})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "applied", line["msg"])
	assert.Equal(t, "apply", line["operation"])
	assert.Equal(t, "INFO", line["level"])
}

type fakeExec struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.CommandTag{}, f.err
}

type fakeLogger struct{ msgs []string }

func (l *fakeLogger) Error(msg string, _ ...any) { l.msgs = append(l.msgs, msg) }

func TestAuditSinkInserts(t *testing.T) {
	db := &fakeExec{}
	sink := NewAuditSink(db, nil)
	Publish(WithCorrelationID(context.Background(), "c"), sink, Event{
		Category: CategoryReconcile, Operation: "reconcile", Component: "ledger", Message: "done",
		Details: map[string]any{"issues": 1}, Success: true,
	})
	assert.Contains(t, db.sql, "INSERT INTO audit_events")
	require.Len(t, db.args, 11)
	assert.Equal(t, "reconcile", db.args[2])
	assert.JSONEq(t, `{"issues":1}`, string(db.args[7].([]byte)))
}

func TestAuditSinkLogsFailures(t *testing.T) {
	logger := &fakeLogger{}
	sink := NewAuditSink(&fakeExec{err: errors.New("down")}, logger)
	Publish(context.Background(), sink, Event{Message: "x", Success: true})
	assert.Equal(t, []string{"audit log failed"}, logger.msgs)
}
