package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	level := slog.LevelInfo
	switch e.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("category", e.Category),
		slog.String("operation", e.Operation),
		slog.String("component", e.Component),
		slog.Int64("duration_ms", e.DurationMs),
		slog.Bool("success", e.Success),
		slog.String("correlation_id", e.CorrelationID),
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	s.logger.LogAttrs(ctx, level, e.Message, attrs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type Logger interface {
	Error(msg string, args ...any)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditSink persists events into the audit_events table. Insert failures are
// logged and never reach the emitting component.
type AuditSink struct {
	db     execer
	logger Logger
}

// NewAuditSink accepts a *pgxpool.Pool or anything with its Exec method.
func NewAuditSink(db execer, logger Logger) *AuditSink {
	return &AuditSink{db: db, logger: logger}
}

func (s *AuditSink) Emit(ctx context.Context, e Event) {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	body, err := json.Marshal(details)
	if err != nil {
		s.fail("marshal audit details", err)
		return
	}
	var correlation *string
	if e.CorrelationID != "" {
		correlation = &e.CorrelationID
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO audit_events (id, correlation_id, category, level, operation, component, message, details, duration_ms, success, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, uuid.New(), correlation, e.Category, string(e.Level), e.Operation, e.Component, e.Message, body, e.DurationMs, e.Success, e.Time); err != nil {
		s.fail("insert audit event", err)
	}
}

func (s *AuditSink) fail(msg string, err error) {
	if s.logger != nil {
		s.logger.Error("audit log failed", "step", msg, "error", err)
	}
}
