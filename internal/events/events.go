// Package events carries the structured events every pass emits. Components
// receive a Sink at construction; storage of events is up to the sink.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	CategoryParse         = "parse"
	CategoryIntrospection = "introspection"
	CategoryDrift         = "drift"
	CategoryMigration     = "migration"
	CategoryReconcile     = "reconcile"
)

type Event struct {
	Category      string         `json:"category"`
	Level         Level          `json:"level"`
	Operation     string         `json:"operation"`
	Component     string         `json:"component"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	Success       bool           `json:"success"`
	CorrelationID string         `json:"correlation_id"`
	Time          time.Time      `json:"time"`
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

type ctxKey struct{}

// WithCorrelationID ties every event emitted under ctx to id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx unchanged when it already carries an id,
// otherwise a child context with a fresh one.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

// Publish stamps time and correlation id before handing e to sink.
func Publish(ctx context.Context, sink Sink, e Event) {
	if sink == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = CorrelationID(ctx)
	}
	if e.Level == "" {
		e.Level = LevelInfo
		if !e.Success {
			e.Level = LevelError
		}
	}
	sink.Emit(ctx, e)
}

// Span times one operation.
type Span struct {
	sink      Sink
	category  string
	component string
	operation string
	start     time.Time
}

func Start(sink Sink, category, component, operation string) *Span {
	return &Span{sink: sink, category: category, component: component, operation: operation, start: time.Now()}
}

// End emits the operation's event. A non-nil err marks it failed and is
// recorded under details["error"].
func (s *Span) End(ctx context.Context, err error, message string, details map[string]any) {
	e := Event{
		Category:   s.category,
		Operation:  s.operation,
		Component:  s.component,
		Message:    message,
		Details:    details,
		DurationMs: time.Since(s.start).Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["error"] = err.Error()
	}
	Publish(ctx, s.sink, e)
}

type nop struct{}

func (nop) Emit(context.Context, Event) {}

// Nop discards events.
var Nop Sink = nop{}

type multi []Sink

func (m multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
