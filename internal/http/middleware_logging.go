package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"schemasync/internal/events"
)

type logger interface {
	Info(msg string, args ...any)
}

// RequestLogger logs each request and ties the events of the pass it
// triggers to the request id.
func RequestLogger(logger logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			ctx := r.Context()
			if reqID != "" {
				ctx = events.WithCorrelationID(ctx, reqID)
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
