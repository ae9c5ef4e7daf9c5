package httpserver

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Pinger checks one dependency.
type Pinger func(ctx context.Context) error

// HealthHandler pings every configured dependency: the catalog database and,
// when configured, the tracking database.
type HealthHandler struct {
	Checks map[string]Pinger
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks[name] = "unhealthy"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if resp.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
