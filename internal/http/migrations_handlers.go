package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type MigrationHandler struct {
	engine Engine
	logger requestLogger
}

func NewMigrationHandler(engine Engine, logger requestLogger) *MigrationHandler {
	return &MigrationHandler{engine: engine, logger: logger}
}

func (h *MigrationHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.Migrations(r.Context())
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *MigrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Migration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MigrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.Status(r.Context())
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}
