package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"schemasync/internal/db"
	"schemasync/internal/dsl"
	"schemasync/internal/migration"
	"schemasync/internal/storage"
	"schemasync/internal/store"
	"schemasync/internal/syncer"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeFailure maps engine errors to status codes.
func writeFailure(w http.ResponseWriter, logger requestLogger, err error) {
	var (
		parseErr *dsl.ParseError
		connErr  *db.ConnectionError
		introErr *db.IntrospectionError
		genErr   *migration.GenerationError
	)
	switch {
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, "schema_invalid", err.Error())
	case errors.Is(err, syncer.ErrProviderMismatch):
		writeError(w, http.StatusUnprocessableEntity, "provider_mismatch", err.Error())
	case errors.As(err, &genErr):
		writeError(w, http.StatusUnprocessableEntity, "not_fixable", err.Error())
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, store.ErrMigrationNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &connErr), errors.Is(err, syncer.ErrNoDatabase):
		writeError(w, http.StatusServiceUnavailable, "database_unavailable", err.Error())
	case errors.As(err, &introErr):
		writeError(w, http.StatusBadGateway, "introspection_failed", err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
