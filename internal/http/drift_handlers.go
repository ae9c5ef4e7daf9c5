package httpserver

import (
	"net/http"
	"strconv"

	"schemasync/internal/drift"
	"schemasync/internal/ledger"
	"schemasync/internal/migration"
	"schemasync/internal/syncer"
)

type DriftHandler struct {
	engine Engine
	logger requestLogger
}

func NewDriftHandler(engine Engine, logger requestLogger) *DriftHandler {
	return &DriftHandler{engine: engine, logger: logger}
}

type reportResponse struct {
	*drift.Report
	Text string `json:"text"`
}

// Report runs a detection pass. Repeated ignore parameters add patterns.
func (h *DriftHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Check(r.Context(), syncer.CheckOptions{Ignore: r.URL.Query()["ignore"]})
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Report: report, Text: report.Describe()})
}

// Plan previews the migrations a plan would generate. Nothing is written.
func (h *DriftHandler) Plan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	atomic, err := boolParam(q.Get("atomic"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "atomic: "+err.Error())
		return
	}
	rollback, err := boolParam(q.Get("rollback"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "rollback: "+err.Error())
		return
	}
	plan, err := h.engine.Plan(r.Context(), syncer.PlanOptions{
		Check:    syncer.CheckOptions{Ignore: q["ignore"]},
		DriftIDs: q["drift"],
		Migration: migration.Options{
			Name:            q.Get("name"),
			DryRun:          true,
			IncludeRollback: rollback,
			Atomic:          atomic,
		},
	})
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type reconcileResponse struct {
	ledger.Result
	Consistent bool   `json:"consistent"`
	Text       string `json:"text"`
}

func (h *DriftHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Reconcile(r.Context())
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Result: result, Consistent: result.Consistent(), Text: result.Describe()})
}

func boolParam(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
