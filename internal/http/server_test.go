package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/config"
	"schemasync/internal/db"
	"schemasync/internal/drift"
	"schemasync/internal/dsl"
	"schemasync/internal/events"
	"schemasync/internal/ledger"
	"schemasync/internal/migration"
	"schemasync/internal/storage"
	"schemasync/internal/syncer"
)

type fakeEngine struct {
	report      *drift.Report
	err         error
	planOpts    syncer.PlanOptions
	checkOpts   syncer.CheckOptions
	correlation string
}

func (f *fakeEngine) Check(ctx context.Context, opts syncer.CheckOptions) (*drift.Report, error) {
	f.checkOpts = opts
	f.correlation = events.CorrelationID(ctx)
	return f.report, f.err
}

func (f *fakeEngine) Plan(_ context.Context, opts syncer.PlanOptions) (*syncer.Plan, error) {
	f.planOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &syncer.Plan{Report: f.report, Migrations: []*migration.Migration{{ID: "20240501100000_fix_drift", Status: migration.StatusPending}}}, nil
}

func (f *fakeEngine) Reconcile(context.Context) (ledger.Result, error) {
	return ledger.Result{
		Issues: []ledger.Issue{{Kind: ledger.Unapplied, MigrationID: "20240501100000_a", Message: "not applied"}},
		Counts: map[ledger.Kind]int{ledger.Unapplied: 1},
		Files:  1,
	}, f.err
}

func (f *fakeEngine) Status(context.Context) ([]syncer.MigrationStatus, error) {
	return []syncer.MigrationStatus{{ID: "20240501100000_a", OnDisk: true, Ledger: "not_applied"}}, f.err
}

func (f *fakeEngine) Migrations(context.Context) ([]migration.Migration, error) {
	return []migration.Migration{{ID: "20240501100000_a", Status: migration.StatusPending}}, f.err
}

func (f *fakeEngine) Migration(_ context.Context, id string) (*migration.Migration, error) {
	if id != "20240501100000_a" {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return &migration.Migration{ID: id, Status: migration.StatusPending}, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestServer(engine Engine, health HealthHandler) http.Handler {
	return New(config.Config{}, nopLogger{}, engine, health).Handler()
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func sampleReport() *drift.Report {
	drifts := []drift.Drift{{ID: "d1", Type: drift.MissingColumn, Severity: drift.High, Object: "user.name", Fixable: true, Description: "column is missing"}}
	return &drift.Report{GeneratedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Drifts: drifts, Summary: drift.Summarize(drifts), Recommendations: drift.Recommend(drifts)}
}

func TestDriftReport(t *testing.T) {
	engine := &fakeEngine{report: sampleReport()}
	h := newTestServer(engine, HealthHandler{})

	rec, body := get(t, h, "/api/v1/drift?ignore=%5E_&ignore=tmp")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"^_", "tmp"}, engine.checkOpts.Ignore)
	assert.NotEmpty(t, engine.correlation)
	drifts := body["drifts"].([]any)
	require.Len(t, drifts, 1)
	assert.Equal(t, "user.name", drifts[0].(map[string]any)["object"])
	assert.Contains(t, body["text"], "user.name")
}

func TestPlanIsAlwaysDryRun(t *testing.T) {
	engine := &fakeEngine{report: sampleReport()}
	h := newTestServer(engine, HealthHandler{})

	rec, body := get(t, h, "/api/v1/drift/plan?atomic=false&name=sync&drift=d1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, engine.planOpts.Migration.DryRun)
	assert.False(t, engine.planOpts.Migration.Atomic)
	assert.True(t, engine.planOpts.Migration.IncludeRollback)
	assert.Equal(t, "sync", engine.planOpts.Migration.Name)
	assert.Equal(t, []string{"d1"}, engine.planOpts.DriftIDs)
	assert.Len(t, body["migrations"], 1)

	rec, body = get(t, h, "/api/v1/drift/plan?atomic=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameter", body["error"].(map[string]any)["code"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&dsl.ParseError{File: "schema.prisma", Line: 3, Msg: "unknown type"}, http.StatusUnprocessableEntity, "schema_invalid"},
		{&db.ConnectionError{Provider: "postgres", Attempts: 5, Err: errors.New("refused")}, http.StatusServiceUnavailable, "database_unavailable"},
		{&db.IntrospectionError{Provider: "postgres", Stage: "columns", Err: errors.New("denied")}, http.StatusBadGateway, "introspection_failed"},
		{&migration.GenerationError{DriftID: "d1", Object: "user.legacy", Reason: "drift is not fixable"}, http.StatusUnprocessableEntity, "not_fixable"},
		{syncer.ErrProviderMismatch, http.StatusUnprocessableEntity, "provider_mismatch"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		h := newTestServer(&fakeEngine{err: tc.err}, HealthHandler{})
		rec, body := get(t, h, "/api/v1/drift")
		assert.Equal(t, tc.status, rec.Code, tc.code)
		assert.Equal(t, tc.code, body["error"].(map[string]any)["code"])
	}
}

func TestMigrationRoutes(t *testing.T) {
	h := newTestServer(&fakeEngine{}, HealthHandler{})

	rec, body := get(t, h, "/api/v1/migrations")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, body = get(t, h, "/api/v1/migrations/20240501100000_a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])

	rec, _ = get(t, h, "/api/v1/migrations/20240501100000_b")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(t, h, "/api/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, body = get(t, h, "/api/v1/reconcile")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["consistent"])
	assert.Len(t, body["issues"], 1)
}

func TestReadOnly(t *testing.T) {
	h := newTestServer(&fakeEngine{}, HealthHandler{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/migrations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	rec, body := get(t, newTestServer(&fakeEngine{}, HealthHandler{Checks: map[string]Pinger{"catalog": ok}}), "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = get(t, newTestServer(&fakeEngine{}, HealthHandler{Checks: map[string]Pinger{"catalog": ok, "tracking": down}}), "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"catalog": "ok", "tracking": "unhealthy"}, body["checks"])
}
