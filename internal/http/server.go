package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schemasync/internal/config"
	"schemasync/internal/drift"
	"schemasync/internal/ledger"
	"schemasync/internal/migration"
	"schemasync/internal/syncer"
)

// Engine is the part of *syncer.Engine the API reads from.
type Engine interface {
	Check(ctx context.Context, opts syncer.CheckOptions) (*drift.Report, error)
	Plan(ctx context.Context, opts syncer.PlanOptions) (*syncer.Plan, error)
	Reconcile(ctx context.Context) (ledger.Result, error)
	Status(ctx context.Context) ([]syncer.MigrationStatus, error)
	Migrations(ctx context.Context) ([]migration.Migration, error)
	Migration(ctx context.Context, id string) (*migration.Migration, error)
}

type Server struct {
	cfg              config.Config
	logger           requestLogger
	health           HealthHandler
	driftHandler     *DriftHandler
	migrationHandler *MigrationHandler
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(cfg config.Config, logger requestLogger, engine Engine, health HealthHandler) *Server {
	return &Server{
		cfg:              cfg,
		logger:           logger,
		health:           health,
		driftHandler:     NewDriftHandler(engine, logger),
		migrationHandler: NewMigrationHandler(engine, logger),
	}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Handler returns the router. Every route is read-only; plans are always
// dry runs.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", s.health)

		api.Get("/drift", s.driftHandler.Report)
		api.Get("/drift/plan", s.driftHandler.Plan)
		api.Get("/reconcile", s.driftHandler.Reconcile)

		api.Get("/status", s.migrationHandler.Status)
		api.Get("/migrations", s.migrationHandler.List)
		api.Get("/migrations/{id}", s.migrationHandler.Get)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "the API is read-only")
	})
	return r
}
