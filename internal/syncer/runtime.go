package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"schemasync/internal/config"
	"schemasync/internal/db"
	"schemasync/internal/dsl"
	"schemasync/internal/events"
	"schemasync/internal/migrate"
	"schemasync/internal/storage"
	"schemasync/internal/store"
)

// Runtime owns the connections behind an engine.
type Runtime struct {
	Engine  *Engine
	Adapter db.Adapter
	Pool    *pgxpool.Pool
}

// Open connects what cfg asks for and wires an engine. With withDB false
// neither database is touched. The tracking database is brought up to date
// with the embedded self-migrations before use.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, withDB bool) (*Runtime, error) {
	rt := &Runtime{}
	var sinks []events.Sink
	sinks = append(sinks, events.NewLogSink(logger))
	var tracking Tracking

	if withDB {
		if err := cfg.ValidateDB(); err != nil {
			return nil, err
		}
		dbCfg := cfg.DB
		if dbCfg.Provider == "" {
			dbCfg.Provider = ProviderFromSchema(cfg.SchemaFile)
		}
		adapter, err := db.Open(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		rt.Adapter = adapter

		if cfg.TrackingDSN != "" {
			pool, err := store.Connect(ctx, cfg.TrackingDSN, cfg.DB.ConnectAttempts, cfg.DB.ConnectBackoff)
			if err != nil {
				rt.Close()
				return nil, err
			}
			rt.Pool = pool
			if err := migrate.New(pool, logger).Up(ctx); err != nil {
				rt.Close()
				return nil, fmt.Errorf("self-migrations: %w", err)
			}
			tracking = store.New(pool)
			if cfg.AuditEvents {
				sinks = append(sinks, events.NewAuditSink(pool, logger))
			}
		}
	}

	rt.Engine = New(cfg, rt.Adapter, storage.New(cfg.MigrationsDir), tracking, events.Multi(sinks...))
	return rt, nil
}

func (r *Runtime) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
	if r.Adapter != nil {
		_ = r.Adapter.Close()
	}
}

// ProviderFromSchema reads the datasource provider of a schema file,
// defaulting to postgres when the file is unreadable or declares none.
func ProviderFromSchema(path string) string {
	src, err := os.ReadFile(path)
	if err != nil {
		return "postgres"
	}
	doc, err := dsl.ParseDocument(path, string(src))
	if err != nil || doc.Provider() == "" {
		return "postgres"
	}
	return doc.Provider()
}
