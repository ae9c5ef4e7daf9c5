package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"schemasync/internal/config"
	httpserver "schemasync/internal/http"
	"schemasync/internal/logging"
	"schemasync/internal/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	rt, err := syncer.Open(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	health := httpserver.HealthHandler{Checks: map[string]httpserver.Pinger{
		"catalog": rt.Adapter.DB().PingContext,
	}}
	if rt.Pool != nil {
		health.Checks["tracking"] = rt.Pool.Ping
	}

	logger.Info("server starting",
		"http_addr", cfg.HTTPAddress,
		"provider", rt.Adapter.Provider(),
		"tracking", rt.Pool != nil)

	server := httpserver.New(cfg, logger, rt.Engine, health)
	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
