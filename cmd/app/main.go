package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	_ "ratesservice/internal/api/docs"
	"ratesservice/internal/config"
)

// @title Exchange Rates Service API
// @version 1.0
// @description Cached exchange rates with stale fallback, amount conversion and asynchronous refresh.
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	sugar := zapLogger.Sugar()

	sugar.Infow("Starting Exchange Rates Service",
		"port", cfg.Server.Port,
		"default_base", cfg.Cache.DefaultBase,
		"rates_ttl_sec", cfg.Cache.RatesTTLSec)

	app, err := NewApp(cfg, sugar)
	if err != nil {
		sugar.Fatalw("Failed to initialize app", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		sugar.Fatalw("Application error", "error", err)
	}
}
