// Package main is the entry point for the exchange rates service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ratesservice/internal/config"
	"ratesservice/internal/metrics"
	"ratesservice/internal/provider"
	"ratesservice/internal/repository"
	"ratesservice/internal/service"
	"ratesservice/internal/worker"
)

// App holds all application dependencies and manages their lifecycle.
type App struct {
	cfg            *config.Config
	logger         *zap.SugaredLogger
	db             *sql.DB
	rdbCache       *redis.Client
	rdbAsynq       *redis.Client
	registry       *prometheus.Registry
	asynqClient    *asynq.Client
	asynqServer    *asynq.Server
	asynqMux       *asynq.ServeMux
	asynqScheduler *asynq.Scheduler
	httpServer     *http.Server
}

// NewApp initializes all dependencies and returns a ready-to-run App.
func NewApp(cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: logger,
	}

	if err := app.initStorage(); err != nil {
		_ = app.close()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.close()
		return nil, err
	}

	return app, nil
}

// close releases database and Redis connections
func (app *App) close() error {
	var errs []error
	if app.asynqClient != nil {
		if err := app.asynqClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asynq client close: %w", err))
		}
	}
	if app.rdbAsynq != nil {
		if err := app.rdbAsynq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis asynq close: %w", err))
		}
	}
	if app.rdbCache != nil {
		if err := app.rdbCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis cache close: %w", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (app *App) initStorage() error {
	ctx := context.Background()

	db, err := repository.OpenPostgres(ctx, &app.cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	app.db = db

	if err := repository.RunMigrations(app.db, app.logger); err != nil {
		return fmt.Errorf("run DB migrations: %w", err)
	}

	app.rdbCache = redis.NewClient(&redis.Options{
		Addr: app.cfg.Redis.CacheAddr,
	})
	if err := app.rdbCache.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to Redis (cache, %s): %w", app.cfg.Redis.CacheAddr, err)
	}
	app.logger.Infow("Connected to Redis cache", "addr", app.cfg.Redis.CacheAddr)

	return nil
}

func (app *App) initServices() error {
	redisOpt := asynq.RedisClientOpt{Addr: app.cfg.Redis.AsynqAddr}
	taskTimeout := time.Duration(app.cfg.Worker.TimeoutSec) * time.Second

	app.rdbAsynq = redis.NewClient(&redis.Options{Addr: app.cfg.Redis.AsynqAddr})
	app.asynqClient = asynq.NewClient(redisOpt)
	app.asynqServer = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:              app.cfg.Worker.Concurrency,
			DelayedTaskCheckInterval: time.Duration(app.cfg.Worker.CheckIntervalSec) * time.Second,
			TaskCheckInterval:        time.Duration(app.cfg.Worker.CheckIntervalSec) * time.Second,
		},
	)
	app.asynqScheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		LogLevel: asynq.WarnLevel,
	})
	app.logger.Infow("Asynq configured", "addr", app.cfg.Redis.AsynqAddr)

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fetcher, err := newRatesFetcher(app.cfg, app.rdbCache)
	if err != nil {
		return err
	}

	snapshotRepo := repository.NewPostgresSnapshotRepository(app.db)
	asynqEnqueuer := worker.NewAsynqEnqueuer(app.asynqClient, app.cfg.Worker.MaxRetry, taskTimeout)

	// The store hook needs the service, which needs the cache.
	var ratesService *service.RatesService
	rateCache := service.NewRateCache(fetcher, app.logger,
		service.WithTTL(time.Duration(app.cfg.Cache.RatesTTLSec)*time.Second),
		service.WithDefaultBase(app.cfg.Cache.DefaultBase),
		service.WithMetrics(metrics.NewRateMetrics(app.registry)),
		service.WithStoreHook(func(snap service.Snapshot) { ratesService.RecordSnapshot(snap) }),
	)
	ratesService = service.NewRatesService(rateCache, snapshotRepo, asynqEnqueuer, app.logger)

	if app.cfg.Cache.WarmStart {
		if err := ratesService.WarmStart(context.Background(), app.cfg.Cache.DefaultBase); err != nil {
			app.logger.Warnw("Warm start failed", "base", app.cfg.Cache.DefaultBase, "error", err)
		}
	}

	app.asynqMux = asynq.NewServeMux()
	app.asynqMux.HandleFunc(service.TaskTypeRefreshRates, worker.NewRefreshRatesHandler(ratesService, app.logger))

	if app.cfg.Worker.RefreshCron != "" && len(app.cfg.Worker.RefreshBases) > 0 {
		if err := worker.RegisterPeriodicRefresh(app.asynqScheduler, app.cfg.Worker.RefreshCron,
			app.cfg.Worker.RefreshBases, app.cfg.Worker.MaxRetry, taskTimeout); err != nil {
			return err
		}
		app.logger.Infow("Periodic refresh scheduled",
			"cron", app.cfg.Worker.RefreshCron,
			"bases", app.cfg.Worker.RefreshBases)
	}

	app.initHTTP(ratesService)
	return nil
}

func newRatesFetcher(cfg *config.Config, cache *redis.Client) (provider.Fetcher, error) {
	ttl := time.Duration(cfg.Cache.ExchangeProviderPriceTTLSec) * time.Second

	var fetchers []provider.Fetcher

	if cfg.RatesAPI.BaseURL != "" {
		p := provider.NewLatestRatesProvider(cfg.RatesAPI.Name, cfg.RatesAPI.BaseURL, cfg.RatesAPI.Timeout)
		fetchers = append(fetchers, provider.NewCachedFetcher(p, cache, ttl, p.Name()))
	}

	if cfg.ExchangeRateHost.BaseURL != "" && cfg.ExchangeRateHost.APIKey != "" {
		p := provider.NewExchangeRateHostProvider(cfg.ExchangeRateHost.BaseURL, cfg.ExchangeRateHost.APIKey, cfg.ExchangeRateHost.Timeout)
		fetchers = append(fetchers, provider.NewCachedFetcher(p, cache, ttl, p.Name()))
	}

	if len(fetchers) == 0 {
		return nil, fmt.Errorf("no exchange rate providers are correctly configured: " +
			"rates_api requires base_url, exchangerate_host requires base_url and api_key")
	}

	if len(fetchers) == 1 {
		return fetchers[0], nil
	}

	return provider.NewExchangeProviderFacade(fetchers...), nil
}

// Run starts the HTTP server, Asynq worker and scheduler, blocking until the context is canceled.
func (app *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Infow("Starting Asynq worker server")
		if err := app.asynqServer.Start(app.asynqMux); err != nil {
			return fmt.Errorf("asynq worker failed to start: %w", err)
		}

		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		app.logger.Infow("Starting Asynq scheduler")
		if err := app.asynqScheduler.Start(); err != nil {
			return fmt.Errorf("asynq scheduler failed to start: %w", err)
		}

		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		app.logger.Infow("HTTP server listening", "port", app.cfg.Server.Port)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown: triggered by context cancellation (signal or component failure).
	g.Go(func() error {
		<-ctx.Done()
		return app.shutdown()
	})

	return g.Wait()
}

// shutdown performs ordered teardown: HTTP server -> scheduler -> Asynq worker -> connections.
// In-flight refreshes finish before the DB and Redis connections close.
func (app *App) shutdown() error {
	app.logger.Infow("Shutting down server...")

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Stop accepting new HTTP requests, drain in-flight
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Errorw("HTTP server shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// 2. Stop enqueuing periodic refreshes
	app.asynqScheduler.Shutdown()

	// 3. Drain in-flight Asynq tasks
	app.asynqServer.Shutdown()

	// 4. Close connections (asynq client, Redis, database)
	if err := app.close(); err != nil {
		app.logger.Errorw("Connection cleanup errors", "error", err)
		errs = append(errs, err)
	}

	app.logger.Infow("Shutdown complete")
	return errors.Join(errs...)
}
