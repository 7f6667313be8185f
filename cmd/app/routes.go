package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratesservice/internal/api"
	"ratesservice/internal/api/middleware"
	"ratesservice/internal/service"
)

func (app *App) initHTTP(ratesService service.RatesServiceInterface) {
	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLoggingMiddleware(app.logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/exchange", func(r chi.Router) {
		r.Get("/rates", api.HandleGetRates(ratesService, app.logger))
		r.Get("/convert", api.HandleConvert(ratesService, app.logger))
		r.Get("/history", api.HandleGetHistory(ratesService))
		r.Post("/refresh", api.HandleRequestRefresh(ratesService))
	})
	r.Get("/healthz", api.HandleHealthz())
	r.Get("/readyz", api.HandleReadyz(app.db, app.rdbCache, app.rdbAsynq))

	if app.cfg.Server.ServeMetrics {
		r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	}

	if app.cfg.Server.ServeSwagger {
		r.Get("/swagger/*", api.SwaggerUIHandler())
		r.Get("/openapi.json", api.OpenAPISpecHandler())
	}

	if app.cfg.Server.ServeAsynqmon {
		mon := asynqmon.New(asynqmon.Options{
			RootPath:     "/monitoring",
			RedisConnOpt: asynq.RedisClientOpt{Addr: app.cfg.Redis.AsynqAddr},
		})
		r.Handle(mon.RootPath()+"/*", mon)
	}

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
