package main

import (
	"context"
	"net/http"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/config"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/imageservice/selector"
	"github.com/DMarby/imageservice-client/internal/cmd"
	"github.com/DMarby/imageservice-client/internal/health"
	"github.com/DMarby/imageservice-client/internal/hosting"
	"github.com/DMarby/imageservice-client/internal/metrics"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/storage"
	"github.com/DMarby/imageservice-client/tracing"
)

// serve runs the metrics server, and the hosting server for the local adapter, until interrupted
func serve(ctx context.Context, log *logger.Logger, tracer *tracing.Tracer, cfg config.Config, service imageservice.Service, cacheProvider cache.Provider) error {
	// Set up context for shutting down
	shutdownCtx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	var store storage.Provider
	if service.Kind() == imageservice.KindLocal {
		var err error
		store, err = selector.Storage(cfg.Disk)
		if err != nil {
			return err
		}
	}

	// Initialize and start the health checker
	checkerCtx, checkerCancel := context.WithCancel(ctx)
	defer checkerCancel()

	checker := &health.Checker{
		Ctx:     checkerCtx,
		Service: service,
		ImageID: *healthCheckImageID,
		Cache:   cacheProvider,
		Storage: store,
		Log:     log,
	}
	go checker.Run()

	// Start the metrics http server
	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go metrics.Serve(metricsCtx, log, checker, *metricsListen)

	var server *http.Server
	if store != nil {
		// Start and listen on http
		api := &hosting.API{
			Storage:        store,
			HealthChecker:  checker,
			Log:            log,
			Tracer:         tracer,
			HandlerTimeout: cmd.HandlerTimeout,
		}
		server = &http.Server{
			Addr:         *listen,
			Handler:      api.Router(),
			ReadTimeout:  cmd.ReadTimeout,
			WriteTimeout: cmd.WriteTimeout,
			ErrorLog:     logger.NewHTTPErrorLog(log),
		}

		cmd.ListenAndServe(log, server, shutdown)
	}

	// Wait for shutdown or error
	err := cmd.WaitForInterrupt(shutdownCtx)
	log.Infof("shutting down: %s", err)

	if server != nil {
		cmd.Shutdown(log, server)
	}

	return nil
}
