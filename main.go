package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"positionLedger/config"
	"positionLedger/internal/adapters/eventstore"
	"positionLedger/internal/adapters/httpapi"
	"positionLedger/internal/adapters/logger"
	"positionLedger/internal/adapters/metrics"
	"positionLedger/internal/app"
	"positionLedger/internal/locking"
	"positionLedger/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "position-ledger"})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Event Store
	store, err := eventstore.Open(ctx, eventstore.Config{
		Driver: cfg.StoreDriver,
		DBPath: cfg.DBPath,
		DSN:    cfg.DatabaseDSN,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize event store")
		log.Fatalf("FATAL: Failed to initialize event store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing event store")
		}
	}()
	appLogger.Info(context.Background(), "Event store initialized", map[string]interface{}{"driver": cfg.StoreDriver})

	// 4. Initialize Metrics
	var (
		recorder       ports.Metrics = metrics.Noop{}
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		r := metrics.NewRecorder(reg)
		recorder, metricsHandler = r, r.Handler()
	}

	// 5. Initialize Application Service
	positionService, err := app.NewPositionService(
		app.Config{LockTimeout: cfg.LockTimeout},
		appLogger,
		store,
		locking.New(),
		recorder,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position service")
		log.Fatalf("FATAL: Failed to initialize position service: %v", err)
	}
	appLogger.Info(context.Background(), "Position service initialized")

	// 6. Start the HTTP server
	handler, err := httpapi.NewHandler(positionService, appLogger, httpapi.Config{
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metricsHandler,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize HTTP handler")
		log.Fatalf("FATAL: Failed to initialize HTTP handler: %v", err)
	}
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info(context.Background(), "HTTP server listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			appLogger.Error(context.Background(), err, "HTTP server exited with error")
		}
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(context.Background(), err, "HTTP server shutdown failed")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
