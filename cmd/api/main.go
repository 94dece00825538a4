// Package main is the entry point for the Upkeep API server.
//
// It loads configuration, connects the database pool, builds the HTTP server
// with the core chassis (middleware, routing, health checks), and starts
// listening. Manual engine runs are exposed through POST /v1/pm/runs for
// backfills and incident response; the pm-worker process drives the same
// passes on a schedule.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"upkeep/internal/api/handlers"
	"upkeep/internal/config"
	"upkeep/internal/core"
	"upkeep/internal/db"
	"upkeep/internal/external"
	"upkeep/internal/notifications"
	"upkeep/internal/pm"
	"upkeep/internal/storage"
	"upkeep/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("upkeep API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	notifier, archiver, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Repositories.
	triggerRepo := db.NewPMTriggerRepository(pool)
	scheduleRepo := db.NewPMScheduleRepository(pool)
	workOrderRepo := db.NewWorkOrderRepository(pool)
	historyRepo := db.NewMaintenanceHistoryRepository(pool)
	assetRepo := db.NewAssetRepository(pool)
	meterRepo := db.NewMeterReadingRepository(pool)
	userRepo := db.NewUserRepository(pool)

	// Engine services.
	evaluator := pm.NewTriggerEvaluator(triggerRepo, meterRepo, logger)
	generator := pm.NewWorkOrderGenerator(
		scheduleRepo, triggerRepo, workOrderRepo, historyRepo, assetRepo,
		evaluator, logger,
	)
	tracker := pm.NewFailureTracker(historyRepo, pm.FailureWindow)
	rescheduler := pm.NewRescheduler(
		triggerRepo, scheduleRepo, workOrderRepo, userRepo,
		tracker, generator, pm.DefaultRuleTable(), notifier, logger,
	)
	archival := pm.NewHistoryArchivalService(historyRepo, archiver, logger)

	// HTTP server.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.HealthProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}
	srv.MountMiddleware()

	clock := types.RealClock{}
	triggerHandler := handlers.NewTriggerHandler(triggerRepo, scheduleRepo, srv.Validator, clock, logger)
	runsHandler := handlers.NewRunsHandler(
		generator, rescheduler, archival,
		cfg.Worker.HistoryRetention,
		srv.Validator, clock, logger,
	)
	evaluateHandler := handlers.NewEvaluateHandler(generator, clock, logger)

	srv.Router().Get("/health", srv.HandleHealth)
	srv.Router().Route("/v1", func(r chi.Router) {
		triggerHandler.RegisterRoutes(r)
		runsHandler.RegisterRoutes(r)
		evaluateHandler.RegisterRoutes(r)
	})

	return runHTTPServer(srv, cfg, logger)
}

// buildCollaborators constructs the notifier for the configured driver and
// the archive store when a bucket is configured.
func buildCollaborators(ctx context.Context, cfg *config.Config, logger *slog.Logger) (types.Notifier, pm.HistoryArchiver, error) {
	var notifier types.Notifier
	var archiver pm.HistoryArchiver

	needsAWS := cfg.Notify.Driver == "queue" || cfg.AWS.ArchiveBucket != ""
	if needsAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		if cfg.Notify.Driver == "queue" {
			notifier = notifications.NewQueueNotifier(sqs.NewFromConfig(awsCfg), cfg.Notify.QueueURL, logger)
		}
		if cfg.AWS.ArchiveBucket != "" {
			archiver = storage.NewS3ArchiveStore(s3.NewFromConfig(awsCfg), cfg.AWS.ArchiveBucket, logger)
		}
	}

	if cfg.Notify.Driver == "http" {
		base := external.NewClient(
			&http.Client{Timeout: 10 * time.Second},
			"notify",
			external.DefaultRetryPolicy(),
		)
		notifier = external.NewNotifyClient(base, cfg.Notify.ServiceURL, cfg.Notify.APIKey, logger)
	}

	return notifier, archiver, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
