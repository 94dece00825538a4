// Package main is the entry point for the Upkeep PM worker.
//
// The worker drives the four engine passes on their configured intervals:
// due-trigger generation, failed work-order rescheduling, overdue PM
// processing, and maintenance-history archival. Passes are serialized across
// worker instances with database job locks, and every run is recorded in job
// history. Batch outcome counts are optionally emitted to CloudWatch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/external"
	"upkeep/internal/notifications"
	"upkeep/internal/pm"
	"upkeep/internal/scheduler"
	"upkeep/internal/storage"
	"upkeep/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	workerID := "pm-worker-" + uuid.New().String()
	logger = logger.With("worker_id", workerID)
	logger.Info("pm worker starting", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// AWS-backed collaborators.
	var (
		notifier types.Notifier
		archiver pm.HistoryArchiver
		metrics  *notifications.BatchMetrics
	)

	needsAWS := cfg.Notify.Driver == "queue" || cfg.AWS.ArchiveBucket != "" || cfg.AWS.MetricsEnabled
	if needsAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS SDK config: %w", err)
		}
		if cfg.Notify.Driver == "queue" {
			notifier = notifications.NewQueueNotifier(sqs.NewFromConfig(awsCfg), cfg.Notify.QueueURL, logger)
		}
		if cfg.AWS.ArchiveBucket != "" {
			archiver = storage.NewS3ArchiveStore(s3.NewFromConfig(awsCfg), cfg.AWS.ArchiveBucket, logger)
		}
		if cfg.AWS.MetricsEnabled {
			metrics = notifications.NewBatchMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
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

	// Repositories.
	triggerRepo := db.NewPMTriggerRepository(pool)
	scheduleRepo := db.NewPMScheduleRepository(pool)
	workOrderRepo := db.NewWorkOrderRepository(pool)
	historyRepo := db.NewMaintenanceHistoryRepository(pool)
	assetRepo := db.NewAssetRepository(pool)
	meterRepo := db.NewMeterReadingRepository(pool)
	userRepo := db.NewUserRepository(pool)
	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

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

	jobs := []scheduler.Job{
		{
			Name:     string(pm.TaskGenerateDue),
			Interval: cfg.Worker.GenerateInterval,
			Run: batchJob(metrics, pm.TaskGenerateDue, func(ctx context.Context, now time.Time) (pm.BatchResult, error) {
				return generator.GenerateForAllDue(ctx, now)
			}),
		},
		{
			Name:     string(pm.TaskProcessFailed),
			Interval: cfg.Worker.FailedInterval,
			Run: batchJob(metrics, pm.TaskProcessFailed, func(ctx context.Context, now time.Time) (pm.BatchResult, error) {
				return rescheduler.ProcessFailedWorkOrders(ctx, now)
			}),
		},
		{
			Name:     string(pm.TaskProcessOverdue),
			Interval: cfg.Worker.OverdueInterval,
			Run: batchJob(metrics, pm.TaskProcessOverdue, func(ctx context.Context, now time.Time) (pm.BatchResult, error) {
				return rescheduler.ProcessOverduePMs(ctx, now)
			}),
		},
		{
			Name:     string(pm.TaskArchiveHistory),
			Interval: cfg.Worker.ArchiveInterval,
			Run: func(ctx context.Context, now time.Time) (int, error) {
				return archival.ArchiveOldHistory(ctx, now, cfg.Worker.HistoryRetention)
			},
		},
	}

	driver := scheduler.NewDriver(jobs, jobHistoryRepo, jobLockRepo, workerID, cfg.Worker.LockTTL, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		driver.Run(gctx)
		return nil
	})

	logger.Info("pm worker running",
		"generate_interval", cfg.Worker.GenerateInterval,
		"failed_interval", cfg.Worker.FailedInterval,
		"overdue_interval", cfg.Worker.OverdueInterval,
		"archive_interval", cfg.Worker.ArchiveInterval,
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	logger.Info("pm worker stopped cleanly")
	return nil
}

// batchJob adapts an engine pass to the driver's job signature and reports
// its outcome counts to CloudWatch when metrics are enabled.
func batchJob(
	metrics *notifications.BatchMetrics,
	task pm.TaskType,
	pass func(ctx context.Context, now time.Time) (pm.BatchResult, error),
) func(ctx context.Context, now time.Time) (int, error) {
	return func(ctx context.Context, now time.Time) (int, error) {
		result, err := pass(ctx, now)
		if metrics != nil {
			metrics.RecordPass(ctx, string(task), result.Processed()-result.Failed, result.Failed)
		}
		return result.Processed(), err
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
