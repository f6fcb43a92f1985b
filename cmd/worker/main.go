package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/production-control/internal/config"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/handler"
	"github.com/kursadbilgin/production-control/internal/infra/postgresql"
	"github.com/kursadbilgin/production-control/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/production-control/internal/infra/redis"
	"github.com/kursadbilgin/production-control/internal/jobs"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/queue"
	"github.com/kursadbilgin/production-control/internal/ratelimit"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/schedule"
	"github.com/kursadbilgin/production-control/internal/service"
	"github.com/kursadbilgin/production-control/internal/storage"
	"github.com/kursadbilgin/production-control/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	shutdownTimeout  = 15 * time.Second
	consumerPrefetch = 1
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()

	gcsClient, err := storage.NewGCSClient(ctx, cfg.StorageCredentialsFile)
	if err != nil {
		return fmt.Errorf("object storage initialization failed: %w", err)
	}
	objects, err := storage.NewGCSStore(gcsClient, cfg.StorageBucketPrefix, logger)
	if err != nil {
		return err
	}
	defer objects.Close()

	metrics := observability.NewMetrics()

	jobQueue, err := jobs.NewQueue(db, queue.NewRabbitMQPublisher(mq), logger)
	if err != nil {
		return err
	}
	notifier, err := webhook.NewNotifier(db, jobQueue, logger)
	if err != nil {
		return err
	}

	limiter, err := webhookLimiter(rdb, cfg.WebhookRateLimitPerSec)
	if err != nil {
		return err
	}
	dispatcher, err := webhook.NewDispatcher(repository.NewGormWebhookRepo(db), resty.New(), limiter, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	handlers, err := buildJobHandlers(db, cfg, objects, notifier, rdb, logger)
	if err != nil {
		return err
	}
	handlers.SendWebhook = webhook.SendHandler(dispatcher)
	handlers.Metrics = metrics

	jobStore := repository.NewGormJobRepo(db)
	runner, err := jobs.NewRunner(jobStore, jobs.RunnerConfig{
		SoftTimeLimit:     cfg.JobSoftTimeLimit,
		HardTimeLimit:     cfg.JobHardTimeLimit,
		RetryBaseDelay:    cfg.JobRetryBaseDelay,
		HeartbeatInterval: cfg.JobHeartbeatInterval,
	}, logger)
	if err != nil {
		return err
	}
	runner.SetMetrics(metrics)
	if err := handlers.Register(runner); err != nil {
		return err
	}

	consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
	defer consumer.Close()
	pool, err := jobs.NewPool(consumer, runner, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}

	scanner, err := jobs.NewScanner(jobStore, jobQueue, jobs.ScannerConfig{
		Interval:        cfg.JobScanInterval,
		StaleAfter:      cfg.JobStaleAfter,
		RedispatchAfter: cfg.JobRedispatchAfter,
	}, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "production-control-worker",
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"storage":  objects.Ping,
		"rabbitmq": func(context.Context) error {
			if !mq.Healthy() {
				return errors.New("rabbitmq connection is closed")
			}
			return nil
		},
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })

	if cfg.SweepsEnabled {
		scheduler, err := schedule.NewScheduler(jobQueue, []schedule.Entry{
			{Kind: domain.JobCloseExpiredBatches, Spec: cfg.SweepCloseBatchesCron},
			{Kind: domain.JobCleanupStaleFiles, Spec: cfg.SweepCleanupFilesCron},
			{Kind: domain.JobRefreshStatistics, Spec: cfg.SweepRefreshStatsCron},
			{Kind: domain.JobRetryFailedWebhooks, Spec: cfg.SweepRetryHooksCron},
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Start(groupCtx) })
	}

	g.Go(func() error {
		logger.Info("worker metrics server started", zap.Int("port", cfg.WorkerMetricsPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort)); err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("production-control worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Bool("sweeps", cfg.SweepsEnabled),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// webhookLimiter returns the per-subscription send limiter; a limit of 0 disables it.
func webhookLimiter(rdb *redis.Client, limitPerSec int) (ratelimit.RateLimiter, error) {
	if limitPerSec <= 0 {
		return nil, nil
	}
	return infraredis.NewRedisRateLimiter(rdb, limitPerSec)
}

func buildJobHandlers(
	db *gorm.DB,
	cfg *config.Config,
	objects storage.ObjectStore,
	notifier *webhook.Notifier,
	rdb *redis.Client,
	logger *zap.Logger,
) (service.JobHandlers, error) {
	var h service.JobHandlers

	batches := repository.NewGormBatchRepo(db)
	workCenters := repository.NewGormWorkCenterRepo(db)
	products := repository.NewGormProductRepo(db)

	statsCache, err := infraredis.NewCache(rdb, "production-control")
	if err != nil {
		return h, err
	}
	statistics, err := service.NewStatisticsService(repository.NewGormStatisticsRepo(db), statsCache, cfg.StatsCacheTTL, logger)
	if err != nil {
		return h, err
	}

	if h.Aggregation, err = service.NewAggregationService(db, notifier, logger); err != nil {
		return h, err
	}
	if h.Import, err = service.NewImportService(db, objects, notifier, logger); err != nil {
		return h, err
	}
	if h.Export, err = service.NewExportService(batches, workCenters, objects, logger); err != nil {
		return h, err
	}
	if h.Report, err = service.NewReportService(batches, workCenters, products, objects, notifier, logger); err != nil {
		return h, err
	}
	h.Sweeps, err = service.NewSweepService(db, objects, statistics, notifier, notifier, service.SweepConfig{
		FileRetention:     cfg.FileRetention,
		RetryLimit:        cfg.WebhookRetryScanLimit,
		StalePendingAfter: cfg.WebhookStalePendingAfter,
	}, logger)
	return h, err
}
