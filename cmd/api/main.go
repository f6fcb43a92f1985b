package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/production-control/internal/config"
	"github.com/kursadbilgin/production-control/internal/handler"
	"github.com/kursadbilgin/production-control/internal/infra/postgresql"
	"github.com/kursadbilgin/production-control/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/production-control/internal/infra/redis"
	"github.com/kursadbilgin/production-control/internal/jobs"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/queue"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/service"
	"github.com/kursadbilgin/production-control/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

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
		logger.Fatal("api stopped with error", zap.Error(err))
	}
	logger.Info("api stopped")
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

	jobQueue, err := jobs.NewQueue(db, queue.NewRabbitMQPublisher(mq), logger)
	if err != nil {
		return err
	}

	statsCache, err := infraredis.NewCache(rdb, "production-control")
	if err != nil {
		return err
	}
	statistics, err := service.NewStatisticsService(repository.NewGormStatisticsRepo(db), statsCache, cfg.StatsCacheTTL, logger)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		AppName:               "production-control-api",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New(), requestid.New(), handler.CorrelationMiddleware(), metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": func(context.Context) error {
			if !mq.Healthy() {
				return errors.New("rabbitmq connection is closed")
			}
			return nil
		},
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterJobRoutes(app, jobQueue); err != nil {
		return err
	}
	if err := handler.RegisterSubscriptionRoutes(app, repository.NewGormWebhookRepo(db)); err != nil {
		return err
	}
	if err := handler.RegisterStatisticsRoutes(app, statistics); err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("production-control api started", zap.Int("port", cfg.APIPort))
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	return app.ShutdownWithTimeout(shutdownTimeout)
}
