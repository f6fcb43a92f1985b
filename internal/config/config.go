package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9090"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY,default=8"`
	JobSoftTimeLimit     time.Duration `env:"JOB_SOFT_TIME_LIMIT,default=25m"`
	JobHardTimeLimit     time.Duration `env:"JOB_HARD_TIME_LIMIT,default=30m"`
	JobRetryBaseDelay    time.Duration `env:"JOB_RETRY_BASE_DELAY,default=1s"`
	JobHeartbeatInterval time.Duration `env:"JOB_HEARTBEAT_INTERVAL,default=30s"`
	JobStaleAfter        time.Duration `env:"JOB_STALE_AFTER,default=2m"`
	JobScanInterval      time.Duration `env:"JOB_SCAN_INTERVAL,default=5s"`
	JobRedispatchAfter   time.Duration `env:"JOB_REDISPATCH_AFTER,default=5m"`

	WebhookRateLimitPerSec   int           `env:"WEBHOOK_RATE_LIMIT_PER_SEC,default=50"`
	WebhookRetryScanLimit    int           `env:"WEBHOOK_RETRY_SCAN_LIMIT,default=100"`
	WebhookStalePendingAfter time.Duration `env:"WEBHOOK_STALE_PENDING_AFTER,default=15m"`

	FileRetention          time.Duration `env:"FILE_RETENTION,default=720h"`
	StatsCacheTTL          time.Duration `env:"STATS_CACHE_TTL,default=5m"`
	StorageBucketPrefix    string        `env:"STORAGE_BUCKET_PREFIX,default=production-control"`
	StorageCredentialsFile string        `env:"STORAGE_CREDENTIALS_FILE"`

	SweepsEnabled         bool   `env:"SWEEPS_ENABLED,default=true"`
	SweepCloseBatchesCron string `env:"SWEEP_CLOSE_BATCHES_CRON,default=0 1 * * *"`
	SweepCleanupFilesCron string `env:"SWEEP_CLEANUP_FILES_CRON,default=0 2 * * *"`
	SweepRefreshStatsCron string `env:"SWEEP_REFRESH_STATS_CRON,default=*/5 * * * *"`
	SweepRetryHooksCron   string `env:"SWEEP_RETRY_WEBHOOKS_CRON,default=*/15 * * * *"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.JobSoftTimeLimit > c.JobHardTimeLimit {
		return fmt.Errorf("JOB_SOFT_TIME_LIMIT must not exceed JOB_HARD_TIME_LIMIT")
	}
	if c.WebhookRateLimitPerSec < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_PER_SEC must not be negative")
	}
	return nil
}
