package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultFileRetention     = 30 * 24 * time.Hour
	defaultRetryLimit        = 100
	defaultStalePendingAfter = 15 * time.Minute
)

// DeliveryEnqueuer queues a send job for a stored delivery. Implemented by webhook.Notifier.
type DeliveryEnqueuer interface {
	EnqueueDelivery(ctx context.Context, deliveryID int64) (string, error)
}

type SweepConfig struct {
	FileRetention     time.Duration
	RetryLimit        int
	StalePendingAfter time.Duration
}

type CloseExpiredResult struct {
	ClosedCount int `json:"closed_count"`
}

type CleanupResult struct {
	DeletedCount int `json:"deleted_count"`
	FailedCount  int `json:"failed_count"`
}

type RetryWebhooksResult struct {
	RetriedCount  int `json:"retried_count"`
	RequeuedCount int `json:"requeued_count"`
}

// SweepService holds the bodies of the periodic maintenance jobs.
type SweepService struct {
	db         *gorm.DB
	deliveries repository.DeliveryRepository
	store      storage.ObjectStore
	statistics *StatisticsService
	notifier   Notifier
	enqueuer   DeliveryEnqueuer
	cfg        SweepConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewSweepService(
	db *gorm.DB,
	store storage.ObjectStore,
	statistics *StatisticsService,
	notifier Notifier,
	enqueuer DeliveryEnqueuer,
	cfg SweepConfig,
	logger *zap.Logger,
) (*SweepService, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if statistics == nil {
		return nil, fmt.Errorf("statistics service is required")
	}
	if notifier == nil || enqueuer == nil {
		return nil, fmt.Errorf("notifier and delivery enqueuer are required")
	}
	if cfg.FileRetention <= 0 {
		cfg.FileRetention = defaultFileRetention
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = defaultRetryLimit
	}
	if cfg.StalePendingAfter <= 0 {
		cfg.StalePendingAfter = defaultStalePendingAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SweepService{
		db:         db,
		deliveries: repository.NewGormWebhookRepo(db),
		store:      store,
		statistics: statistics,
		notifier:   notifier,
		enqueuer:   enqueuer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// CloseExpiredBatches closes every open batch whose shift has ended and records one
// batch_closed event per batch, all in one transaction.
func (s *SweepService) CloseExpiredBatches(ctx context.Context) (*CloseExpiredResult, error) {
	now := s.now().UTC()
	result := &CloseExpiredResult{}

	var jobIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches := repository.NewGormBatchRepo(tx)
		expired, err := batches.LockExpired(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to load expired batches: %w", err)
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(expired))
		for _, b := range expired {
			ids = append(ids, b.ID)
		}
		closed, err := batches.CloseMany(ctx, ids, now)
		if err != nil {
			return fmt.Errorf("failed to close batches: %w", err)
		}
		result.ClosedCount = int(closed)

		for _, b := range expired {
			b.Close(now)
			ids, err := s.notifier.NotifyTx(ctx, tx, event.NewBatchClosed(b))
			if err != nil {
				return err
			}
			jobIDs = append(jobIDs, ids...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Dispatch(ctx, jobIDs...); err != nil {
		s.logger.Warn("failed to dispatch webhook jobs, scanner will pick them up", zap.Error(err))
	}
	return result, nil
}

// CleanupStaleFiles deletes stored files older than the retention window. Failures on a
// bucket or a single file are logged and counted; the sweep continues.
func (s *SweepService) CleanupStaleFiles(ctx context.Context) (*CleanupResult, error) {
	cutoff := s.now().Add(-s.cfg.FileRetention)
	result := &CleanupResult{}

	for _, bucket := range storage.Buckets() {
		objects, err := s.store.List(ctx, bucket, "")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("failed to list bucket", zap.String("bucket", bucket.String()), zap.Error(err))
			continue
		}

		for _, obj := range objects {
			if !obj.LastModified.Before(cutoff) {
				continue
			}
			if err := s.store.Delete(ctx, bucket, obj.Key); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				result.FailedCount++
				s.logger.Warn("failed to delete stale file",
					zap.String("bucket", bucket.String()),
					zap.String("key", obj.Key),
					zap.Error(err),
				)
				continue
			}
			result.DeletedCount++
		}
	}
	return result, nil
}

func (s *SweepService) RefreshStatistics(ctx context.Context) (*domain.Statistics, error) {
	return s.statistics.Refresh(ctx)
}

// RetryFailedWebhooks moves retry-eligible failed deliveries back to pending and queues a
// send for each. Pending deliveries untouched for StalePendingAfter are queued again as well.
// Deliveries of inactive subscriptions are never selected.
func (s *SweepService) RetryFailedWebhooks(ctx context.Context) (*RetryWebhooksResult, error) {
	now := s.now().UTC()
	result := &RetryWebhooksResult{}

	failed, err := s.deliveries.ListRetryEligible(ctx, s.cfg.RetryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	for _, d := range failed {
		moved, err := s.deliveries.MarkForRetry(ctx, d.ID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to mark delivery %d for retry: %w", d.ID, err)
		}
		if !moved {
			continue
		}
		if _, err := s.enqueuer.EnqueueDelivery(ctx, d.ID); err != nil {
			return nil, err
		}
		result.RetriedCount++
	}

	stale, err := s.deliveries.ListStalePending(ctx, now.Add(-s.cfg.StalePendingAfter), s.cfg.RetryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale deliveries: %w", err)
	}
	for _, d := range stale {
		if err := s.deliveries.Touch(ctx, d.ID, now); err != nil {
			return nil, fmt.Errorf("failed to touch delivery %d: %w", d.ID, err)
		}
		if _, err := s.enqueuer.EnqueueDelivery(ctx, d.ID); err != nil {
			return nil, err
		}
		result.RequeuedCount++
	}
	return result, nil
}
