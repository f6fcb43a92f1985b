package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAggregationCodes = 10000

// AggregateArgs are the args of an aggregate_products job.
type AggregateArgs struct {
	BatchID     int64    `json:"batchId"`
	UniqueCodes []string `json:"uniqueCodes"`
	UserID      *int64   `json:"userId,omitempty"`
}

func (a AggregateArgs) Validate() error {
	if a.BatchID <= 0 {
		return fmt.Errorf("batchId must be positive")
	}
	if len(a.UniqueCodes) == 0 {
		return fmt.Errorf("uniqueCodes must not be empty")
	}
	if len(a.UniqueCodes) > maxAggregationCodes {
		return fmt.Errorf("uniqueCodes exceeds %d entries", maxAggregationCodes)
	}
	return nil
}

// AggregationService marks products of a batch as aggregated.
type AggregationService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewAggregationService(db *gorm.DB, notifier Notifier, logger *zap.Logger) (*AggregationService, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AggregationService{
		db:       db,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Aggregate marks every code of batchID as aggregated in one transaction. Codes that are
// unknown to the batch or already aggregated are reported per code and never fail the call.
// One product_aggregated event is recorded when at least one code was aggregated.
func (s *AggregationService) Aggregate(ctx context.Context, batchID int64, codes []string) (*domain.AggregationResult, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: unique codes must not be empty", domain.ErrValidation)
	}

	result := &domain.AggregationResult{
		Success: true,
		Total:   len(codes),
		Errors:  []domain.AggregationError{},
	}

	var jobIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := repository.NewGormBatchRepo(tx).GetByID(ctx, batchID)
		if err != nil {
			return fmt.Errorf("batch %d: %w", batchID, err)
		}

		products := repository.NewGormProductRepo(tx)
		locked, err := products.LockByCodes(ctx, batchID, uniqueCodes(codes))
		if err != nil {
			return fmt.Errorf("failed to lock products: %w", err)
		}

		byCode := make(map[string]domain.Product, len(locked))
		for _, p := range locked {
			byCode[p.UniqueCode] = p
		}

		at := s.now().UTC()
		for _, code := range codes {
			product, ok := byCode[strings.TrimSpace(code)]
			switch {
			case !ok:
				result.AddFailure(code, domain.ReasonNotFoundInBatch)
				continue
			case product.IsAggregated:
				result.AddFailure(code, domain.ReasonAlreadyAggregated)
				continue
			}

			changed, err := products.MarkAggregated(ctx, []int64{product.ID}, at)
			if err != nil {
				return fmt.Errorf("failed to aggregate %q: %w", code, err)
			}
			// Zero rows means a concurrent writer got there first.
			if changed == 0 {
				result.AddFailure(code, domain.ReasonAlreadyAggregated)
				continue
			}

			product.IsAggregated = true
			product.AggregatedAt = &at
			byCode[product.UniqueCode] = product
			result.Aggregated++
		}

		if result.Aggregated == 0 {
			return nil
		}
		jobIDs, err = s.notifier.NotifyTx(ctx, tx, event.ProductAggregated{
			BatchID:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Total:       result.Total,
			Aggregated:  result.Aggregated,
			Failed:      result.Failed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("products aggregated",
		zap.Int64("batchId", batchID),
		zap.Int("total", result.Total),
		zap.Int("aggregated", result.Aggregated),
		zap.Int("failed", result.Failed),
	)

	if err := s.notifier.Dispatch(ctx, jobIDs...); err != nil {
		s.logger.Warn("failed to dispatch webhook jobs, scanner will pick them up", zap.Error(err))
	}
	return result, nil
}

func uniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
