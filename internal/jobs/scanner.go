package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultScanInterval    = 5 * time.Second
	defaultScanLimit       = 100
	defaultStaleAfter      = 2 * time.Minute
	defaultRedispatchAfter = 5 * time.Minute
)

// ScanStore is the job state the scanner reads and repairs.
type ScanStore interface {
	ResetStale(ctx context.Context, heartbeatBefore time.Time, now time.Time) (int64, error)
	GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.Job, error)
}

type ScannerConfig struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	RedispatchAfter time.Duration
	Limit           int
}

// Scanner publishes due jobs (retries, lost publishes) and recovers jobs whose worker died.
type Scanner struct {
	store  ScanStore
	queue  *Queue
	cfg    ScannerConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewScanner(store ScanStore, q *Queue, cfg ScannerConfig, logger *zap.Logger) (*Scanner, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultScanInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.RedispatchAfter <= 0 {
		cfg.RedispatchAfter = defaultRedispatchAfter
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		store:  store,
		queue:  q,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Scanner) Start(ctx context.Context) error {
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("job scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("job scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scanner) scan(ctx context.Context) error {
	now := s.now().UTC()

	reset, err := s.store.ResetStale(ctx, now.Add(-s.cfg.StaleAfter), now)
	if err != nil {
		return fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	if reset > 0 {
		s.logger.Warn("reset stale running jobs", zap.Int64("count", reset))
	}

	due, err := s.store.GetDueForDispatch(ctx, now, now.Add(-s.cfg.RedispatchAfter), s.cfg.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due jobs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	published := s.queue.publish(ctx, due)
	s.logger.Debug("dispatched due jobs", zap.Int("due", len(due)), zap.Int("published", published))
	return nil
}
