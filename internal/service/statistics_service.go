package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/cache"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/repository"
	"go.uber.org/zap"
)

const (
	StatisticsCacheKey   = "dashboard_stats"
	defaultStatisticsTTL = 5 * time.Minute
)

// StatisticsService serves dashboard statistics from the cache, falling back to the store.
type StatisticsService struct {
	stats  repository.StatisticsRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewStatisticsService(
	stats repository.StatisticsRepository,
	c cache.Cache,
	ttl time.Duration,
	logger *zap.Logger,
) (*StatisticsService, error) {
	if stats == nil {
		return nil, fmt.Errorf("statistics repository is required")
	}
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if ttl <= 0 {
		ttl = defaultStatisticsTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatisticsService{
		stats:  stats,
		cache:  c,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Get returns cached statistics. A miss, a cache error or an unreadable entry falls back to the store.
func (s *StatisticsService) Get(ctx context.Context) (*domain.Statistics, error) {
	raw, err := s.cache.Get(ctx, StatisticsCacheKey)
	if err == nil {
		var stats domain.Statistics
		if jsonErr := json.Unmarshal(raw, &stats); jsonErr == nil {
			return &stats, nil
		}
		s.logger.Warn("discarding unreadable cached statistics")
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("statistics cache read failed", zap.Error(err))
	}

	return s.stats.Compute(ctx, s.now())
}

// Refresh recomputes the statistics and replaces the cache entry in a single write.
func (s *StatisticsService) Refresh(ctx context.Context) (*domain.Statistics, error) {
	stats, err := s.stats.Compute(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, StatisticsCacheKey, raw, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to cache statistics: %w", err)
	}
	return stats, nil
}
