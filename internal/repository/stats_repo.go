package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"gorm.io/gorm"
)

type StatisticsRepository interface {
	Compute(ctx context.Context, now time.Time) (*domain.Statistics, error)
}

type GormStatisticsRepo struct {
	db *gorm.DB
}

func NewGormStatisticsRepo(db *gorm.DB) *GormStatisticsRepo {
	return &GormStatisticsRepo{db: db}
}

type batchCounts struct {
	Total  int64 `gorm:"column:total"`
	Closed int64 `gorm:"column:closed"`
}

type productCounts struct {
	Total      int64 `gorm:"column:total"`
	Aggregated int64 `gorm:"column:aggregated"`
}

func (r *GormStatisticsRepo) Compute(ctx context.Context, now time.Time) (*domain.Statistics, error) {
	var batches batchCounts
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_closed THEN 1 ELSE 0 END), 0) AS closed").
		Scan(&batches).Error
	if err != nil {
		return nil, err
	}

	var products productCounts
	err = r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_aggregated THEN 1 ELSE 0 END), 0) AS aggregated").
		Scan(&products).Error
	if err != nil {
		return nil, err
	}

	stats := domain.NewStatistics(batches.Total, batches.Closed, products.Total, products.Aggregated, now)
	return &stats, nil
}
