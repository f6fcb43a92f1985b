package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	CreateBatch(ctx context.Context, products []*domain.Product) error
	LockByCodes(ctx context.Context, batchID int64, codes []string) ([]domain.Product, error)
	MarkAggregated(ctx context.Context, ids []int64, at time.Time) (int64, error)
	ListByBatch(ctx context.Context, batchID int64) ([]domain.Product, error)
}

type GormProductRepo struct {
	db *gorm.DB
}

func NewGormProductRepo(db *gorm.DB) *GormProductRepo {
	return &GormProductRepo{db: db}
}

func (r *GormProductRepo) CreateBatch(ctx context.Context, products []*domain.Product) error {
	models := make([]ProductModel, 0, len(products))
	for _, p := range products {
		if model := productModelFromDomain(p); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 500).Error; err != nil {
		return err
	}

	i := 0
	for _, p := range products {
		if p == nil {
			continue
		}
		*p = *productModelToDomain(&models[i])
		i++
	}
	return nil
}

// LockByCodes loads the batch's products matching codes with row locks held until the
// caller's transaction ends. Rows are locked in id order so concurrent callers cannot deadlock.
func (r *GormProductRepo) LockByCodes(ctx context.Context, batchID int64, codes []string) ([]domain.Product, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	var models []ProductModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_id = ? AND unique_code IN ?", batchID, codes).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(models))
	for i := range models {
		products = append(products, *productModelToDomain(&models[i]))
	}
	return products, nil
}

// MarkAggregated flips not-yet-aggregated products and returns how many rows changed.
func (r *GormProductRepo) MarkAggregated(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id IN ? AND is_aggregated = ?", ids, false).
		Updates(map[string]any{
			"is_aggregated": true,
			"aggregated_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *GormProductRepo) ListByBatch(ctx context.Context, batchID int64) ([]domain.Product, error) {
	var models []ProductModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(models))
	for i := range models {
		products = append(products, *productModelToDomain(&models[i]))
	}
	return products, nil
}
