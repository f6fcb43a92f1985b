package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id int64) (*domain.Batch, error)
	ExistsByNumberAndDate(ctx context.Context, number int, date time.Time) (bool, error)
	List(ctx context.Context, filter domain.BatchFilter, limit int) ([]domain.Batch, error)
	LockExpired(ctx context.Context, now time.Time) ([]domain.Batch, error)
	CloseMany(ctx context.Context, ids []int64, closedAt time.Time) (int64, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id int64) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) ExistsByNumberAndDate(ctx context.Context, number int, date time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("batch_number = ? AND batch_date = ?", number, date).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormBatchRepo) List(ctx context.Context, filter domain.BatchFilter, limit int) ([]domain.Batch, error) {
	query := r.db.WithContext(ctx).Model(&BatchModel{})

	if filter.IsClosed != nil {
		query = query.Where("is_closed = ?", *filter.IsClosed)
	}
	if filter.BatchDate != nil {
		query = query.Where("batch_date = ?", *filter.BatchDate)
	}
	if filter.WorkCenterID != nil {
		query = query.Where("work_center_id = ?", *filter.WorkCenterID)
	}
	if filter.Shift != nil {
		query = query.Where("shift = ?", *filter.Shift)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []BatchModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

// LockExpired selects open batches whose shift has ended and locks them for the caller's transaction.
func (r *GormBatchRepo) LockExpired(ctx context.Context, now time.Time) ([]domain.Batch, error) {
	var models []BatchModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("is_closed = ? AND shift_end < ?", false, now).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

// CloseMany closes the given batches. Already closed batches are left untouched.
func (r *GormBatchRepo) CloseMany(ctx context.Context, ids []int64, closedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id IN ? AND is_closed = ?", ids, false).
		Updates(map[string]any{
			"is_closed":  true,
			"closed_at":  closedAt,
			"updated_at": closedAt,
		})
	return result.RowsAffected, result.Error
}

type WorkCenterRepository interface {
	GetOrCreate(ctx context.Context, identifier string, name string) (*domain.WorkCenter, error)
	GetByID(ctx context.Context, id int64) (*domain.WorkCenter, error)
}

type GormWorkCenterRepo struct {
	db *gorm.DB
}

func NewGormWorkCenterRepo(db *gorm.DB) *GormWorkCenterRepo {
	return &GormWorkCenterRepo{db: db}
}

func (r *GormWorkCenterRepo) GetOrCreate(ctx context.Context, identifier string, name string) (*domain.WorkCenter, error) {
	var model WorkCenterModel
	err := r.db.WithContext(ctx).
		Where(WorkCenterModel{Identifier: identifier}).
		Attrs(WorkCenterModel{Name: name}).
		FirstOrCreate(&model).Error
	if err != nil {
		return nil, err
	}
	return workCenterModelToDomain(&model), nil
}

func (r *GormWorkCenterRepo) GetByID(ctx context.Context, id int64) (*domain.WorkCenter, error) {
	var model WorkCenterModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return workCenterModelToDomain(&model), nil
}
