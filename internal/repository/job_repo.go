package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var activeJobStatuses = []domain.JobStatus{domain.JobPending, domain.JobRunning}

type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Job, error)
	FindActiveByDedupeKey(ctx context.Context, key string) (*domain.Job, error)
	Claim(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	Heartbeat(ctx context.Context, id string, at time.Time) error
	UpdateProgress(ctx context.Context, id string, progress domain.JobProgress) error
	Complete(ctx context.Context, id string, result []byte, at time.Time) error
	Fail(ctx context.Context, id string, errMsg string, at time.Time) error
	ScheduleRetry(ctx context.Context, id string, nextRunAt time.Time, errMsg string) error
	MarkDispatched(ctx context.Context, ids []string, at time.Time) error
	GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.Job, error)
	ResetStale(ctx context.Context, heartbeatBefore time.Time, now time.Time) (int64, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, job *domain.Job) error {
	model, err := jobModelFromDomain(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	created, err := jobModelToDomain(model)
	if err != nil {
		return err
	}
	*job = *created
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model)
}

func (r *GormJobRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []JobModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	return jobModelsToDomain(models)
}

func (r *GormJobRepo) FindActiveByDedupeKey(ctx context.Context, key string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ? AND status IN ?", key, activeJobStatuses).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model)
}

// Claim moves a pending job to running and counts the attempt. It returns nil when the job
// is not claimable (already running, terminal, or not yet due), so duplicate messages are harmless.
func (r *GormJobRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	var claimed *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if model.Status != domain.JobPending || model.NextRunAt.After(now) {
			return nil
		}

		model.Status = domain.JobRunning
		model.Attempts++
		model.StartedAt = &now
		model.HeartbeatAt = &now
		model.DispatchedAt = nil

		err = tx.Model(&JobModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":        model.Status,
				"attempts":      model.Attempts,
				"started_at":    now,
				"heartbeat_at":  now,
				"dispatched_at": nil,
				"updated_at":    now,
			}).Error
		if err != nil {
			return err
		}

		claimed, err = jobModelToDomain(&model)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *GormJobRepo) Heartbeat(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Update("heartbeat_at", at).Error
}

func (r *GormJobRepo) UpdateProgress(ctx context.Context, id string, progress domain.JobProgress) error {
	encoded, err := json.Marshal(progress)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Update("progress", datatypes.JSON(encoded)).Error
}

func (r *GormJobRepo) Complete(ctx context.Context, id string, result []byte, at time.Time) error {
	return r.finish(ctx, id, map[string]any{
		"status":      domain.JobSucceeded,
		"result":      datatypes.JSON(result),
		"error":       nil,
		"finished_at": at,
		"updated_at":  at,
	})
}

func (r *GormJobRepo) Fail(ctx context.Context, id string, errMsg string, at time.Time) error {
	return r.finish(ctx, id, map[string]any{
		"status":      domain.JobFailed,
		"error":       errMsg,
		"finished_at": at,
		"updated_at":  at,
	})
}

// ScheduleRetry returns a running job to pending. The dispatch scanner publishes it once next_run_at passes.
func (r *GormJobRepo) ScheduleRetry(ctx context.Context, id string, nextRunAt time.Time, errMsg string) error {
	return r.finish(ctx, id, map[string]any{
		"status":        domain.JobPending,
		"next_run_at":   nextRunAt,
		"error":         errMsg,
		"dispatched_at": nil,
		"heartbeat_at":  nil,
		"updated_at":    time.Now().UTC(),
	})
}

func (r *GormJobRepo) finish(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s is no longer running", domain.ErrConflict, id)
	}
	return nil
}

func (r *GormJobRepo) MarkDispatched(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id IN ? AND status = ?", ids, domain.JobPending).
		Update("dispatched_at", at).Error
}

// GetDueForDispatch returns pending jobs that are due and were never published, or whose
// last publish is older than redispatchBefore.
func (r *GormJobRepo) GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", domain.JobPending, now).
		Where("(dispatched_at IS NULL OR dispatched_at < ?)", redispatchBefore).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobModelsToDomain(models)
}

// ResetStale returns running jobs whose worker stopped heartbeating to pending.
func (r *GormJobRepo) ResetStale(ctx context.Context, heartbeatBefore time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("status = ? AND heartbeat_at < ?", domain.JobRunning, heartbeatBefore).
		Updates(map[string]any{
			"status":        domain.JobPending,
			"next_run_at":   now,
			"dispatched_at": nil,
			"heartbeat_at":  nil,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

func jobModelsToDomain(models []JobModel) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		job, err := jobModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}
