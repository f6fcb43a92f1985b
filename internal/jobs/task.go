package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"go.uber.org/zap"
)

// HandlerFunc executes one job. The returned value is stored as the job result.
type HandlerFunc func(ctx context.Context, task *Task) (any, error)

type validator interface {
	Validate() error
}

// Task is the running job as seen by its handler.
type Task struct {
	job          domain.Job
	store        Store
	softDeadline time.Time
	now          func() time.Time
	logger       *zap.Logger
}

func (t *Task) ID() string {
	return t.job.ID
}

func (t *Task) Kind() domain.JobKind {
	return t.job.Kind
}

// Attempt is 1 on the first run.
func (t *Task) Attempt() int {
	return t.job.Attempts
}

func (t *Task) Logger() *zap.Logger {
	return t.logger
}

// Decode unmarshals the job args into v and validates them when v has a Validate method.
func (t *Task) Decode(v any) error {
	args := t.job.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: invalid %s args: %v", domain.ErrValidation, t.job.Kind, err)
	}
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: invalid %s args: %v", domain.ErrValidation, t.job.Kind, err)
		}
	}
	return nil
}

// ReportProgress stores current/total on the job row and then checks the soft limit,
// so long loops only need one call per iteration.
func (t *Task) ReportProgress(ctx context.Context, current int, total int) error {
	if err := t.store.UpdateProgress(ctx, t.job.ID, domain.NewJobProgress(current, total)); err != nil {
		t.logger.Warn("failed to store job progress", zap.Error(err))
	}
	return t.CheckSoftLimit()
}

func (t *Task) CheckSoftLimit() error {
	if t.softDeadline.IsZero() || t.now().Before(t.softDeadline) {
		return nil
	}
	return ErrSoftTimeLimit
}
