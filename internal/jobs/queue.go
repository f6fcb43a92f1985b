package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/queue"
	"github.com/kursadbilgin/production-control/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	dedupeKey string
	runAt     time.Time
}

// WithDedupeKey returns the pending or running job that holds key instead of creating
// a second one.
func WithDedupeKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.dedupeKey = key
	}
}

// WithRunAt delays the first run until t.
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.runAt = t
	}
}

// Queue persists jobs and hands them to the broker. The jobs table is the source of
// truth; a job whose publish fails is picked up again by the Scanner.
type Queue struct {
	db        *gorm.DB
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewQueue(db *gorm.DB, publisher queue.Publisher, logger *zap.Logger) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		db:        db,
		jobs:      repository.NewGormJobRepo(db),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Enqueue stores a job and publishes it. It returns as soon as the job is stored.
func (q *Queue) Enqueue(ctx context.Context, kind domain.JobKind, args any, opts ...EnqueueOption) (*domain.Job, error) {
	job, created, err := q.insert(ctx, q.jobs, kind, args, opts)
	if err != nil {
		return nil, err
	}
	if created {
		q.publish(ctx, []domain.Job{*job})
	}
	return job, nil
}

// EnqueueTx stores a job inside tx without publishing it. Call Dispatch after commit.
func (q *Queue) EnqueueTx(ctx context.Context, tx *gorm.DB, kind domain.JobKind, args any, opts ...EnqueueOption) (*domain.Job, error) {
	job, _, err := q.insert(ctx, repository.NewGormJobRepo(tx), kind, args, opts)
	return job, err
}

// Dispatch publishes committed pending jobs. Publish failures are logged and left to the Scanner.
func (q *Queue) Dispatch(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	jobs, err := q.jobs.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load jobs for dispatch: %w", err)
	}
	q.publish(ctx, jobs)
	return nil
}

func (q *Queue) Status(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid job id %q", domain.ErrValidation, id)
	}
	return q.jobs.GetByID(ctx, id)
}

func (q *Queue) insert(
	ctx context.Context,
	repo repository.JobRepository,
	kind domain.JobKind,
	args any,
	opts []EnqueueOption,
) (*domain.Job, bool, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	job, err := q.newJob(kind, args, o)
	if err != nil {
		return nil, false, err
	}

	if o.dedupeKey != "" {
		existing, err := repo.FindActiveByDedupeKey(ctx, o.dedupeKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to check dedupe key: %w", err)
		}
	}

	if err := repo.Create(ctx, job); err != nil {
		// Lost a race on the unique active dedupe index.
		if o.dedupeKey != "" {
			if existing, findErr := repo.FindActiveByDedupeKey(ctx, o.dedupeKey); findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	return job, true, nil
}

func (q *Queue) newJob(kind domain.JobKind, args any, o enqueueOptions) (*domain.Job, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", domain.ErrValidation, kind)
	}

	encoded, err := encodeJSON(args)
	if err != nil {
		return nil, fmt.Errorf("%w: job args: %v", domain.ErrValidation, err)
	}

	runAt := o.runAt
	if runAt.IsZero() {
		runAt = q.now()
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Args:        encoded,
		Status:      domain.JobPending,
		MaxAttempts: PolicyFor(kind).MaxAttempts(),
		NextRunAt:   runAt.UTC(),
	}
	if o.dedupeKey != "" {
		key := o.dedupeKey
		job.DedupeKey = &key
	}
	return job, nil
}

func (q *Queue) publish(ctx context.Context, jobs []domain.Job) int {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)

	published := make([]string, 0, len(jobs))
	for i := range jobs {
		job := jobs[i]
		if job.Status != domain.JobPending {
			continue
		}

		lane := queue.LaneFor(job.Kind)
		msg := queue.JobMessage{JobID: job.ID, Kind: job.Kind, CorrelationID: correlationID}
		if err := q.publisher.Publish(ctx, lane, msg); err != nil {
			q.logger.Warn("failed to publish job, scanner will retry",
				zap.String("jobId", job.ID),
				zap.String("lane", lane),
				zap.Error(err),
			)
			continue
		}
		published = append(published, job.ID)
	}

	if err := q.jobs.MarkDispatched(ctx, published, q.now().UTC()); err != nil {
		q.logger.Warn("failed to mark jobs dispatched", zap.Strings("jobIds", published), zap.Error(err))
	}
	return len(published)
}

func encodeJSON(v any) (json.RawMessage, error) {
	switch value := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(value) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return value, nil
	case []byte:
		if !json.Valid(value) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return json.RawMessage(value), nil
	default:
		return json.Marshal(v)
	}
}
