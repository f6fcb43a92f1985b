// Package schedule enqueues the periodic sweep jobs on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/jobs"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const enqueueTimeout = 10 * time.Second

type Enqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobKind, args any, opts ...jobs.EnqueueOption) (*domain.Job, error)
}

// Entry runs Kind on the five-field cron expression Spec.
type Entry struct {
	Kind domain.JobKind
	Spec string
}

// Scheduler enqueues sweep jobs. Each sweep carries a dedupe key, so a sweep that is still
// pending or running is not enqueued again, also when several schedulers run.
type Scheduler struct {
	cron    *cron.Cron
	queue   Enqueuer
	logger  *zap.Logger
	entries []Entry
}

func NewScheduler(queue Enqueuer, entries []Entry, logger *zap.Logger) (*Scheduler, error) {
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		queue:   queue,
		logger:  logger,
		entries: entries,
	}

	for _, e := range entries {
		if !e.Kind.IsSweep() {
			return nil, fmt.Errorf("%w: %s is not a sweep job", domain.ErrValidation, e.Kind)
		}
		kind := e.Kind
		if _, err := s.cron.AddFunc(e.Spec, func() { s.trigger(context.Background(), kind) }); err != nil {
			return nil, fmt.Errorf("%w: invalid schedule %q for %s: %v", domain.ErrValidation, e.Spec, e.Kind, err)
		}
	}
	return s, nil
}

// Start runs the cron loop until ctx is done and waits for running triggers to return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	for _, e := range s.entries {
		s.logger.Info("sweep scheduled", zap.String("sweep", e.Kind.String()), zap.String("spec", e.Spec))
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) trigger(ctx context.Context, kind domain.JobKind) {
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	job, err := s.queue.Enqueue(ctx, kind, struct{}{}, jobs.WithDedupeKey(DedupeKey(kind)))
	if err != nil {
		s.logger.Error("failed to enqueue sweep", zap.String("sweep", kind.String()), zap.Error(err))
		return
	}
	s.logger.Info("sweep enqueued",
		zap.String("sweep", kind.String()),
		zap.String("jobId", job.ID),
		zap.String("status", job.Status.String()),
	)
}

func DedupeKey(kind domain.JobKind) string {
	return "sweep:" + kind.String()
}
