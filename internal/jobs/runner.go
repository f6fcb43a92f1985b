package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultSoftTimeLimit     = 25 * time.Minute
	defaultHardTimeLimit     = 30 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
	settleTimeout            = 10 * time.Second
)

// Store is the job state the runner needs.
type Store interface {
	Claim(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	Heartbeat(ctx context.Context, id string, at time.Time) error
	UpdateProgress(ctx context.Context, id string, progress domain.JobProgress) error
	Complete(ctx context.Context, id string, result []byte, at time.Time) error
	Fail(ctx context.Context, id string, errMsg string, at time.Time) error
	ScheduleRetry(ctx context.Context, id string, nextRunAt time.Time, errMsg string) error
}

type RunnerConfig struct {
	SoftTimeLimit     time.Duration
	HardTimeLimit     time.Duration
	RetryBaseDelay    time.Duration
	HeartbeatInterval time.Duration
}

// Runner executes claimed jobs with time limits and applies the retry policy.
type Runner struct {
	store    Store
	handlers map[domain.JobKind]HandlerFunc
	cfg      RunnerConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	randIntn func(n int) int
}

func NewRunner(store Store, cfg RunnerConfig, logger *zap.Logger) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.HardTimeLimit <= 0 {
		cfg.HardTimeLimit = defaultHardTimeLimit
	}
	if cfg.SoftTimeLimit <= 0 || cfg.SoftTimeLimit > cfg.HardTimeLimit {
		cfg.SoftTimeLimit = min(defaultSoftTimeLimit, cfg.HardTimeLimit)
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		store:    store,
		handlers: make(map[domain.JobKind]HandlerFunc),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		randIntn: rand.Intn,
	}, nil
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Register binds kind to h. It is not safe to call once the pool has started.
func (r *Runner) Register(kind domain.JobKind, h HandlerFunc) {
	r.handlers[kind] = h
}

// Execute claims jobID and runs it. A nil return means the message can be acknowledged;
// errors are reserved for store failures the broker should redeliver.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	job, err := r.store.Claim(ctx, jobID, r.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("job not found during claim, skipping", zap.String("jobId", jobID))
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	// Nil means another worker owns it, it finished, or it is not due yet.
	if job == nil {
		return nil
	}

	ctx = observability.WithJobID(ctx, job.ID)
	logger := observability.WithContextLogger(r.logger, ctx).With(
		zap.String("kind", job.Kind.String()),
		zap.Int("attempt", job.Attempts),
	)

	handler, ok := r.handlers[job.Kind]
	if !ok {
		return r.fail(ctx, logger, job, fmt.Sprintf("no handler registered for %s", job.Kind))
	}
	if job.Attempts > job.MaxAttempts {
		msg := "max attempts exceeded"
		if job.Error != nil {
			msg = *job.Error
		}
		return r.fail(ctx, logger, job, msg)
	}

	start := r.now()
	r.metrics.JobStarted(job.Kind.String())
	logger.Info("job started")

	task := &Task{
		job:          *job,
		store:        r.store,
		softDeadline: start.Add(r.cfg.SoftTimeLimit),
		now:          r.now,
		logger:       logger,
	}

	stopHeartbeat := r.heartbeat(ctx, job.ID, logger)
	result, runErr := r.invoke(ctx, handler, task)
	stopHeartbeat()

	if runErr != nil && ctx.Err() != nil {
		// Shutting down; the stale scan returns the job to pending.
		logger.Warn("job interrupted by shutdown", zap.Error(runErr))
		r.metrics.JobFinished(job.Kind.String(), "interrupted", r.now().Sub(start))
		return nil
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	status, err := r.settle(settleCtx, logger, job, result, runErr)
	r.metrics.JobFinished(job.Kind.String(), status, r.now().Sub(start))
	return err
}

func (r *Runner) settle(ctx context.Context, logger *zap.Logger, job *domain.Job, result any, runErr error) (string, error) {
	finishedAt := r.now().UTC()

	if runErr == nil {
		encoded, err := encodeResult(result)
		if err != nil {
			return "failed", r.fail(ctx, logger, job, fmt.Sprintf("failed to encode result: %v", err))
		}
		if err := r.store.Complete(ctx, job.ID, encoded, finishedAt); err != nil {
			return "succeeded", fmt.Errorf("failed to complete job: %w", err)
		}
		logger.Info("job succeeded")
		return "succeeded", nil
	}

	if IsPermanent(runErr) || job.Attempts >= job.MaxAttempts {
		return "failed", r.fail(ctx, logger, job, runErr.Error())
	}

	delay := r.retryDelay(job.Attempts)
	if err := r.store.ScheduleRetry(ctx, job.ID, finishedAt.Add(delay), runErr.Error()); err != nil {
		return "retried", fmt.Errorf("failed to schedule job retry: %w", err)
	}
	r.metrics.IncJobRetry(job.Kind.String())
	logger.Warn("job failed, retry scheduled",
		zap.Duration("delay", delay),
		zap.Int("maxAttempts", job.MaxAttempts),
		zap.Error(runErr),
	)
	return "retried", nil
}

func (r *Runner) fail(ctx context.Context, logger *zap.Logger, job *domain.Job, msg string) error {
	if err := r.store.Fail(ctx, job.ID, msg, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	logger.Error("job failed", zap.String("error", msg))
	return nil
}

type outcome struct {
	result any
	err    error
}

// invoke runs h under the hard time limit. When the limit fires the handler goroutine
// is abandoned; its context is already canceled.
func (r *Runner) invoke(ctx context.Context, h HandlerFunc, task *Task) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.HardTimeLimit)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("job panicked: %v", p)}
			}
		}()
		res, err := h(runCtx, task)
		done <- outcome{result: res, err: err}
	}()

	timeout := fmt.Errorf("%w: exceeded hard limit of %s", domain.ErrJobTimeout, r.cfg.HardTimeLimit)

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, timeout
		}
		return o.result, o.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timeout
	}
}

func (r *Runner) heartbeat(ctx context.Context, jobID string, logger *zap.Logger) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := r.store.Heartbeat(hbCtx, jobID, r.now().UTC()); err != nil && hbCtx.Err() == nil {
					logger.Warn("job heartbeat failed", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (r *Runner) retryDelay(attempt int) time.Duration {
	delay := backoff(r.cfg.RetryBaseDelay, attempt)

	jitterMillis := 0
	if r.randIntn != nil {
		jitterMillis = r.randIntn(maxRetryJitterMillis + 1)
	}
	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func encodeResult(result any) ([]byte, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
