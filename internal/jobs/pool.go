package jobs

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool runs lane consumers that hand messages to the Runner.
type Pool struct {
	consumer    queue.Consumer
	runner      *Runner
	lanes       []string
	concurrency int
	logger      *zap.Logger
}

// NewPool assigns concurrency consumers round-robin over the lanes; every lane gets at least one.
func NewPool(consumer queue.Consumer, runner *Runner, concurrency int, logger *zap.Logger) (*Pool, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	lanes := queue.Lanes()
	if concurrency < len(lanes) {
		concurrency = len(lanes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		consumer:    consumer,
		runner:      runner,
		lanes:       lanes,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start blocks until ctx is canceled or a consumer fails.
func (p *Pool) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		lane := p.lanes[i%len(p.lanes)]
		workerID := i + 1

		g.Go(func() error {
			p.logger.Info("worker started", zap.Int("workerId", workerID), zap.String("lane", lane))

			if err := p.consumer.Consume(groupCtx, lane, p.handle); err != nil {
				p.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("lane", lane),
					zap.Error(err),
				)
				return err
			}

			p.logger.Info("worker stopped", zap.Int("workerId", workerID), zap.String("lane", lane))
			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) handle(ctx context.Context, msg queue.JobMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	return p.runner.Execute(ctx, msg.JobID)
}
