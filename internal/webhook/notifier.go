package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/jobs"
	"github.com/kursadbilgin/production-control/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SendArgs are the args of a send_webhook job.
type SendArgs struct {
	DeliveryID int64 `json:"deliveryId"`
}

func (a SendArgs) Validate() error {
	if a.DeliveryID <= 0 {
		return fmt.Errorf("deliveryId must be positive")
	}
	return nil
}

// Enqueuer is the part of jobs.Queue the notifier needs.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, kind domain.JobKind, args any, opts ...jobs.EnqueueOption) (*domain.Job, error)
	Dispatch(ctx context.Context, ids ...string) error
}

// Notifier turns events into stored deliveries and send jobs.
type Notifier struct {
	db     *gorm.DB
	queue  Enqueuer
	logger *zap.Logger
	now    func() time.Time
}

func NewNotifier(db *gorm.DB, queue Enqueuer, logger *zap.Logger) (*Notifier, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		db:     db,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}, nil
}

// NotifyTx stores one pending delivery per active subscription listening to ev, plus a
// send job for each, inside tx. The payload is built once and shared by all deliveries.
// The returned job ids must be passed to Dispatch after tx commits.
func (n *Notifier) NotifyTx(ctx context.Context, tx *gorm.DB, ev event.Event) ([]string, error) {
	repo := repository.NewGormWebhookRepo(tx)

	subs, err := repo.ListActiveSubscriptionsFor(ctx, ev.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for %s: %w", ev.Type(), err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	payload, err := event.NewEnvelope(ev, n.now()).Marshal()
	if err != nil {
		return nil, err
	}

	jobIDs := make([]string, 0, len(subs))
	for _, sub := range subs {
		delivery := &domain.WebhookDelivery{
			SubscriptionID: sub.ID,
			EventType:      ev.Type(),
			Payload:        payload,
			Status:         domain.DeliveryPending,
		}
		if err := repo.CreateDelivery(ctx, delivery); err != nil {
			return nil, fmt.Errorf("failed to store delivery for subscription %d: %w", sub.ID, err)
		}

		job, err := n.queue.EnqueueTx(ctx, tx, domain.JobSendWebhook, SendArgs{DeliveryID: delivery.ID},
			jobs.WithDedupeKey(deliveryDedupeKey(delivery.ID)))
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue delivery %d: %w", delivery.ID, err)
		}
		jobIDs = append(jobIDs, job.ID)
	}

	return jobIDs, nil
}

// Notify runs NotifyTx in its own transaction and dispatches the send jobs.
func (n *Notifier) Notify(ctx context.Context, ev event.Event) error {
	var jobIDs []string
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		jobIDs, err = n.NotifyTx(ctx, tx, ev)
		return err
	})
	if err != nil {
		return err
	}

	if len(jobIDs) > 0 {
		n.logger.Info("webhook deliveries queued",
			zap.String("event", ev.Type().String()),
			zap.Int("count", len(jobIDs)),
		)
	}
	return n.queue.Dispatch(ctx, jobIDs...)
}

// Dispatch publishes send jobs returned by NotifyTx once their transaction has committed.
func (n *Notifier) Dispatch(ctx context.Context, jobIDs ...string) error {
	return n.queue.Dispatch(ctx, jobIDs...)
}

// EnqueueDelivery queues a send job for an existing delivery. When a send job for the
// delivery is already pending or running, that job is returned instead.
func (n *Notifier) EnqueueDelivery(ctx context.Context, deliveryID int64) (string, error) {
	job, err := n.queue.EnqueueTx(ctx, n.db.WithContext(ctx), domain.JobSendWebhook, SendArgs{DeliveryID: deliveryID},
		jobs.WithDedupeKey(deliveryDedupeKey(deliveryID)))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue delivery %d: %w", deliveryID, err)
	}
	if err := n.queue.Dispatch(ctx, job.ID); err != nil {
		return "", err
	}
	return job.ID, nil
}

func deliveryDedupeKey(deliveryID int64) string {
	return fmt.Sprintf("webhook-delivery:%d", deliveryID)
}
