package webhook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/ratelimit"
	"go.uber.org/zap"
)

// clientTimeout caps any single request; subscriptions choose shorter timeouts per attempt.
const clientTimeout = 60 * time.Second

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailed           Outcome = "failed"
	OutcomeInactive         Outcome = "subscription_inactive"
	OutcomeExhausted        Outcome = "exhausted"
	OutcomeAlreadyDelivered Outcome = "already_delivered"
)

// Result is the outcome of one Deliver call.
type Result struct {
	DeliveryID int64   `json:"deliveryId"`
	Outcome    Outcome `json:"outcome"`
	Attempts   int     `json:"attempts"`
	StatusCode *int    `json:"statusCode,omitempty"`
	Error      string  `json:"error,omitempty"`
	// Retryable is set for failed sends the subscription still allows another attempt for.
	Retryable bool `json:"retryable"`

	err *DeliveryError
}

// Err returns the classified send failure, or nil.
func (r *Result) Err() *DeliveryError {
	if r == nil {
		return nil
	}
	return r.err
}

// Store loads deliveries and records attempts.
type Store interface {
	GetDelivery(ctx context.Context, id int64) (*domain.WebhookDelivery, *domain.WebhookSubscription, error)
	RecordAttempt(ctx context.Context, id int64, attempt domain.DeliveryAttempt) (*domain.WebhookDelivery, error)
}

// Dispatcher sends stored deliveries to subscriber endpoints.
type Dispatcher struct {
	store   Store
	client  *resty.Client
	limiter ratelimit.RateLimiter
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewDispatcher builds a dispatcher. limiter may be nil.
func NewDispatcher(store Store, client *resty.Client, limiter ratelimit.RateLimiter, logger *zap.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(clientTimeout)
	}
	client.SetRetryCount(0)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		store:   store,
		client:  client,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Deliver sends delivery deliveryID once and records the attempt. Successful, exhausted and
// inactive-subscription deliveries are reported without sending and without counting an attempt.
// An error is returned only when nothing was recorded.
func (d *Dispatcher) Deliver(ctx context.Context, deliveryID int64) (*Result, error) {
	delivery, sub, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery %d: %w", deliveryID, err)
	}

	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.Int64("deliveryId", delivery.ID),
		zap.Int64("subscriptionId", sub.ID),
		zap.String("event", delivery.EventType.String()),
	)

	result := &Result{DeliveryID: delivery.ID, Attempts: delivery.Attempts}
	switch {
	case delivery.Status == domain.DeliverySuccess:
		result.Outcome = OutcomeAlreadyDelivered
		return result, nil
	case !sub.IsActive:
		logger.Info("subscription inactive, delivery skipped")
		result.Outcome = OutcomeInactive
		d.metrics.ObserveWebhookDelivery(delivery.EventType.String(), string(OutcomeInactive), 0)
		return result, nil
	case !domain.CanAttempt(*delivery, sub.RetryCount):
		result.Outcome = OutcomeExhausted
		return result, nil
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, fmt.Sprintf("subscription:%d", sub.ID)); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := d.now()
	attempt, sendErr := d.send(ctx, delivery, sub)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("delivery %d interrupted: %w", delivery.ID, ctx.Err())
	}

	updated, err := d.store.RecordAttempt(ctx, delivery.ID, attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt for delivery %d: %w", delivery.ID, err)
	}

	result.Attempts = updated.Attempts
	if updated.Status == domain.DeliverySuccess && attempt.Status != domain.DeliverySuccess {
		// Another worker delivered it while this send was in flight.
		logger.Info("delivery already succeeded, late attempt ignored")
		result.Outcome = OutcomeAlreadyDelivered
		return result, nil
	}
	result.StatusCode = updated.ResponseStatus
	result.Outcome = Outcome(updated.Status)
	d.metrics.ObserveWebhookDelivery(delivery.EventType.String(), string(result.Outcome), d.now().Sub(start))

	if sendErr != nil {
		result.err = sendErr
		result.Error = sendErr.Message
		result.Retryable = domain.IsRetryEligible(*updated, *sub)
		logger.Warn("webhook delivery failed",
			zap.Int("attempts", updated.Attempts),
			zap.Int("retryCount", sub.RetryCount),
			zap.Bool("retryable", result.Retryable),
			zap.String("error", sendErr.Message),
		)
		return result, nil
	}

	logger.Info("webhook delivered", zap.Int("attempts", updated.Attempts))
	return result, nil
}

func (d *Dispatcher) send(
	ctx context.Context,
	delivery *domain.WebhookDelivery,
	sub *domain.WebhookSubscription,
) (domain.DeliveryAttempt, *DeliveryError) {
	reqCtx, cancel := context.WithTimeout(ctx, sub.AttemptTimeout())
	defer cancel()

	sentAt := d.now().UTC()
	response, err := d.client.R().
		SetContext(reqCtx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, Sign(delivery.Payload, sub.SecretKey)).
		SetHeader(TimestampHeader, strconv.FormatInt(sentAt.Unix(), 10)).
		SetBody(delivery.Payload).
		Post(sub.URL)
	if err != nil {
		deliveryErr := transportFailure(err)
		return domain.DeliveryAttempt{
			Status:       domain.DeliveryFailed,
			ErrorMessage: &deliveryErr.Message,
		}, deliveryErr
	}

	statusCode := response.StatusCode()
	body := response.String()
	attempt := domain.DeliveryAttempt{
		ResponseStatus: &statusCode,
		ResponseBody:   &body,
	}

	if isSuccessStatus(statusCode) {
		deliveredAt := d.now().UTC()
		attempt.Status = domain.DeliverySuccess
		attempt.DeliveredAt = &deliveredAt
		return attempt, nil
	}

	deliveryErr := rejected(statusCode)
	attempt.Status = domain.DeliveryFailed
	attempt.ErrorMessage = &deliveryErr.Message
	return attempt, deliveryErr
}
