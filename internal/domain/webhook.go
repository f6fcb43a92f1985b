package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	DefaultWebhookRetryCount = 3
	DefaultWebhookTimeout    = 10 * time.Second
)

// EventType names a webhook event.
type EventType string

const (
	EventBatchCreated      EventType = "batch_created"
	EventBatchUpdated      EventType = "batch_updated"
	EventBatchClosed       EventType = "batch_closed"
	EventProductAggregated EventType = "product_aggregated"
	EventImportCompleted   EventType = "import_completed"
	EventReportGenerated   EventType = "report_generated"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventBatchCreated, EventBatchUpdated, EventBatchClosed,
		EventProductAggregated, EventImportCompleted, EventReportGenerated:
		return true
	}
	return false
}

func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown event type %q", ErrValidation, s)
	}
	return t, nil
}

// DeliveryStatus is the state of a webhook delivery record.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

// WebhookSubscription is a registered listener for a set of event types.
type WebhookSubscription struct {
	ID         int64
	URL        string
	Events     []EventType
	SecretKey  string
	IsActive   bool
	RetryCount int
	// Timeout is the per-attempt timeout in seconds.
	Timeout   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s WebhookSubscription) Listens(eventType EventType) bool {
	return slices.Contains(s.Events, eventType)
}

func (s WebhookSubscription) AttemptTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultWebhookTimeout
	}
	return time.Duration(s.Timeout) * time.Second
}

func (s *WebhookSubscription) ApplyDefaults() {
	if s.RetryCount == 0 {
		s.RetryCount = DefaultWebhookRetryCount
	}
	if s.Timeout == 0 {
		s.Timeout = int(DefaultWebhookTimeout / time.Second)
	}
}

func (s WebhookSubscription) Validate() error {
	target, err := url.ParseRequestURI(strings.TrimSpace(s.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrValidation)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrValidation)
	}
	for _, ev := range s.Events {
		if !ev.IsValid() {
			return fmt.Errorf("%w: unknown event type %q", ErrValidation, ev)
		}
	}
	if strings.TrimSpace(s.SecretKey) == "" {
		return fmt.Errorf("%w: secret key is required", ErrValidation)
	}
	if s.RetryCount < 1 || s.RetryCount > 10 {
		return fmt.Errorf("%w: retry count must be between 1 and 10", ErrValidation)
	}
	if s.Timeout < 1 || s.Timeout > 60 {
		return fmt.Errorf("%w: timeout must be between 1 and 60 seconds", ErrValidation)
	}
	return nil
}

// WebhookDelivery is the single record for one (subscription, event occurrence) pair.
// Retries mutate it in place.
type WebhookDelivery struct {
	ID             int64
	SubscriptionID int64
	EventType      EventType
	Payload        []byte
	Status         DeliveryStatus
	Attempts       int
	ResponseStatus *int
	ResponseBody   *string
	ErrorMessage   *string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	UpdatedAt      time.Time
}

// DeliveryAttempt is the outcome of one send, persisted together with the attempt increment.
type DeliveryAttempt struct {
	Status         DeliveryStatus
	ResponseStatus *int
	ResponseBody   *string
	ErrorMessage   *string
	DeliveredAt    *time.Time
}

// CanAttempt reports whether a send may be made for the delivery under the given ceiling.
func CanAttempt(d WebhookDelivery, ceiling int) bool {
	if d.Status == DeliverySuccess {
		return false
	}
	return d.Attempts < ceiling
}

// IsRetryEligible reports whether a failed delivery may be moved back to pending.
// Deliveries of inactive subscriptions are never eligible.
func IsRetryEligible(d WebhookDelivery, sub WebhookSubscription) bool {
	return d.Status == DeliveryFailed && sub.IsActive && d.Attempts < sub.RetryCount
}
