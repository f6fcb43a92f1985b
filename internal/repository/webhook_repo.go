package repository

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kursadbilgin/production-control/internal/domain"
	"gorm.io/gorm"
)

const maxStoredResponseBody = 10_000

type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, s *domain.WebhookSubscription) error
	GetSubscription(ctx context.Context, id int64) (*domain.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, active *bool) ([]domain.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, s *domain.WebhookSubscription) error
	DeleteSubscription(ctx context.Context, id int64) error
	ListActiveSubscriptionsFor(ctx context.Context, eventType domain.EventType) ([]domain.WebhookSubscription, error)
}

type DeliveryRepository interface {
	CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
	GetDelivery(ctx context.Context, id int64) (*domain.WebhookDelivery, *domain.WebhookSubscription, error)
	RecordAttempt(ctx context.Context, id int64, attempt domain.DeliveryAttempt) (*domain.WebhookDelivery, error)
	MarkForRetry(ctx context.Context, id int64, at time.Time) (bool, error)
	Touch(ctx context.Context, id int64, at time.Time) error
	ListRetryEligible(ctx context.Context, limit int) ([]domain.WebhookDelivery, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, subscriptionID int64, limit int) ([]domain.WebhookDelivery, error)
}

// GormWebhookRepo stores subscriptions and their delivery records.
type GormWebhookRepo struct {
	db *gorm.DB
}

func NewGormWebhookRepo(db *gorm.DB) *GormWebhookRepo {
	return &GormWebhookRepo{db: db}
}

func (r *GormWebhookRepo) CreateSubscription(ctx context.Context, s *domain.WebhookSubscription) error {
	model, err := subscriptionModelFromDomain(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	created, err := subscriptionModelToDomain(model)
	if err != nil {
		return err
	}
	*s = *created
	return nil
}

func (r *GormWebhookRepo) GetSubscription(ctx context.Context, id int64) (*domain.WebhookSubscription, error) {
	var model WebhookSubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model)
}

func (r *GormWebhookRepo) ListSubscriptions(ctx context.Context, active *bool) ([]domain.WebhookSubscription, error) {
	query := r.db.WithContext(ctx).Model(&WebhookSubscriptionModel{})
	if active != nil {
		query = query.Where("is_active = ?", *active)
	}

	var models []WebhookSubscriptionModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return subscriptionModelsToDomain(models)
}

func (r *GormWebhookRepo) UpdateSubscription(ctx context.Context, s *domain.WebhookSubscription) error {
	model, err := subscriptionModelFromDomain(s)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&WebhookSubscriptionModel{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"url":         model.URL,
			"events":      model.Events,
			"secret_key":  model.SecretKey,
			"is_active":   model.IsActive,
			"retry_count": model.RetryCount,
			"timeout":     model.Timeout,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteSubscription removes the subscription and its delivery history.
func (r *GormWebhookRepo) DeleteSubscription(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", id).Delete(&WebhookDeliveryModel{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&WebhookSubscriptionModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// ListActiveSubscriptionsFor returns active subscriptions listening to eventType.
// The events column is a JSON array, so membership is checked after loading.
func (r *GormWebhookRepo) ListActiveSubscriptionsFor(ctx context.Context, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	active := true
	subs, err := r.ListSubscriptions(ctx, &active)
	if err != nil {
		return nil, err
	}

	listening := make([]domain.WebhookSubscription, 0, len(subs))
	for _, s := range subs {
		if s.Listens(eventType) {
			listening = append(listening, s)
		}
	}
	return listening, nil
}

func (r *GormWebhookRepo) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	model := deliveryModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*d = *deliveryModelToDomain(model)
	return nil
}

func (r *GormWebhookRepo) GetDelivery(ctx context.Context, id int64) (*domain.WebhookDelivery, *domain.WebhookSubscription, error) {
	var model WebhookDeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	sub, err := r.GetSubscription(ctx, model.SubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	return deliveryModelToDomain(&model), sub, nil
}

// RecordAttempt stores one send outcome. The attempt counter is incremented in the same
// statement as the status change. A delivery that already succeeded is returned unchanged.
func (r *GormWebhookRepo) RecordAttempt(ctx context.Context, id int64, attempt domain.DeliveryAttempt) (*domain.WebhookDelivery, error) {
	body := attempt.ResponseBody
	if body != nil {
		stored := storableText(*body, maxStoredResponseBody)
		body = &stored
	}

	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status <> ?", id, domain.DeliverySuccess).
		Updates(map[string]any{
			"status":          attempt.Status,
			"attempts":        gorm.Expr("attempts + 1"),
			"response_status": attempt.ResponseStatus,
			"response_body":   body,
			"error_message":   attempt.ErrorMessage,
			"delivered_at":    attempt.DeliveredAt,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	var model WebhookDeliveryModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

// storableText makes s valid for a text column: NUL bytes are dropped, invalid UTF-8 is
// replaced and the result is cut to at most limit bytes on a rune boundary.
func storableText(s string, limit int) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// MarkForRetry moves a failed delivery back to pending when its active subscription still
// allows another attempt. It reports whether the transition happened.
func (r *GormWebhookRepo) MarkForRetry(ctx context.Context, id int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryFailed).
		Where("attempts < (SELECT s.retry_count FROM webhook_subscriptions s WHERE s.id = webhook_deliveries.subscription_id AND s.is_active = ?)", true).
		Updates(map[string]any{
			"status":     domain.DeliveryPending,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormWebhookRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
}

func (r *GormWebhookRepo) ListRetryEligible(ctx context.Context, limit int) ([]domain.WebhookDelivery, error) {
	var models []WebhookDeliveryModel
	err := r.activeDeliveries(ctx).
		Where("webhook_deliveries.status = ?", domain.DeliveryFailed).
		Order("webhook_deliveries.id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

// ListStalePending returns pending deliveries untouched since before, e.g. after a lost enqueue.
func (r *GormWebhookRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error) {
	var models []WebhookDeliveryModel
	err := r.activeDeliveries(ctx).
		Where("webhook_deliveries.status = ? AND webhook_deliveries.updated_at < ?", domain.DeliveryPending, before).
		Order("webhook_deliveries.id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

func (r *GormWebhookRepo) ListDeliveries(ctx context.Context, subscriptionID int64, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []WebhookDeliveryModel
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

// activeDeliveries scopes deliveries to active subscriptions with attempts left.
func (r *GormWebhookRepo) activeDeliveries(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Select("webhook_deliveries.*").
		Joins("JOIN webhook_subscriptions ON webhook_subscriptions.id = webhook_deliveries.subscription_id").
		Where("webhook_subscriptions.is_active = ? AND webhook_deliveries.attempts < webhook_subscriptions.retry_count", true)
}

func subscriptionModelsToDomain(models []WebhookSubscriptionModel) ([]domain.WebhookSubscription, error) {
	subs := make([]domain.WebhookSubscription, 0, len(models))
	for i := range models {
		s, err := subscriptionModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, nil
}

func deliveryModelsToDomain(models []WebhookDeliveryModel) []domain.WebhookDelivery {
	deliveries := make([]domain.WebhookDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries
}
