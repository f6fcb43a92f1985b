package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/production-control/internal/domain"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 100
)

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *domain.WebhookSubscription) error
	GetSubscription(ctx context.Context, id int64) (*domain.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, active *bool) ([]domain.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, s *domain.WebhookSubscription) error
	DeleteSubscription(ctx context.Context, id int64) error
	ListDeliveries(ctx context.Context, subscriptionID int64, limit int) ([]domain.WebhookDelivery, error)
}

type SubscriptionHandler struct {
	store SubscriptionStore
}

func NewSubscriptionHandler(store SubscriptionStore) (*SubscriptionHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("subscription store is required")
	}
	return &SubscriptionHandler{store: store}, nil
}

func RegisterSubscriptionRoutes(router fiber.Router, store SubscriptionStore) error {
	h, err := NewSubscriptionHandler(store)
	if err != nil {
		return err
	}

	subs := router.Group("/v1/webhooks/subscriptions")
	subs.Post("/", h.CreateSubscription)
	subs.Get("/", h.ListSubscriptions)
	subs.Get("/:id", h.GetSubscription)
	subs.Patch("/:id", h.UpdateSubscription)
	subs.Delete("/:id", h.DeleteSubscription)
	subs.Get("/:id/deliveries", h.ListDeliveries)

	return nil
}

// The secret is write-only and never echoed back.
type subscriptionRequest struct {
	URL        *string   `json:"url"`
	Events     *[]string `json:"events"`
	SecretKey  *string   `json:"secretKey"`
	IsActive   *bool     `json:"isActive"`
	RetryCount *int      `json:"retryCount"`
	Timeout    *int      `json:"timeout"`
}

type subscriptionResponse struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Events     []string  `json:"events"`
	IsActive   bool      `json:"isActive"`
	RetryCount int       `json:"retryCount"`
	Timeout    int       `json:"timeout"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type deliveryResponse struct {
	ID             int64      `json:"id"`
	SubscriptionID int64      `json:"subscriptionId"`
	EventType      string     `json:"eventType"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	ResponseStatus *int       `json:"responseStatus,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

func (h *SubscriptionHandler) CreateSubscription(c *fiber.Ctx) error {
	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sub := domain.WebhookSubscription{IsActive: true}
	if err := req.apply(&sub); err != nil {
		return err
	}
	sub.ApplyDefaults()
	if err := sub.Validate(); err != nil {
		return err
	}

	if err := h.store.CreateSubscription(c.UserContext(), &sub); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) ListSubscriptions(c *fiber.Ctx) error {
	var active *bool
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: active must be true or false", domain.ErrValidation)
		}
		active = &v
	}

	subs, err := h.store.ListSubscriptions(c.UserContext(), active)
	if err != nil {
		return err
	}

	data := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		data = append(data, toSubscriptionResponse(s))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *SubscriptionHandler) GetSubscription(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	sub, err := h.store.GetSubscription(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toSubscriptionResponse(*sub))
}

func (h *SubscriptionHandler) UpdateSubscription(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sub, err := h.store.GetSubscription(c.UserContext(), id)
	if err != nil {
		return err
	}
	if err := req.apply(sub); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	if err := h.store.UpdateSubscription(c.UserContext(), sub); err != nil {
		return err
	}
	updated, err := h.store.GetSubscription(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toSubscriptionResponse(*updated))
}

func (h *SubscriptionHandler) DeleteSubscription(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := h.store.DeleteSubscription(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SubscriptionHandler) ListDeliveries(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultDeliveryLimit)
	if limit < 1 || limit > maxDeliveryLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxDeliveryLimit)
	}

	if _, err := h.store.GetSubscription(c.UserContext(), id); err != nil {
		return err
	}
	deliveries, err := h.store.ListDeliveries(c.UserContext(), id, limit)
	if err != nil {
		return err
	}

	data := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		data = append(data, deliveryResponse{
			ID:             d.ID,
			SubscriptionID: d.SubscriptionID,
			EventType:      d.EventType.String(),
			Status:         d.Status.String(),
			Attempts:       d.Attempts,
			ResponseStatus: d.ResponseStatus,
			ErrorMessage:   d.ErrorMessage,
			CreatedAt:      d.CreatedAt,
			UpdatedAt:      d.UpdatedAt,
			DeliveredAt:    d.DeliveredAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (r subscriptionRequest) apply(s *domain.WebhookSubscription) error {
	if r.URL != nil {
		s.URL = strings.TrimSpace(*r.URL)
	}
	if r.Events != nil {
		events := make([]domain.EventType, 0, len(*r.Events))
		for _, raw := range *r.Events {
			ev, err := domain.ParseEventType(raw)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		s.Events = events
	}
	if r.SecretKey != nil {
		s.SecretKey = *r.SecretKey
	}
	if r.IsActive != nil {
		s.IsActive = *r.IsActive
	}
	if r.RetryCount != nil {
		s.RetryCount = *r.RetryCount
	}
	if r.Timeout != nil {
		s.Timeout = *r.Timeout
	}
	return nil
}

func toSubscriptionResponse(s domain.WebhookSubscription) subscriptionResponse {
	events := make([]string, 0, len(s.Events))
	for _, ev := range s.Events {
		events = append(events, ev.String())
	}
	return subscriptionResponse{
		ID:         s.ID,
		URL:        s.URL,
		Events:     events,
		IsActive:   s.IsActive,
		RetryCount: s.RetryCount,
		Timeout:    s.Timeout,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", domain.ErrValidation)
	}
	return id, nil
}
