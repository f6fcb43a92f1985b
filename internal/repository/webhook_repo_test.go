package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/repository/repotest"
	"gorm.io/gorm"
)

func seedSubscription(t *testing.T, db *gorm.DB, active bool, events ...domain.EventType) *domain.WebhookSubscription {
	t.Helper()

	sub := &domain.WebhookSubscription{
		URL:        "https://hooks.example.com/in",
		Events:     events,
		SecretKey:  "secret",
		IsActive:   active,
		RetryCount: 3,
		Timeout:    10,
	}
	if err := repository.NewGormWebhookRepo(db).CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	return sub
}

func seedDelivery(t *testing.T, db *gorm.DB, subID int64) *domain.WebhookDelivery {
	t.Helper()

	d := &domain.WebhookDelivery{
		SubscriptionID: subID,
		EventType:      domain.EventBatchClosed,
		Payload:        []byte(`{"event":"batch_closed","data":{},"timestamp":"2026-01-01T00:00:00.000000Z"}`),
		Status:         domain.DeliveryPending,
	}
	if err := repository.NewGormWebhookRepo(db).CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}
	return d
}

func failedAttempt() domain.DeliveryAttempt {
	msg := "HTTP 500"
	code := 500
	return domain.DeliveryAttempt{Status: domain.DeliveryFailed, ResponseStatus: &code, ErrorMessage: &msg}
}

func TestWebhookRepoListActiveSubscriptionsFor(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	listening := seedSubscription(t, db, true, domain.EventProductAggregated, domain.EventBatchClosed)
	seedSubscription(t, db, true, domain.EventBatchCreated)
	seedSubscription(t, db, false, domain.EventProductAggregated)

	subs, err := repository.NewGormWebhookRepo(db).ListActiveSubscriptionsFor(context.Background(), domain.EventProductAggregated)
	if err != nil {
		t.Fatalf("ListActiveSubscriptionsFor() error = %v", err)
	}
	if len(subs) != 1 || subs[0].ID != listening.ID {
		t.Fatalf("ListActiveSubscriptionsFor() = %+v, want subscription %d", subs, listening.ID)
	}
	if len(subs[0].Events) != 2 {
		t.Fatalf("Events = %v, want 2 entries", subs[0].Events)
	}
}

func TestWebhookRepoRecordAttemptIncrementsOnce(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	sub := seedSubscription(t, db, true, domain.EventBatchClosed)
	d := seedDelivery(t, db, sub.ID)
	repo := repository.NewGormWebhookRepo(db)

	updated, err := repo.RecordAttempt(ctx, d.ID, failedAttempt())
	if err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if updated.Attempts != 1 || updated.Status != domain.DeliveryFailed {
		t.Fatalf("after failure attempts=%d status=%s, want 1 failed", updated.Attempts, updated.Status)
	}
	if updated.ErrorMessage == nil || *updated.ErrorMessage != "HTTP 500" {
		t.Fatalf("ErrorMessage = %v, want HTTP 500", updated.ErrorMessage)
	}

	deliveredAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code := 200
	updated, err = repo.RecordAttempt(ctx, d.ID, domain.DeliveryAttempt{
		Status:         domain.DeliverySuccess,
		ResponseStatus: &code,
		DeliveredAt:    &deliveredAt,
	})
	if err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if updated.Attempts != 2 || updated.Status != domain.DeliverySuccess {
		t.Fatalf("after success attempts=%d status=%s, want 2 success", updated.Attempts, updated.Status)
	}
	if updated.ErrorMessage != nil {
		t.Fatalf("ErrorMessage = %v, want nil after success", *updated.ErrorMessage)
	}
	if string(updated.Payload) != string(d.Payload) {
		t.Fatalf("payload changed: %s", updated.Payload)
	}
}

func TestWebhookRepoRecordAttemptStoresTextSafeBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "multi-byte rune across the limit",
			body: strings.Repeat("a", 9999) + "é" + "tail",
			want: strings.Repeat("a", 9999),
		},
		{
			name: "nul bytes",
			body: "bad\x00gateway",
			want: "badgateway",
		},
		{
			name: "invalid utf-8",
			body: "ok\xffok",
			want: "ok\uFFFDok",
		},
		{
			name: "cyrillic page over the limit",
			body: strings.Repeat("ж", 6000),
			want: strings.Repeat("ж", 5000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db := repotest.NewDB(t)
			sub := seedSubscription(t, db, true, domain.EventBatchClosed)
			d := seedDelivery(t, db, sub.ID)

			attempt := failedAttempt()
			body := tt.body
			attempt.ResponseBody = &body

			updated, err := repository.NewGormWebhookRepo(db).RecordAttempt(context.Background(), d.ID, attempt)
			if err != nil {
				t.Fatalf("RecordAttempt() error = %v", err)
			}
			if updated.Attempts != 1 {
				t.Fatalf("Attempts = %d, want 1", updated.Attempts)
			}
			if updated.ResponseBody == nil {
				t.Fatal("ResponseBody = nil")
			}
			got := *updated.ResponseBody
			if !utf8.ValidString(got) || strings.Contains(got, "\x00") {
				t.Fatalf("stored body is not valid text (len %d)", len(got))
			}
			if len(got) > 10_000 {
				t.Fatalf("stored body len = %d, want at most 10000", len(got))
			}
			if got != tt.want {
				t.Fatalf("stored body len %d, want len %d", len(got), len(tt.want))
			}
		})
	}
}

func TestWebhookRepoRecordAttemptKeepsSuccess(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	sub := seedSubscription(t, db, true, domain.EventBatchClosed)
	d := seedDelivery(t, db, sub.ID)
	repo := repository.NewGormWebhookRepo(db)

	deliveredAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code := 200
	if _, err := repo.RecordAttempt(ctx, d.ID, domain.DeliveryAttempt{
		Status:         domain.DeliverySuccess,
		ResponseStatus: &code,
		DeliveredAt:    &deliveredAt,
	}); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}

	updated, err := repo.RecordAttempt(ctx, d.ID, failedAttempt())
	if err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if updated.Status != domain.DeliverySuccess || updated.Attempts != 1 {
		t.Fatalf("after late failure status=%s attempts=%d, want success with 1 attempt", updated.Status, updated.Attempts)
	}
	if updated.DeliveredAt == nil || updated.ResponseStatus == nil || *updated.ResponseStatus != 200 {
		t.Fatalf("success outcome overwritten: deliveredAt=%v status=%v", updated.DeliveredAt, updated.ResponseStatus)
	}
}

func TestWebhookRepoRecordAttemptUnknownDelivery(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	_, err := repository.NewGormWebhookRepo(db).RecordAttempt(context.Background(), 404, failedAttempt())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RecordAttempt() error = %v, want ErrNotFound", err)
	}
}

func TestWebhookRepoRetryEligibility(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	repo := repository.NewGormWebhookRepo(db)

	active := seedSubscription(t, db, true, domain.EventBatchClosed)
	inactive := seedSubscription(t, db, false, domain.EventBatchClosed)

	eligible := seedDelivery(t, db, active.ID)
	exhausted := seedDelivery(t, db, active.ID)
	paused := seedDelivery(t, db, inactive.ID)

	for i := 0; i < 3; i++ {
		if _, err := repo.RecordAttempt(ctx, exhausted.ID, failedAttempt()); err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
	}
	for _, id := range []int64{eligible.ID, paused.ID} {
		if _, err := repo.RecordAttempt(ctx, id, failedAttempt()); err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
	}

	due, err := repo.ListRetryEligible(ctx, 100)
	if err != nil {
		t.Fatalf("ListRetryEligible() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != eligible.ID {
		t.Fatalf("ListRetryEligible() = %+v, want only delivery %d", due, eligible.ID)
	}

	now := time.Now().UTC()
	for _, tc := range []struct {
		id   int64
		want bool
	}{
		{id: eligible.ID, want: true},
		{id: exhausted.ID, want: false},
		{id: paused.ID, want: false},
	} {
		moved, err := repo.MarkForRetry(ctx, tc.id, now)
		if err != nil {
			t.Fatalf("MarkForRetry(%d) error = %v", tc.id, err)
		}
		if moved != tc.want {
			t.Fatalf("MarkForRetry(%d) = %v, want %v", tc.id, moved, tc.want)
		}
	}

	moved, err := repo.MarkForRetry(ctx, eligible.ID, now)
	if err != nil {
		t.Fatalf("MarkForRetry() error = %v", err)
	}
	if moved {
		t.Fatal("pending delivery must not be moved again")
	}
}

func TestWebhookRepoListStalePending(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	repo := repository.NewGormWebhookRepo(db)
	sub := seedSubscription(t, db, true, domain.EventBatchClosed)
	stale := seedDelivery(t, db, sub.ID)
	fresh := seedDelivery(t, db, sub.ID)

	old := time.Now().UTC().Add(-time.Hour)
	if err := repo.Touch(ctx, stale.ID, old); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := repo.ListStalePending(ctx, time.Now().UTC().Add(-15*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("ListStalePending() = %+v, want only %d (fresh %d)", got, stale.ID, fresh.ID)
	}
}

func TestWebhookRepoDeleteSubscription(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	repo := repository.NewGormWebhookRepo(db)
	sub := seedSubscription(t, db, true, domain.EventBatchClosed)
	seedDelivery(t, db, sub.ID)

	if err := repo.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription() error = %v", err)
	}
	if _, err := repo.GetSubscription(ctx, sub.ID); err == nil {
		t.Fatal("GetSubscription() expected not found after delete")
	}
	deliveries, err := repo.ListDeliveries(ctx, sub.ID, 10)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("ListDeliveries() len = %d, want 0", len(deliveries))
	}
}
