package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/repository/repotest"
	"github.com/kursadbilgin/production-control/internal/storage"
	"github.com/kursadbilgin/production-control/internal/storage/storagetest"
	"gorm.io/gorm"
)

type sweepFixture struct {
	svc      *SweepService
	store    *storagetest.MemoryStore
	notifier *fakeNotifier
	enqueuer *fakeDeliveryEnqueuer
}

func newSweepFixture(t *testing.T, db *gorm.DB, now time.Time) sweepFixture {
	t.Helper()

	stats, _ := newTestStatisticsService(t, &fakeStatisticsRepo{})
	f := sweepFixture{
		store:    storagetest.NewMemoryStore(),
		notifier: &fakeNotifier{},
		enqueuer: &fakeDeliveryEnqueuer{},
	}
	svc, err := NewSweepService(db, f.store, stats, f.notifier, f.enqueuer, SweepConfig{}, nil)
	if err != nil {
		t.Fatalf("NewSweepService() error = %v", err)
	}
	svc.now = fixedClock(now)
	f.svc = svc
	return f
}

func TestSweepCloseExpiredBatches(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	expired := seedBatch(t, db, 1, now.Add(-time.Hour))
	active := seedBatch(t, db, 2, now.Add(time.Hour))
	f := newSweepFixture(t, db, now)

	result, err := f.svc.CloseExpiredBatches(context.Background())
	if err != nil {
		t.Fatalf("CloseExpiredBatches() error = %v", err)
	}
	if result.ClosedCount != 1 {
		t.Fatalf("ClosedCount = %d, want 1", result.ClosedCount)
	}

	events := f.notifier.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if ev, ok := events[0].(event.BatchClosed); !ok || ev.BatchID != expired.ID {
		t.Fatalf("event = %+v, want batch_closed for %d", events[0], expired.ID)
	}

	batches := repository.NewGormBatchRepo(db)
	got, err := batches.GetByID(context.Background(), expired.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.IsClosed || got.ClosedAt == nil || !got.ClosedAt.Equal(now) {
		t.Fatalf("expired batch = %+v, want closed at %s", got, now)
	}
	if still, _ := batches.GetByID(context.Background(), active.ID); still.IsClosed {
		t.Fatal("batch with a running shift must stay open")
	}

	again, err := f.svc.CloseExpiredBatches(context.Background())
	if err != nil {
		t.Fatalf("second CloseExpiredBatches() error = %v", err)
	}
	if again.ClosedCount != 0 || len(f.notifier.Events()) != 1 {
		t.Fatalf("second run closed %d, events %d, want no change", again.ClosedCount, len(f.notifier.Events()))
	}
}

func TestSweepCleanupStaleFiles(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	f := newSweepFixture(t, db, now)

	old := now.Add(-31 * 24 * time.Hour)
	f.store.PutAt(storage.BucketImports, "old.xlsx", []byte("x"), old)
	f.store.PutAt(storage.BucketImports, "new.xlsx", []byte("x"), now.Add(-time.Hour))
	f.store.PutAt(storage.BucketReports, "locked.pdf", []byte("x"), old)
	f.store.PutAt(storage.BucketReports, "stale.pdf", []byte("x"), old)
	f.store.DeleteFn = func(_ storage.Bucket, key string) error {
		if key == "locked.pdf" {
			return errors.New("permission denied")
		}
		return nil
	}
	f.store.ListFn = func(bucket storage.Bucket) error {
		if bucket == storage.BucketExports {
			return errors.New("bucket unavailable")
		}
		return nil
	}

	result, err := f.svc.CleanupStaleFiles(context.Background())
	if err != nil {
		t.Fatalf("CleanupStaleFiles() error = %v", err)
	}
	if result.DeletedCount != 2 || result.FailedCount != 1 {
		t.Fatalf("CleanupStaleFiles() = %+v, want 2 deleted, 1 failed", result)
	}
	if f.store.Has(storage.BucketImports, "old.xlsx") || !f.store.Has(storage.BucketImports, "new.xlsx") {
		t.Fatal("only files past retention must be deleted")
	}
	if !f.store.Has(storage.BucketReports, "locked.pdf") {
		t.Fatal("failed delete must leave the file")
	}
}

func TestSweepRetryFailedWebhooks(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	repo := repository.NewGormWebhookRepo(db)

	active := &domain.WebhookSubscription{URL: "https://a.example.com", Events: []domain.EventType{domain.EventBatchClosed}, SecretKey: "s", IsActive: true, RetryCount: 3, Timeout: 5}
	inactive := &domain.WebhookSubscription{URL: "https://b.example.com", Events: []domain.EventType{domain.EventBatchClosed}, SecretKey: "s", IsActive: false, RetryCount: 3, Timeout: 5}
	for _, s := range []*domain.WebhookSubscription{active, inactive} {
		if err := repo.CreateSubscription(ctx, s); err != nil {
			t.Fatalf("CreateSubscription() error = %v", err)
		}
	}

	newDelivery := func(subID int64) *domain.WebhookDelivery {
		d := &domain.WebhookDelivery{SubscriptionID: subID, EventType: domain.EventBatchClosed, Payload: []byte(`{}`), Status: domain.DeliveryPending}
		if err := repo.CreateDelivery(ctx, d); err != nil {
			t.Fatalf("CreateDelivery() error = %v", err)
		}
		return d
	}
	fail := func(d *domain.WebhookDelivery) {
		msg, code := "HTTP 500", 500
		if _, err := repo.RecordAttempt(ctx, d.ID, domain.DeliveryAttempt{Status: domain.DeliveryFailed, ResponseStatus: &code, ErrorMessage: &msg}); err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
	}

	retryable := newDelivery(active.ID)
	fail(retryable)
	exhausted := newDelivery(active.ID)
	fail(exhausted)
	fail(exhausted)
	fail(exhausted)
	ofInactive := newDelivery(inactive.ID)
	fail(ofInactive)
	stale := newDelivery(active.ID)

	f := newSweepFixture(t, db, time.Now().Add(time.Hour))
	result, err := f.svc.RetryFailedWebhooks(ctx)
	if err != nil {
		t.Fatalf("RetryFailedWebhooks() error = %v", err)
	}
	if result.RetriedCount != 1 || result.RequeuedCount != 1 {
		t.Fatalf("RetryFailedWebhooks() = %+v, want 1 retried, 1 requeued", result)
	}
	if len(f.enqueuer.ids) != 2 || f.enqueuer.ids[0] != retryable.ID || f.enqueuer.ids[1] != stale.ID {
		t.Fatalf("enqueued = %v, want [%d %d]", f.enqueuer.ids, retryable.ID, stale.ID)
	}

	moved, _, err := repo.GetDelivery(ctx, retryable.ID)
	if err != nil {
		t.Fatalf("GetDelivery() error = %v", err)
	}
	if moved.Status != domain.DeliveryPending || moved.Attempts != 1 {
		t.Fatalf("retried delivery = %+v, want pending with attempts kept", moved)
	}
	for _, id := range []int64{exhausted.ID, ofInactive.ID} {
		d, _, err := repo.GetDelivery(ctx, id)
		if err != nil {
			t.Fatalf("GetDelivery() error = %v", err)
		}
		if d.Status != domain.DeliveryFailed {
			t.Fatalf("delivery %d = %s, want failed", id, d.Status)
		}
	}
}

func TestSweepRetryFailedWebhooksEnqueueError(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	repo := repository.NewGormWebhookRepo(db)
	sub := &domain.WebhookSubscription{URL: "https://a.example.com", Events: []domain.EventType{domain.EventBatchClosed}, SecretKey: "s", IsActive: true, RetryCount: 3, Timeout: 5}
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	d := &domain.WebhookDelivery{SubscriptionID: sub.ID, EventType: domain.EventBatchClosed, Payload: []byte(`{}`), Status: domain.DeliveryPending}
	if err := repo.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}

	f := newSweepFixture(t, db, time.Now().Add(time.Hour))
	f.enqueuer.enqueueFn = func(int64) error { return errors.New("queue down") }
	if _, err := f.svc.RetryFailedWebhooks(ctx); err == nil {
		t.Fatal("RetryFailedWebhooks() expected enqueue error")
	}
}

func TestSweepRefreshStatistics(t *testing.T) {
	t.Parallel()

	f := newSweepFixture(t, repotest.NewDB(t), time.Now())
	stats, err := f.svc.RefreshStatistics(context.Background())
	if err != nil {
		t.Fatalf("RefreshStatistics() error = %v", err)
	}
	if stats.TotalBatches != 4 {
		t.Fatalf("RefreshStatistics() = %+v", stats)
	}
}
