package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/repository"
	"gorm.io/gorm"
)

// fakeNotifier records events without touching the database.
type fakeNotifier struct {
	mu         sync.Mutex
	notifyErr  error
	events     []event.Event
	dispatched []string
}

func (f *fakeNotifier) NotifyTx(_ context.Context, _ *gorm.DB, ev event.Event) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return nil, f.notifyErr
	}
	f.events = append(f.events, ev)
	return []string{uuid.NewString()}, nil
}

func (f *fakeNotifier) Notify(ctx context.Context, ev event.Event) error {
	_, err := f.NotifyTx(ctx, nil, ev)
	return err
}

func (f *fakeNotifier) Dispatch(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, ids...)
	return nil
}

func (f *fakeNotifier) Events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events...)
}

type fakeDeliveryEnqueuer struct {
	enqueueFn func(id int64) error
	ids       []int64
}

func (f *fakeDeliveryEnqueuer) EnqueueDelivery(_ context.Context, id int64) (string, error) {
	if f.enqueueFn != nil {
		if err := f.enqueueFn(id); err != nil {
			return "", err
		}
	}
	f.ids = append(f.ids, id)
	return uuid.NewString(), nil
}

type fakeStatisticsRepo struct {
	computeFn func() (*domain.Statistics, error)
	calls     int
}

func (f *fakeStatisticsRepo) Compute(_ context.Context, now time.Time) (*domain.Statistics, error) {
	f.calls++
	if f.computeFn != nil {
		return f.computeFn()
	}
	stats := domain.NewStatistics(4, 1, 10, 5, now)
	return &stats, nil
}

func seedBatch(t *testing.T, db *gorm.DB, number int, shiftEnd time.Time) *domain.Batch {
	t.Helper()

	ctx := context.Background()
	wc, err := repository.NewGormWorkCenterRepo(db).GetOrCreate(ctx, "WC-1", "Line 1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	b := &domain.Batch{
		WorkCenterID: wc.ID,
		Shift:        "day",
		Team:         "A",
		BatchNumber:  number,
		BatchDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Nomenclature: "Widget",
		EKNCode:      "EKN-1",
		ShiftStart:   shiftEnd.Add(-8 * time.Hour),
		ShiftEnd:     shiftEnd,
	}
	if err := repository.NewGormBatchRepo(db).Create(ctx, b); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return b
}

func seedProducts(t *testing.T, db *gorm.DB, batchID int64, codes ...string) {
	t.Helper()

	products := make([]*domain.Product, 0, len(codes))
	for _, code := range codes {
		products = append(products, &domain.Product{UniqueCode: code, BatchID: batchID})
	}
	if err := repository.NewGormProductRepo(db).CreateBatch(context.Background(), products); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
