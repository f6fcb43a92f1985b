package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/repository/repotest"
	"gorm.io/gorm"
)

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
		BatchNumber:  number,
		BatchDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ShiftStart:   shiftEnd.Add(-8 * time.Hour),
		ShiftEnd:     shiftEnd,
	}
	if err := repository.NewGormBatchRepo(db).Create(ctx, b); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return b
}

func seedProducts(t *testing.T, db *gorm.DB, batchID int64, codes ...string) []*domain.Product {
	t.Helper()

	products := make([]*domain.Product, 0, len(codes))
	for _, code := range codes {
		products = append(products, &domain.Product{UniqueCode: code, BatchID: batchID})
	}
	if err := repository.NewGormProductRepo(db).CreateBatch(context.Background(), products); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return products
}

func TestBatchRepoCloseManyOnlyOpenBatches(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	expired := seedBatch(t, db, 1, now.Add(-time.Hour))
	seedBatch(t, db, 2, now.Add(time.Hour))

	repo := repository.NewGormBatchRepo(db)
	locked, err := repo.LockExpired(ctx, now)
	if err != nil {
		t.Fatalf("LockExpired() error = %v", err)
	}
	if len(locked) != 1 || locked[0].ID != expired.ID {
		t.Fatalf("LockExpired() = %+v, want only batch %d", locked, expired.ID)
	}

	closed, err := repo.CloseMany(ctx, []int64{expired.ID}, now)
	if err != nil {
		t.Fatalf("CloseMany() error = %v", err)
	}
	if closed != 1 {
		t.Fatalf("CloseMany() = %d, want 1", closed)
	}

	closed, err = repo.CloseMany(ctx, []int64{expired.ID}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CloseMany() error = %v", err)
	}
	if closed != 0 {
		t.Fatalf("second CloseMany() = %d, want 0", closed)
	}

	got, err := repo.GetByID(ctx, expired.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.IsClosed || got.ClosedAt == nil || !got.ClosedAt.Equal(now) {
		t.Fatalf("batch closed=%v closedAt=%v, want closed at %v", got.IsClosed, got.ClosedAt, now)
	}
}

func TestBatchRepoGetByIDNotFound(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	_, err := repository.NewGormBatchRepo(db).GetByID(context.Background(), 404)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestBatchRepoListFilters(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	first := seedBatch(t, db, 1, now.Add(-time.Hour))
	seedBatch(t, db, 2, now.Add(time.Hour))

	repo := repository.NewGormBatchRepo(db)
	if _, err := repo.CloseMany(ctx, []int64{first.ID}, now); err != nil {
		t.Fatalf("CloseMany() error = %v", err)
	}

	open := false
	batches, err := repo.List(ctx, domain.BatchFilter{IsClosed: &open}, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(batches) != 1 || batches[0].BatchNumber != 2 {
		t.Fatalf("List(open) = %+v, want batch 2", batches)
	}

	all, err := repo.List(ctx, domain.BatchFilter{}, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List(limit=1) len = %d, want 1", len(all))
	}
}

func TestProductRepoMarkAggregatedIsCompareAndSet(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	batch := seedBatch(t, db, 1, time.Now().UTC())
	products := seedProducts(t, db, batch.ID, "A", "B")

	repo := repository.NewGormProductRepo(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := repo.MarkAggregated(ctx, []int64{products[0].ID}, at)
	if err != nil {
		t.Fatalf("MarkAggregated() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("MarkAggregated() = %d, want 1", n)
	}

	n, err = repo.MarkAggregated(ctx, []int64{products[0].ID, products[1].ID}, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkAggregated() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("second MarkAggregated() = %d, want 1", n)
	}

	locked, err := repo.LockByCodes(ctx, batch.ID, []string{"A", "B", "Z"})
	if err != nil {
		t.Fatalf("LockByCodes() error = %v", err)
	}
	if len(locked) != 2 {
		t.Fatalf("LockByCodes() len = %d, want 2", len(locked))
	}
	if locked[0].AggregatedAt == nil || !locked[0].AggregatedAt.Equal(at) {
		t.Fatalf("A aggregated_at = %v, want %v", locked[0].AggregatedAt, at)
	}
}

func TestStatisticsRepoCompute(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	closed := seedBatch(t, db, 1, now.Add(-time.Hour))
	open := seedBatch(t, db, 2, now.Add(time.Hour))
	products := seedProducts(t, db, open.ID, "A", "B", "C", "D")

	if _, err := repository.NewGormBatchRepo(db).CloseMany(ctx, []int64{closed.ID}, now); err != nil {
		t.Fatalf("CloseMany() error = %v", err)
	}
	if _, err := repository.NewGormProductRepo(db).MarkAggregated(ctx, []int64{products[0].ID}, now); err != nil {
		t.Fatalf("MarkAggregated() error = %v", err)
	}

	stats, err := repository.NewGormStatisticsRepo(db).Compute(ctx, now)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if stats.TotalBatches != 2 || stats.ClosedBatches != 1 || stats.ActiveBatches != 1 {
		t.Fatalf("batch stats = %+v", stats)
	}
	if stats.TotalProducts != 4 || stats.AggregatedProducts != 1 || stats.AggregationRate != 25 {
		t.Fatalf("product stats = %+v", stats)
	}
}
