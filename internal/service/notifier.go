package service

import (
	"context"

	"github.com/kursadbilgin/production-control/internal/event"
	"gorm.io/gorm"
)

// Notifier records webhook deliveries for domain events. Implemented by webhook.Notifier.
type Notifier interface {
	NotifyTx(ctx context.Context, tx *gorm.DB, ev event.Event) ([]string, error)
	Notify(ctx context.Context, ev event.Event) error
	Dispatch(ctx context.Context, jobIDs ...string) error
}

// ProgressFunc receives per-item progress from long-running operations.
// A non-nil error stops the operation.
type ProgressFunc func(ctx context.Context, current int, total int) error

func noProgress(context.Context, int, int) error { return nil }
