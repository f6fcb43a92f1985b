package domain

import (
	"fmt"
	"strings"
	"time"
)

// Batch is a production run for one shift on one work center.
type Batch struct {
	ID              int64
	IsClosed        bool
	ClosedAt        *time.Time
	TaskDescription string
	WorkCenterID    int64
	Shift           string
	Team            string
	BatchNumber     int
	BatchDate       time.Time
	Nomenclature    string
	EKNCode         string
	ShiftStart      time.Time
	ShiftEnd        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Close sets the closure flag together with closed_at. Closing a closed batch keeps the original timestamp.
func (b *Batch) Close(now time.Time) {
	if b.IsClosed {
		return
	}
	closedAt := now.UTC()
	b.IsClosed = true
	b.ClosedAt = &closedAt
}

func (b *Batch) Reopen() {
	b.IsClosed = false
	b.ClosedAt = nil
}

// IsExpired reports whether an open batch's shift has already ended.
func (b Batch) IsExpired(now time.Time) bool {
	return !b.IsClosed && b.ShiftEnd.Before(now)
}

func (b Batch) Validate() error {
	if b.BatchNumber <= 0 {
		return fmt.Errorf("%w: batch number must be positive", ErrValidation)
	}
	if b.BatchDate.IsZero() {
		return fmt.Errorf("%w: batch date is required", ErrValidation)
	}
	if b.WorkCenterID <= 0 {
		return fmt.Errorf("%w: work center is required", ErrValidation)
	}
	if strings.TrimSpace(b.Shift) == "" {
		return fmt.Errorf("%w: shift is required", ErrValidation)
	}
	if b.ShiftStart.IsZero() || b.ShiftEnd.IsZero() {
		return fmt.Errorf("%w: shift window is required", ErrValidation)
	}
	if !b.ShiftEnd.After(b.ShiftStart) {
		return fmt.Errorf("%w: shift end must be after shift start", ErrValidation)
	}
	if b.IsClosed != (b.ClosedAt != nil) {
		return fmt.Errorf("%w: closed_at must be set only for closed batches", ErrValidation)
	}
	return nil
}

// WorkCenter is the production line a batch runs on.
type WorkCenter struct {
	ID         int64
	Identifier string
	Name       string
	CreatedAt  time.Time
}

// BatchFilter narrows batch listings. Nil fields are not applied.
type BatchFilter struct {
	IsClosed     *bool
	BatchDate    *time.Time
	WorkCenterID *int64
	Shift        *string
}
