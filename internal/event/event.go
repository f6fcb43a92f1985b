// Package event defines the closed set of webhook events and their wire envelope.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
)

// TimestampLayout renders UTC timestamps with microseconds and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

const dateLayout = "2006-01-02"

// Event is implemented by every event variant. Data fields are the wire shape.
type Event interface {
	Type() domain.EventType
}

type BatchCreated struct {
	BatchID      int64  `json:"batch_id"`
	BatchNumber  int    `json:"batch_number"`
	BatchDate    string `json:"batch_date"`
	WorkCenterID int64  `json:"work_center_id"`
	Shift        string `json:"shift"`
}

func (BatchCreated) Type() domain.EventType { return domain.EventBatchCreated }

type BatchUpdated struct {
	BatchID     int64  `json:"batch_id"`
	BatchNumber int    `json:"batch_number"`
	BatchDate   string `json:"batch_date"`
	IsClosed    bool   `json:"is_closed"`
}

func (BatchUpdated) Type() domain.EventType { return domain.EventBatchUpdated }

type BatchClosed struct {
	BatchID     int64  `json:"batch_id"`
	BatchNumber int    `json:"batch_number"`
	BatchDate   string `json:"batch_date"`
	ClosedAt    string `json:"closed_at"`
}

func (BatchClosed) Type() domain.EventType { return domain.EventBatchClosed }

// ProductAggregated summarizes one aggregation invocation, not a single code.
type ProductAggregated struct {
	BatchID     int64 `json:"batch_id"`
	BatchNumber int   `json:"batch_number"`
	Total       int   `json:"total"`
	Aggregated  int   `json:"aggregated"`
	Failed      int   `json:"failed"`
}

func (ProductAggregated) Type() domain.EventType { return domain.EventProductAggregated }

type ImportCompleted struct {
	UserID    int64 `json:"user_id"`
	TotalRows int   `json:"total_rows"`
	Created   int   `json:"created"`
	Skipped   int   `json:"skipped"`
}

func (ImportCompleted) Type() domain.EventType { return domain.EventImportCompleted }

type ReportGenerated struct {
	BatchID    int64  `json:"batch_id"`
	ReportType string `json:"report_type"`
	FileURL    string `json:"file_url"`
	FileName   string `json:"file_name"`
	FileSize   int    `json:"file_size"`
	ExpiresAt  string `json:"expires_at"`
}

func (ReportGenerated) Type() domain.EventType { return domain.EventReportGenerated }

func NewBatchClosed(b domain.Batch) BatchClosed {
	ev := BatchClosed{
		BatchID:     b.ID,
		BatchNumber: b.BatchNumber,
		BatchDate:   b.BatchDate.Format(dateLayout),
	}
	if b.ClosedAt != nil {
		ev.ClosedAt = FormatTimestamp(*b.ClosedAt)
	}
	return ev
}

// Envelope is the webhook body: {"event", "data", "timestamp"}.
type Envelope struct {
	Event     domain.EventType `json:"event"`
	Data      Event            `json:"data"`
	Timestamp string           `json:"timestamp"`
}

func NewEnvelope(ev Event, now time.Time) Envelope {
	return Envelope{
		Event:     ev.Type(),
		Data:      ev,
		Timestamp: FormatTimestamp(now),
	}
}

// Marshal serializes the envelope. Field order is fixed so equal envelopes produce equal bytes.
func (e Envelope) Marshal() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("%w: event data is required", domain.ErrValidation)
	}
	if !e.Event.IsValid() || e.Event != e.Data.Type() {
		return nil, fmt.Errorf("%w: envelope event %q does not match data", domain.ErrValidation, e.Event)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", e.Event, err)
	}
	return payload, nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
