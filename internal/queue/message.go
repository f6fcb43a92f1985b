package queue

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/production-control/internal/domain"
)

// JobMessage is the broker payload. The job row is the source of truth; the message only
// tells a worker which row to claim.
type JobMessage struct {
	JobID         string         `json:"jobId"`
	Kind          domain.JobKind `json:"kind"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (m JobMessage) Validate() error {
	if _, err := uuid.Parse(m.JobID); err != nil {
		return fmt.Errorf("invalid jobId %q", m.JobID)
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid job kind %q", m.Kind)
	}
	return nil
}
