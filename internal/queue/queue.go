package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/production-control/internal/domain"
)

// Publisher publishes job messages to a lane.
type Publisher interface {
	Publish(ctx context.Context, lane string, msg JobMessage) error
	Close() error
}

// MessageHandler handles a consumed job message. A returned error requeues the message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job messages from a lane.
type Consumer interface {
	Consume(ctx context.Context, lane string, handler MessageHandler) error
	Close() error
}

// Lanes separate long bulk work from latency sensitive webhook sends.
const (
	LaneBulk        = "jobs.bulk"
	LaneWebhooks    = "jobs.webhooks"
	LaneMaintenance = "jobs.maintenance"
)

var lanes = []string{LaneBulk, LaneWebhooks, LaneMaintenance}

// LaneFor returns the lane a job kind is published to.
func LaneFor(kind domain.JobKind) string {
	switch {
	case kind == domain.JobSendWebhook:
		return LaneWebhooks
	case kind.IsSweep():
		return LaneMaintenance
	default:
		return LaneBulk
	}
}

// Lanes returns every work queue name.
func Lanes() []string {
	out := make([]string, len(lanes))
	copy(out, lanes)
	return out
}

// DLQName returns the dead-letter queue of a lane, e.g. dlq.jobs.bulk.
func DLQName(lane string) string {
	return fmt.Sprintf("dlq.%s", lane)
}

func DLQNames() []string {
	out := make([]string, 0, len(lanes))
	for _, lane := range lanes {
		out = append(out, DLQName(lane))
	}
	return out
}
