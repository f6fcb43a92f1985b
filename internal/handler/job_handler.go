package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/jobs"
	"github.com/kursadbilgin/production-control/internal/schedule"
	"github.com/kursadbilgin/production-control/internal/service"
)

type JobQueue interface {
	Enqueue(ctx context.Context, kind domain.JobKind, args any, opts ...jobs.EnqueueOption) (*domain.Job, error)
	Status(ctx context.Context, id string) (*domain.Job, error)
}

type validator interface {
	Validate() error
}

type sweepArgs struct{}

func (sweepArgs) Validate() error { return nil }

// submittable lists the kinds clients may enqueue. Webhook sends are created by the notifier only.
var submittable = map[domain.JobKind]func() validator{
	domain.JobAggregateProducts:   func() validator { return &service.AggregateArgs{} },
	domain.JobImportBatches:       func() validator { return &service.ImportArgs{} },
	domain.JobExportBatches:       func() validator { return &service.ExportArgs{} },
	domain.JobGenerateReport:      func() validator { return &service.ReportArgs{} },
	domain.JobCloseExpiredBatches: func() validator { return &sweepArgs{} },
	domain.JobCleanupStaleFiles:   func() validator { return &sweepArgs{} },
	domain.JobRefreshStatistics:   func() validator { return &sweepArgs{} },
	domain.JobRetryFailedWebhooks: func() validator { return &sweepArgs{} },
}

type JobHandler struct {
	queue JobQueue
}

func NewJobHandler(queue JobQueue) (*JobHandler, error) {
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	return &JobHandler{queue: queue}, nil
}

func RegisterJobRoutes(router fiber.Router, queue JobQueue) error {
	h, err := NewJobHandler(queue)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/jobs/:kind", h.SubmitJob)
	v1.Get("/jobs/:id", h.GetJob)

	return nil
}

type submitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type jobResponse struct {
	JobID       string              `json:"jobId"`
	Kind        string              `json:"kind"`
	Status      string              `json:"status"`
	Attempts    int                 `json:"attempts"`
	MaxAttempts int                 `json:"maxAttempts"`
	Progress    *domain.JobProgress `json:"progress,omitempty"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	FinishedAt  *time.Time          `json:"finishedAt,omitempty"`
}

func (h *JobHandler) SubmitJob(c *fiber.Ctx) error {
	kind, err := domain.ParseJobKind(c.Params("kind"))
	if err != nil {
		return err
	}
	newArgs, ok := submittable[kind]
	if !ok {
		return fmt.Errorf("%w: %s jobs cannot be submitted", domain.ErrValidation, kind)
	}

	args := newArgs()
	if err := decodeArgs(c.Body(), args); err != nil {
		return err
	}

	var opts []jobs.EnqueueOption
	if kind.IsSweep() {
		opts = append(opts, jobs.WithDedupeKey(schedule.DedupeKey(kind)))
	}

	job, err := h.queue.Enqueue(c.UserContext(), kind, args, opts...)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(submitJobResponse{
		JobID:  job.ID,
		Status: job.Status.String(),
	})
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: job id must be a uuid", domain.ErrValidation)
	}

	job, err := h.queue.Status(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(jobResponse{
		JobID:       job.ID,
		Kind:        job.Kind.String(),
		Status:      job.Status.String(),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Progress:    job.Progress,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	})
}

func decodeArgs(body []byte, args validator) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: invalid job args: %v", domain.ErrValidation, err)
	}

	if err := args.Validate(); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
