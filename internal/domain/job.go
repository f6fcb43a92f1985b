package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobKind names a job body.
type JobKind string

const (
	JobAggregateProducts   JobKind = "aggregate_products"
	JobImportBatches       JobKind = "import_batches"
	JobExportBatches       JobKind = "export_batches"
	JobGenerateReport      JobKind = "generate_report"
	JobSendWebhook         JobKind = "send_webhook"
	JobCloseExpiredBatches JobKind = "close_expired_batches"
	JobCleanupStaleFiles   JobKind = "cleanup_stale_files"
	JobRefreshStatistics   JobKind = "refresh_statistics"
	JobRetryFailedWebhooks JobKind = "retry_failed_webhooks"
)

var jobKinds = []JobKind{
	JobAggregateProducts,
	JobImportBatches,
	JobExportBatches,
	JobGenerateReport,
	JobSendWebhook,
	JobCloseExpiredBatches,
	JobCleanupStaleFiles,
	JobRefreshStatistics,
	JobRetryFailedWebhooks,
}

func (k JobKind) String() string { return string(k) }

func (k JobKind) IsValid() bool {
	for _, known := range jobKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsSweep reports whether the kind is a periodic maintenance job.
func (k JobKind) IsSweep() bool {
	switch k {
	case JobCloseExpiredBatches, JobCleanupStaleFiles, JobRefreshStatistics, JobRetryFailedWebhooks:
		return true
	}
	return false
}

func JobKinds() []JobKind {
	return append([]JobKind(nil), jobKinds...)
}

func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: unknown job kind %q", ErrValidation, s)
	}
	return k, nil
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

type JobProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

func NewJobProgress(current int, total int) JobProgress {
	if current < 0 {
		current = 0
	}
	if total < 0 {
		total = 0
	}
	percent := 0
	if total > 0 {
		percent = current * 100 / total
	}
	if percent > 100 {
		percent = 100
	}
	return JobProgress{Current: current, Total: total, Percent: percent}
}

// Job is a unit of asynchronous work persisted in the jobs table.
type Job struct {
	ID           string
	Kind         JobKind
	Args         json.RawMessage
	Status       JobStatus
	Attempts     int
	MaxAttempts  int
	NextRunAt    time.Time
	DispatchedAt *time.Time
	StartedAt    *time.Time
	HeartbeatAt  *time.Time
	FinishedAt   *time.Time
	Progress     *JobProgress
	Result       json.RawMessage
	Error        *string
	DedupeKey    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
