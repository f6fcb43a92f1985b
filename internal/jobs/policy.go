package jobs

import (
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
)

const (
	defaultRetryBaseDelay = time.Second
	maxRetryDelay         = 10 * time.Minute
	maxRetryJitterMillis  = 250
)

// Policy bounds how often a job kind is retried after infrastructure failures.
type Policy struct {
	MaxRetries int
}

// MaxAttempts counts the first run plus retries.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// PolicyFor returns the retry policy of kind. Sweeps are not retried; the next scheduled
// run replaces them.
func PolicyFor(kind domain.JobKind) Policy {
	switch {
	case kind == domain.JobImportBatches:
		return Policy{MaxRetries: 1}
	case kind.IsSweep():
		return Policy{MaxRetries: 0}
	default:
		return Policy{MaxRetries: 3}
	}
}

// backoff returns base * 2^(attempt-1), capped at maxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(delay, maxRetryDelay)
}
