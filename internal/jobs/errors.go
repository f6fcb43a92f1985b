package jobs

import (
	"errors"
	"fmt"

	"github.com/kursadbilgin/production-control/internal/domain"
)

// ErrSoftTimeLimit is returned by Task.CheckSoftLimit once the soft limit has passed.
// It wraps domain.ErrJobTimeout, so a job that gives up on it is not retried.
var ErrSoftTimeLimit = fmt.Errorf("%w: soft time limit exceeded", domain.ErrJobTimeout)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether a job error must fail the job without retry.
func IsPermanent(err error) bool {
	var p *permanentError
	switch {
	case errors.As(err, &p):
		return true
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrJobTimeout):
		return true
	default:
		return false
	}
}
