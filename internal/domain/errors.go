package domain

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	// ErrJobTimeout marks a job that ran past its time limit. It is terminal.
	ErrJobTimeout = errors.New("job timeout")
)
