package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type ErrorKind string

const (
	// KindTransient covers timeouts and connection failures.
	KindTransient ErrorKind = "transient"
	// KindRejected covers responses with status >= 400.
	KindRejected ErrorKind = "rejected"
)

const timeoutMessage = "Connection timeout"

// DeliveryError describes a failed send. Message is what gets stored on the delivery.
type DeliveryError struct {
	StatusCode int
	Message    string
	Kind       ErrorKind
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func rejected(statusCode int) *DeliveryError {
	return &DeliveryError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d", statusCode),
		Kind:       KindRejected,
	}
}

func transportFailure(err error) *DeliveryError {
	msg := err.Error()
	if isTimeout(err) {
		msg = timeoutMessage
	}
	return &DeliveryError{Message: msg, Kind: KindTransient, Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isSuccessStatus(statusCode int) bool {
	return statusCode > 0 && statusCode < http.StatusBadRequest
}
