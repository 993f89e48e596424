// Package errors classifies errors for retry decisions.
package errors

import (
	"context"
	"errors"
	"net"
	"syscall"
)

type retryable interface {
	IsRetryable() bool
}

type temporary interface {
	Temporary() bool
}

// ShouldRetry reports whether err is worth another attempt. Errors that
// declare their own retryability win; otherwise network timeouts and
// connection resets are retried and context cancellation is not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
