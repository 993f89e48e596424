package retry

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/signal-bridge/signal_service/pkg/errors"
	"go.uber.org/zap"
)

// Retrier runs an operation until it succeeds, fails permanently, runs out of
// attempts or the context ends.
type Retrier struct {
	policy  Policy
	backoff *Backoff
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrier panics on an invalid policy; policies are built from config
// that has already been validated.
func NewRetrier(policy Policy, logger *zap.Logger) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		policy:  policy,
		backoff: NewBackoff(policy),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// MaxAttempts is the total number of times an operation may run.
func (r *Retrier) MaxAttempts() int {
	return r.policy.MaxRetries + 1
}

// Do executes operation with retries. The attempt number passed to operation
// starts at 1.
func (r *Retrier) Do(ctx context.Context, operation func(attempt int) error) error {
	_, err := DoWithResult(ctx, r, func(attempt int) (struct{}, error) {
		return struct{}{}, operation(attempt)
	})
	return err
}

// DoWithResult executes operation with the retrier's policy and returns its
// result.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := operation(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retries", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			r.logger.Debug("Error is not retryable", zap.Error(err), zap.Int("attempt", attempt))
			return zero, err
		}
		if attempt == r.MaxAttempts() {
			break
		}

		wait := r.backoff.Calculate(attempt)
		r.logger.Debug("Retrying operation",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.MaxAttempts()),
			zap.Duration("backoff", wait))
		if err := r.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	r.logger.Warn("Max retries exceeded", zap.Error(lastErr), zap.Int("attempts", r.MaxAttempts()))
	return zero, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) isRetryable(err error) bool {
	if r.policy.RetryableFunc != nil {
		return r.policy.RetryableFunc(err)
	}
	return apperrors.ShouldRetry(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
