package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFlaky = errors.New("flaky")

func testRetrier(maxRetries int) *Retrier {
	r := NewRetrier(Policy{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     2,
		RetryableFunc:  func(err error) bool { return errors.Is(err, errFlaky) },
	}, zap.NewNop())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetrier_SucceedsAfterRetries(t *testing.T) {
	var seen []int
	err := testRetrier(3).Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetrier_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := testRetrier(3).Do(context.Background(), func(int) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetrier_MaxRetriesExceeded(t *testing.T) {
	calls := 0
	err := testRetrier(2).Do(context.Background(), func(int) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := testRetrier(3).Do(ctx, func(int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestBackoff_Calculate(t *testing.T) {
	b := NewBackoff(Policy{InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2})

	assert.Equal(t, time.Second, b.Calculate(1))
	assert.Equal(t, 2*time.Second, b.Calculate(2))
	assert.Equal(t, 16*time.Second, b.Calculate(5))
	assert.Equal(t, 30*time.Second, b.Calculate(6))
	assert.Equal(t, 30*time.Second, b.Calculate(500))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxBackoff = time.Millisecond
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
}
