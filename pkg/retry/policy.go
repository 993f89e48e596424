package retry

import (
	"errors"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrInvalidPolicy      = errors.New("invalid retry policy")
)

// Policy controls how many times an operation is retried and how long to wait
// between attempts.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool

	// RetryableFunc overrides the default error classification.
	RetryableFunc func(error) bool
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.Join(ErrInvalidPolicy, errors.New("max retries must not be negative"))
	case p.InitialBackoff <= 0:
		return errors.Join(ErrInvalidPolicy, errors.New("initial backoff must be positive"))
	case p.MaxBackoff < p.InitialBackoff:
		return errors.Join(ErrInvalidPolicy, errors.New("max backoff must be >= initial backoff"))
	case p.Multiplier < 1:
		return errors.Join(ErrInvalidPolicy, errors.New("multiplier must be >= 1"))
	}
	return nil
}
