// Package errors defines the error taxonomy of the signal engine.
// Every error that crosses a service boundary is a *DomainError so that
// handlers and workers can decide between retry, skip and reject without
// inspecting error strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories
var (
	// ErrValidation means a submission is malformed or economically inconsistent.
	ErrValidation = errors.New("validation failed")

	// ErrPriceSource means an external price lookup failed or timed out.
	ErrPriceSource = errors.New("price source unavailable")

	// ErrDelivery means a webhook delivery attempt failed.
	ErrDelivery = errors.New("delivery failed")

	// ErrStorageConflict means a concurrent writer won a claim or CAS.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrConfiguration means user supplied configuration was rejected.
	ErrConfiguration = errors.New("invalid configuration")

	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Error codes returned to API clients.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodePriceSource     = "PRICE_SOURCE_UNAVAILABLE"
	CodeDelivery        = "DELIVERY_FAILED"
	CodeStorageConflict = "STORAGE_CONFLICT"
	CodeConfiguration   = "CONFIGURATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeRateLimit       = "RATE_LIMIT_EXCEEDED"
	CodeInternal        = "INTERNAL_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// DomainError carries a category, a stable code and optional details.
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether the category sentinel matches target.
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// WithDetails attaches details and returns the receiver.
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// WithRetryable sets the retry hint and returns the receiver.
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

func (e *DomainError) IsRetryable() bool {
	return e.Retryable
}

// ValidationError reports a rejected field.
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrValidation,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// ValidationErrors reports several rejected fields at once.
func ValidationErrors(messages []string) *DomainError {
	return &DomainError{
		Err:     ErrValidation,
		Code:    CodeValidation,
		Message: "signal failed validation",
		Details: map[string]interface{}{
			"errors": messages,
		},
	}
}

// TransientSourceError wraps a failed price lookup. It is always retryable.
func TransientSourceError(source, symbol string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrPriceSource,
		Code:      CodePriceSource,
		Message:   fmt.Sprintf("price source %s failed for %s", source, symbol),
		Retryable: true,
		Details: map[string]interface{}{
			"source": source,
			"symbol": symbol,
		},
	}
	if err != nil {
		de.Details["cause"] = err.Error()
	}
	return de
}

// DeliveryError describes a failed webhook attempt. statusCode is zero for
// transport failures.
func DeliveryError(statusCode int, retryable bool, err error) *DomainError {
	msg := fmt.Sprintf("webhook delivery failed with status %d", statusCode)
	if statusCode == 0 && err != nil {
		msg = fmt.Sprintf("webhook delivery failed: %v", err)
	}
	return &DomainError{
		Err:       ErrDelivery,
		Code:      CodeDelivery,
		Message:   msg,
		Retryable: retryable,
		Details: map[string]interface{}{
			"status_code": statusCode,
		},
	}
}

// StorageConflictError reports a lost claim or compare-and-swap.
func StorageConflictError(resource, id string) *DomainError {
	return &DomainError{
		Err:     ErrStorageConflict,
		Code:    CodeStorageConflict,
		Message: fmt.Sprintf("%s %s was modified concurrently", resource, id),
	}
}

// ConfigurationError reports rejected user configuration such as webhook
// headers or subscribed event types.
func ConfigurationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrConfiguration,
		Code:    CodeConfiguration,
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NotFoundError creates a not found error for the named resource.
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    strings.ToUpper(strings.ReplaceAll(resource, " ", "_")) + "_NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func UnauthorizedError(message string) *DomainError {
	return &DomainError{Err: ErrUnauthorized, Code: CodeUnauthorized, Message: message}
}

func ForbiddenError(message string) *DomainError {
	return &DomainError{Err: ErrForbidden, Code: CodeForbidden, Message: message}
}

// ConflictError reports a state conflict, e.g. closing an already closed signal.
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    CodeConflict,
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

func RateLimitError(limitedBy string) *DomainError {
	return &DomainError{
		Err:     ErrRateLimit,
		Code:    CodeRateLimit,
		Message: "rate limit exceeded",
		Details: map[string]interface{}{
			"limited_by": limitedBy,
		},
	}
}

// InternalError wraps an unexpected failure, usually storage.
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Code:    CodeInternal,
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{"cause": err.Error()}
	}
	return de
}

// ServiceUnavailableError marks a dependency outage. It is retryable.
func ServiceUnavailableError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrUnavailable,
		Code:      CodeUnavailable,
		Message:   fmt.Sprintf("%s service is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{"cause": err.Error()}
	}
	return de
}

func IsValidation(err error) bool      { return errors.Is(err, ErrValidation) }
func IsPriceSource(err error) bool     { return errors.Is(err, ErrPriceSource) }
func IsDelivery(err error) bool        { return errors.Is(err, ErrDelivery) }
func IsStorageConflict(err error) bool { return errors.Is(err, ErrStorageConflict) }
func IsConfiguration(err error) bool   { return errors.Is(err, ErrConfiguration) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool    { return errors.Is(err, ErrUnauthorized) }
func IsForbidden(err error) bool       { return errors.Is(err, ErrForbidden) }
func IsConflict(err error) bool        { return errors.Is(err, ErrConflict) }
func IsRateLimit(err error) bool       { return errors.Is(err, ErrRateLimit) }

// IsRetryable reports whether err carries a retry hint.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from a domain error.
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error.
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
