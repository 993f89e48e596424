package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

// Error codes used by handlers for failures that never reach a service.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidID      = "INVALID_ID"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

const (
	MsgInvalidRequest = "Invalid request payload"
	MsgInternalError  = "Internal server error"
)

// statusFor maps a domain error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case domainerrors.IsValidation(err), domainerrors.IsConfiguration(err):
		return http.StatusBadRequest
	case domainerrors.IsNotFound(err):
		return http.StatusNotFound
	case domainerrors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case domainerrors.IsForbidden(err):
		return http.StatusForbidden
	case domainerrors.IsConflict(err), domainerrors.IsStorageConflict(err):
		return http.StatusConflict
	case errors.Is(err, domainerrors.ErrRateLimit):
		return http.StatusTooManyRequests
	case domainerrors.IsPriceSource(err), errors.Is(err, domainerrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as an ErrorResponse. Internal failures are logged
// and their message is not exposed.
func handleError(c *gin.Context, err error) {
	status := statusFor(err)

	var de *domainerrors.DomainError
	if !errors.As(err, &de) {
		de = domainerrors.InternalError(MsgInternalError, err)
	}
	if status == http.StatusInternalServerError {
		requestLogger(c).Error("Request failed", "error", err)
		_ = c.Error(err)
		respondError(c, status, ErrCodeInternalError, MsgInternalError, nil)
		return
	}
	respondError(c, status, de.Code, de.Message, de.Details)
}
