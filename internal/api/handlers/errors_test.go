package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domainerrors.ValidationError("symbol", "required"), http.StatusBadRequest},
		{"configuration", domainerrors.ConfigurationError("url", "bad"), http.StatusBadRequest},
		{"not found", domainerrors.NotFoundError("signal"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", domainerrors.NotFoundError("signal")), http.StatusNotFound},
		{"unauthorized", domainerrors.UnauthorizedError("no key"), http.StatusUnauthorized},
		{"forbidden", domainerrors.ForbiddenError("not yours"), http.StatusForbidden},
		{"conflict", domainerrors.ConflictError("signal", "closed"), http.StatusConflict},
		{"storage conflict", domainerrors.StorageConflictError("signal", "1"), http.StatusConflict},
		{"price source", domainerrors.TransientSourceError("binance", "BTCUSDT", errors.New("timeout")), http.StatusServiceUnavailable},
		{"internal", domainerrors.InternalError("boom", nil), http.StatusInternalServerError},
		{"plain", errors.New("sql: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHandleError_HidesInternalMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	handleError(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	var body entities.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeInternalError, body.Code)
}

func TestHandleError_KeepsValidationDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	handleError(c, validateStruct(&entities.CreateWebhookRequest{URL: "not a url"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body entities.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domainerrors.CodeValidation, body.Code)
	assert.Contains(t, fmt.Sprint(body.Details["errors"]), "URL failed url")
}

type pinger map[string]string

func (p pinger) Ping(context.Context) map[string]string { return p }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		deps   pinger
		status int
		want   string
	}{
		{"healthy", pinger{"database": "ok", "redis": "ok"}, http.StatusOK, "ok"},
		{"redis down", pinger{"database": "ok", "redis": "dial tcp: refused"}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			h := NewHealthHandler(tt.deps, zap.NewNop(), "test")
			router.GET("/health", h.Health)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, w.Code)

			var body entities.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			assert.Equal(t, "test", body.Version)
		})
	}
}
