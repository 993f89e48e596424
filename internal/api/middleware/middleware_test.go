package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/pkg/auth"
	"github.com/signal-bridge/signal_service/pkg/logger"
	"github.com/signal-bridge/signal_service/pkg/ratelimit"
)

const secret = "middleware-secret"

type staticAuth struct {
	provider *entities.Provider
}

func (s staticAuth) Authenticate(_ context.Context, token string) (*entities.Provider, error) {
	if token != "good-key" {
		return nil, errors.New("invalid api key")
	}
	return s.provider, nil
}

type fixedLimiter struct {
	result *ratelimit.CheckResult
	err    error
	seen   []string
}

func (f *fixedLimiter) Check(_ context.Context, _, providerID string) (*ratelimit.CheckResult, error) {
	f.seen = append(f.seen, providerID)
	return f.result, f.err
}

func serve(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.168.1.1:12345"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksExcessRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(3))
	router.GET("/signals", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/signals", nil).Code, "request %d", i+1)
	}
	w := serve(router, http.MethodGet, "/signals", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestProviderAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := &entities.Provider{ID: uuid.New(), Name: "Alpha", IsActive: true}

	router := gin.New()
	router.Use(RequestID())
	router.GET("/me", ProviderAuth(staticAuth{provider: p}), func(c *gin.Context) {
		id, ok := ProviderID(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.String())
	})

	w := serve(router, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "request_id")

	w = serve(router, http.MethodGet, "/me", map[string]string{APIKeyHeader: "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, http.MethodGet, "/me", map[string]string{APIKeyHeader: "good-key"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, p.ID.String(), w.Body.String())
}

func TestProviderOrAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := &entities.Provider{ID: uuid.New(), IsActive: true}

	router := gin.New()
	router.DELETE("/signals/:id", ProviderOrAdmin(staticAuth{provider: p}, secret), func(c *gin.Context) {
		if IsAdmin(c) {
			c.String(http.StatusOK, "admin")
			return
		}
		c.String(http.StatusOK, "provider")
	})

	token, _, err := auth.GenerateAdminToken("ops", secret, time.Hour)
	require.NoError(t, err)

	w := serve(router, http.MethodDelete, "/signals/1", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, "admin", w.Body.String())

	w = serve(router, http.MethodDelete, "/signals/1", map[string]string{APIKeyHeader: "good-key"})
	assert.Equal(t, "provider", w.Body.String())

	w = serve(router, http.MethodDelete, "/signals/1", map[string]string{"Authorization": "Bearer junk", APIKeyHeader: "good-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, _, err := auth.GenerateAdminToken("ops", "another-secret", time.Hour)
	require.NoError(t, err)
	w = serve(router, http.MethodDelete, "/signals/1", map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := &entities.Provider{ID: uuid.New(), IsActive: true}

	tests := []struct {
		name    string
		limiter *fixedLimiter
		want    int
	}{
		{"allowed", &fixedLimiter{result: &ratelimit.CheckResult{Allowed: true}}, http.StatusOK},
		{"denied", &fixedLimiter{result: &ratelimit.CheckResult{LimitedBy: "provider", RetryAfter: time.Minute}}, http.StatusTooManyRequests},
		{"redis down fails open", &fixedLimiter{err: errors.New("connection refused")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/signals", ProviderAuth(staticAuth{provider: p}), IngestRateLimit(tt.limiter, logger.Nop()), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			w := serve(router, http.MethodPost, "/signals", map[string]string{APIKeyHeader: "good-key"})
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, []string{p.ID.String()}, tt.limiter.seen)
			if tt.want == http.StatusTooManyRequests {
				assert.Equal(t, "60", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), Recovery(logger.Nop()))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
