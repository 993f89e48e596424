package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/pkg/auth"
	"github.com/signal-bridge/signal_service/pkg/logger"
	"github.com/signal-bridge/signal_service/pkg/metrics"
	"github.com/signal-bridge/signal_service/pkg/ratelimit"
)

// Context keys set by the middleware chain.
const (
	ContextRequestID  = "request_id"
	ContextLogger     = "logger"
	ContextProvider   = "provider"
	ContextProviderID = "provider_id"
	ContextIsAdmin    = "is_admin"
)

const (
	MaxRequestSize = 1 << 20 // 1MB

	APIKeyHeader = "X-API-Key"
)

// ProviderAuthenticator resolves an API key to an active provider.
type ProviderAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*entities.Provider, error)
}

// IngestLimiter checks the shared per-IP and per-provider ingestion windows.
type IngestLimiter interface {
	Check(ctx context.Context, ip, providerID string) (*ratelimit.CheckResult, error)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestSizeLimit limits the size of incoming requests
func RequestSizeLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestSize)
		c.Next()
	}
}

// Logger logs HTTP requests with structured logging
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		if raw != "" {
			path = path + "?" + raw
		}

		requestLogger := log.ForRequest(c.GetString(ContextRequestID), c.Request.Method, path)
		c.Set(ContextLogger, requestLogger)

		c.Next()

		fields := []interface{}{
			"status_code", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"response_size", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			requestLogger.Errorw("HTTP Request", fields...)
			return
		}
		requestLogger.Infow("HTTP Request", fields...)
	}
}

// Recovery handles panics and returns 500 errors
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString(ContextRequestID)
				log.ForRequest(requestID, c.Request.Method, c.Request.URL.Path).Errorw("Panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, entities.ErrorResponse{
					Code:    "INTERNAL_ERROR",
					Message: "Internal server error",
					Details: map[string]interface{}{"request_id": requestID},
				})
			}
		}()
		c.Next()
	}
}

// CORS handles Cross-Origin Resource Sharing
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				c.Header("Access-Control-Allow-Origin", origin)
				break
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// Metrics records request counts and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// RateLimit applies an in-process token bucket per client IP.
func RateLimit(requestsPerMinute int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	limiter := ratelimit.NewKeyedLimiter(float64(requestsPerMinute)/60, requestsPerMinute, 10*time.Minute)
	var calls atomic.Int64

	return func(c *gin.Context) {
		if calls.Add(1)%1000 == 0 {
			go limiter.Sweep()
		}
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			abort(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

// IngestRateLimit applies the redis-backed tiers to signal ingestion. It
// must run after provider authentication. Redis errors fail open.
func IngestRateLimit(limiter IngestLimiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		providerID := ""
		if id, ok := ProviderID(c); ok {
			providerID = id.String()
		}
		res, err := limiter.Check(c.Request.Context(), c.ClientIP(), providerID)
		if err != nil {
			log.Warn("Ingest rate limit check failed", "error", err)
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			abort(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded for "+res.LimitedBy)
			return
		}
		c.Next()
	}
}

// ProviderAuth requires a valid X-API-Key and stores the provider on the context.
func ProviderAuth(authenticator ProviderAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if apiKey == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
			return
		}
		provider, err := authenticator.Authenticate(c.Request.Context(), apiKey)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
			return
		}
		SetProvider(c, provider)
		c.Next()
	}
}

// AdminAuth requires a bearer token with the admin role.
func AdminAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, jwtSecret)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Valid admin token required")
			return
		}
		if !claims.IsAdmin() {
			abort(c, http.StatusForbidden, "FORBIDDEN", "Admin access required")
			return
		}
		c.Set(ContextIsAdmin, true)
		c.Next()
	}
}

// ProviderOrAdmin accepts either an admin bearer token or a provider API key.
func ProviderOrAdmin(authenticator ProviderAuthenticator, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			if claims, ok := bearerClaims(c, jwtSecret); ok && claims.IsAdmin() {
				c.Set(ContextIsAdmin, true)
				c.Next()
				return
			}
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin token")
			return
		}
		ProviderAuth(authenticator)(c)
	}
}

func bearerClaims(c *gin.Context, secret string) (*auth.Claims, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, false
	}
	claims, err := auth.ValidateToken(strings.TrimSpace(parts[1]), secret)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// SetProvider stores an authenticated provider on the context.
func SetProvider(c *gin.Context, p *entities.Provider) {
	c.Set(ContextProvider, p)
	c.Set(ContextProviderID, p.ID)
}

// ProviderID returns the authenticated provider id, if any.
func ProviderID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextProviderID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// IsAdmin reports whether the request carries an admin token.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextIsAdmin)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: map[string]interface{}{"request_id": c.GetString(ContextRequestID)},
	})
}
