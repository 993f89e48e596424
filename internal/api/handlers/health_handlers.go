package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

// DependencyPinger reports the health of each backing dependency as
// name -> "ok" or an error message.
type DependencyPinger interface {
	Ping(ctx context.Context) map[string]string
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	pinger  DependencyPinger
	logger  *zap.Logger
	version string
}

func NewHealthHandler(pinger DependencyPinger, logger *zap.Logger, version string) *HealthHandler {
	return &HealthHandler{pinger: pinger, logger: logger, version: version}
}

// Liveness handles the liveness probe
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} entities.HealthResponse
// @Router /health/live [get]
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, entities.HealthResponse{Status: "ok", Version: h.version})
}

// Health pings the database and redis.
// @Summary Dependency health check
// @Description Returns 503 when any dependency fails its ping
// @Tags health
// @Produce json
// @Success 200 {object} entities.HealthResponse
// @Failure 503 {object} entities.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	deps := h.pinger.Ping(ctx)
	resp := entities.HealthResponse{Status: "ok", Version: h.version, Dependencies: deps}
	status := http.StatusOK
	for name, result := range deps {
		if result != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.logger.Warn("Health check failed", zap.String("dependency", name), zap.String("result", result))
		}
	}
	c.JSON(status, resp)
}
