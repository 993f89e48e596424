package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/signal-bridge/signal_service/internal/api/handlers"
	"github.com/signal-bridge/signal_service/internal/api/middleware"
	"github.com/signal-bridge/signal_service/internal/infrastructure/di"
	"github.com/signal-bridge/signal_service/pkg/tracing"
)

// Version is reported by the health endpoints.
var Version = "dev"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	cfg := container.Config
	router := gin.New()

	// Global middleware, order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(container, container.Logger.Zap(), Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var ingestLimiter middleware.IngestLimiter
	if container.TieredLimiter != nil {
		ingestLimiter = container.TieredLimiter
	}

	Register(router.Group("/api/v1"), Deps{
		Signals:       container.SignalService,
		Providers:     container.ProviderService,
		Webhooks:      container.WebhookService,
		Reports:       container.StatsService,
		Historical:    container.HistoricalResolver,
		IngestLimiter: ingestLimiter,
		JWTSecret:     cfg.JWT.Secret,
		Logger:        container.Logger,
	})
	return router
}
