package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/signal-bridge/signal_service/internal/api/handlers"
	"github.com/signal-bridge/signal_service/internal/api/middleware"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

// ProviderAPI serves provider admin and authenticates API keys.
type ProviderAPI interface {
	handlers.ProviderService
	middleware.ProviderAuthenticator
}

// Deps are the services behind /api/v1.
type Deps struct {
	Signals       handlers.SignalService
	Providers     ProviderAPI
	Webhooks      handlers.WebhookService
	Reports       handlers.ReportService
	Historical    handlers.HistoricalService
	IngestLimiter middleware.IngestLimiter
	JWTSecret     string
	Logger        *logger.Logger
}

// Register mounts the versioned API on group.
func Register(v1 *gin.RouterGroup, d Deps) {
	signalHandlers := handlers.NewSignalHandlers(d.Signals, d.Providers)
	providerHandlers := handlers.NewProviderHandlers(d.Providers)
	webhookHandlers := handlers.NewWebhookHandlers(d.Webhooks)
	reportHandlers := handlers.NewReportHandlers(d.Reports)

	providerAuth := middleware.ProviderAuth(d.Providers)
	ingestLimit := middleware.IngestRateLimit(d.IngestLimiter, d.Logger)

	// Ingestion
	v1.POST("/signals", providerAuth, ingestLimit, signalHandlers.Submit)
	v1.POST("/webhook/tradingview", ingestLimit, signalHandlers.TradingView)

	// Signals
	signals := v1.Group("/signals")
	{
		signals.GET("", signalHandlers.List)
		signals.GET("/:id", signalHandlers.Get)
		signals.GET("/:id/replay", signalHandlers.Replay)
		signals.DELETE("/:id", middleware.ProviderOrAdmin(d.Providers, d.JWTSecret), signalHandlers.Close)
	}

	// Providers
	v1.GET("/providers", providerHandlers.List)
	v1.GET("/providers/:id", providerHandlers.Get)

	admin := v1.Group("/admin", middleware.AdminAuth(d.JWTSecret))
	{
		admin.POST("/providers", providerHandlers.Register)
		admin.PATCH("/providers/:id", providerHandlers.Update)
		if d.Historical != nil {
			admin.POST("/signals/resolve-historical", handlers.NewHistoricalHandlers(d.Historical).Resolve)
		}
	}

	// Reports
	reports := v1.Group("/reports")
	{
		reports.GET("/performance", reportHandlers.Performance)
		reports.GET("/equity-curve", reportHandlers.EquityCurve)
		reports.GET("/leaderboard", reportHandlers.Leaderboard)
		reports.GET("/leaderboard/all-time", reportHandlers.AllTimeLeaderboard)
	}

	// Outbound webhooks
	webhooks := v1.Group("/webhooks", providerAuth)
	{
		webhooks.GET("", webhookHandlers.List)
		webhooks.POST("", webhookHandlers.Create)
		webhooks.GET("/:id", webhookHandlers.Get)
		webhooks.PUT("/:id", webhookHandlers.Update)
		webhooks.DELETE("/:id", webhookHandlers.Delete)
		webhooks.POST("/:id/reset", webhookHandlers.Reset)
		webhooks.POST("/:id/test", webhookHandlers.Test)
		webhooks.GET("/:id/deliveries", webhookHandlers.Deliveries)
	}
}
