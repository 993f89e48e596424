package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/signal-bridge/signal_service/internal/domain/services/historical"
	"github.com/signal-bridge/signal_service/internal/domain/services/provider"
	signalsvc "github.com/signal-bridge/signal_service/internal/domain/services/signal"
	"github.com/signal-bridge/signal_service/internal/domain/services/stats"
	"github.com/signal-bridge/signal_service/internal/domain/services/validation"
	"github.com/signal-bridge/signal_service/internal/domain/services/webhook"
	"github.com/signal-bridge/signal_service/internal/infrastructure/adapters/email"
	"github.com/signal-bridge/signal_service/internal/infrastructure/adapters/eventstream"
	"github.com/signal-bridge/signal_service/internal/infrastructure/adapters/pricefeed"
	"github.com/signal-bridge/signal_service/internal/infrastructure/cache"
	"github.com/signal-bridge/signal_service/internal/infrastructure/config"
	"github.com/signal-bridge/signal_service/internal/infrastructure/repositories"
	"github.com/signal-bridge/signal_service/internal/workers/signal_expiry"
	"github.com/signal-bridge/signal_service/internal/workers/signal_poller"
	"github.com/signal-bridge/signal_service/internal/workers/stats_aggregator"
	"github.com/signal-bridge/signal_service/internal/workers/webhook_dispatcher"
	"github.com/signal-bridge/signal_service/pkg/graceful"
	"github.com/signal-bridge/signal_service/pkg/logger"
	"github.com/signal-bridge/signal_service/pkg/ratelimit"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger
	Redis  cache.RedisClient

	// Repositories
	SignalRepo          *repositories.SignalRepository
	ProviderRepo        *repositories.ProviderRepository
	WebhookRepo         *repositories.WebhookRepository
	NotificationLogRepo *repositories.NotificationLogRepository
	StatsRepo           *repositories.StatsRepository
	SnapshotRepo        *repositories.SnapshotRepository

	// Domain services
	Validator       *validation.Validator
	SignalService   *signalsvc.Service
	ProviderService *provider.Service
	WebhookService  *webhook.Service
	StatsService    *stats.Service

	HistoricalResolver *historical.Resolver

	// Collaborators
	PriceRouter   *pricefeed.Router
	BinanceStream *pricefeed.BinanceStream
	EventStream   *eventstream.Publisher
	Alerter       *email.Alerter
	TieredLimiter *ratelimit.TieredLimiter

	// Workers
	Poller          *signal_poller.Scheduler
	Dispatcher      *webhook_dispatcher.Dispatcher
	StatsAggregator *stats_aggregator.Worker
	Expiry          *signal_expiry.Worker

	streamCancel context.CancelFunc
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()
	c := &Container{Config: cfg, DB: db, Logger: log}

	// Repositories
	c.SignalRepo = repositories.NewSignalRepository(db, log)
	c.ProviderRepo = repositories.NewProviderRepository(db, log)
	c.WebhookRepo = repositories.NewWebhookRepository(db, log)
	c.NotificationLogRepo = repositories.NewNotificationLogRepository(db, log)
	c.StatsRepo = repositories.NewStatsRepository(db, log)
	c.SnapshotRepo = repositories.NewSnapshotRepository(db, log)

	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLog)
		if err != nil {
			log.Warn("Redis unavailable, continuing without price cache and tiered limits", "error", err)
		} else {
			c.Redis = redisClient
			c.TieredLimiter = ratelimit.NewTieredLimiter(redisClient.Client(), ratelimit.DefaultTieredConfig(), zapLog)
		}
	}

	// Domain services
	c.Validator = validation.NewValidator(validationConfig(cfg.Signals))
	c.ProviderService = provider.NewService(c.ProviderRepo, cfg.Security.EncryptionKey, log)
	breaker := webhook.NewBreaker(cfg.Dispatcher.FailureThreshold)
	c.WebhookService = webhook.NewService(c.WebhookRepo, c.NotificationLogRepo, breaker, log)
	c.StatsService = stats.NewService(c.SignalRepo, c.ProviderRepo, c.StatsRepo, log)

	alerter, err := email.NewAlerter(email.Config{
		Provider:   cfg.Email.Provider,
		APIKey:     cfg.Email.APIKey,
		FromEmail:  cfg.Email.FromEmail,
		FromName:   cfg.Email.FromName,
		Recipients: cfg.Email.AlertRecipients,
	}, zapLog)
	if err != nil {
		return nil, fmt.Errorf("failed to configure alert email: %w", err)
	}
	c.Alerter = alerter

	c.Dispatcher, err = webhook_dispatcher.NewDispatcher(webhook_dispatcher.Config{
		WorkerCount:    cfg.Dispatcher.WorkerCount,
		QueueSize:      cfg.Dispatcher.QueueSize,
		RequestTimeout: cfg.Dispatcher.RequestTimeout,
		MaxAttempts:    cfg.Dispatcher.MaxAttempts,
		InitialBackoff: cfg.Dispatcher.InitialBackoff,
		MaxBackoff:     cfg.Dispatcher.MaxBackoff,
		Multiplier:     cfg.Dispatcher.Multiplier,
	}, c.WebhookRepo, c.NotificationLogRepo, c.ProviderService, breaker, alerter, zapLog.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook dispatcher: %w", err)
	}
	c.WebhookService.SetTestSender(c.Dispatcher)

	c.StatsAggregator = stats_aggregator.NewWorker(stats_aggregator.Config{
		Schedule:        cfg.Stats.Schedule,
		TriggerDebounce: cfg.Stats.TriggerDebounce,
	}, c.StatsService, zapLog.Named("stats"))

	if cfg.Kafka.Enabled {
		c.EventStream, err = eventstream.NewPublisher(eventstream.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, zapLog.Named("eventstream"))
		if err != nil {
			return nil, fmt.Errorf("failed to create event stream publisher: %w", err)
		}
	}

	sink := c.eventSink()
	c.SignalService = signalsvc.NewService(c.SignalRepo, c.Validator, sink, log)
	c.SignalService.SetSnapshots(c.SnapshotRepo)

	feeds := NewPriceFeedBuilder(cfg.PriceFeeds, c.Redis, zapLog.Named("pricefeed"))
	c.PriceRouter, c.BinanceStream = feeds.Build()
	c.HistoricalResolver = historical.NewResolver(c.SignalRepo, feeds.Candles(), sink, log.With("component", "historical"))

	c.Poller, err = signal_poller.NewScheduler(
		pollerConfig(cfg.Poller),
		c.SignalRepo,
		c.SnapshotRepo,
		c.PriceRouter,
		signal_poller.NewProximityCadence(cadenceConfig(cfg.Poller)),
		sink,
		zapLog.Named("poller"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll scheduler: %w", err)
	}

	c.Expiry = signal_expiry.NewWorker(signal_expiry.Config{
		Schedule:        cfg.Signals.ExpirySchedule,
		MaxOpenDuration: cfg.Signals.MaxOpenDuration,
		BatchSize:       cfg.Signals.ExpiryBatchSize,
	}, c.SignalRepo, sink, zapLog.Named("expiry"))

	return c, nil
}

// eventSink fans committed events out to delivery, stats and the stream.
func (c *Container) eventSink() signalsvc.EventSink {
	sinks := signalsvc.FanOut{c.Dispatcher, signalsvc.TerminalTrigger{Stats: c.StatsAggregator}}
	if c.EventStream != nil {
		sinks = append(sinks, c.EventStream)
	}
	return sinks
}

// StartWorkers starts every enabled background component.
func (c *Container) StartWorkers(ctx context.Context) error {
	cfg := c.Config
	if cfg.Dispatcher.Enabled {
		if err := c.Dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("start dispatcher: %w", err)
		}
	}
	if cfg.Stats.Enabled {
		if err := c.StatsAggregator.Start(ctx); err != nil {
			return fmt.Errorf("start stats aggregator: %w", err)
		}
	}
	if err := c.Expiry.Start(ctx); err != nil {
		return fmt.Errorf("start expiry worker: %w", err)
	}
	if c.BinanceStream != nil {
		streamCtx, cancel := context.WithCancel(ctx)
		c.streamCancel = cancel
		go func() {
			if err := c.BinanceStream.Run(streamCtx); err != nil && streamCtx.Err() == nil {
				c.Logger.Error("Binance stream stopped", "error", err)
			}
		}()
	}
	if cfg.Poller.Enabled {
		if err := c.Poller.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}
	return nil
}

// RegisterShutdown orders shutdown so producers stop before consumers.
func (c *Container) RegisterShutdown(sm *graceful.ShutdownManager) {
	if c.Config.Poller.Enabled {
		sm.Register("poller", c.Poller)
	}
	sm.Register("expiry", c.Expiry)
	if c.streamCancel != nil {
		sm.Register("binance_stream", shutdownFunc(func(time.Duration) error {
			c.streamCancel()
			return nil
		}))
	}
	if c.Config.Dispatcher.Enabled {
		sm.Register("dispatcher", c.Dispatcher)
	}
	if c.Config.Stats.Enabled {
		sm.Register("stats_aggregator", c.StatsAggregator)
	}
	if c.EventStream != nil {
		sm.Register("event_stream", c.EventStream)
	}
	if c.Redis != nil {
		sm.RegisterCloser("redis", c.Redis)
	}
	sm.RegisterCloser("database", c.DB)
}

type shutdownFunc func(time.Duration) error

func (f shutdownFunc) Shutdown(timeout time.Duration) error { return f(timeout) }

func validationConfig(cfg config.SignalsConfig) validation.Config {
	v := validation.DefaultConfig()
	if cfg.MinRRRatio > 0 {
		v.MinRRRatio = decimal.NewFromFloat(cfg.MinRRRatio)
	}
	if cfg.MaxRRRatio > 0 {
		v.MaxRRRatio = decimal.NewFromFloat(cfg.MaxRRRatio)
	}
	if cfg.StaleAfter > 0 {
		v.StaleAfter = cfg.StaleAfter
	}
	if cfg.MaxFutureSkew > 0 {
		v.MaxFutureSkew = cfg.MaxFutureSkew
	}
	if cfg.DuplicateTolerancePct > 0 {
		v.DuplicateTolerance = decimal.NewFromFloat(cfg.DuplicateTolerancePct)
	}
	return v
}

func pollerConfig(cfg config.PollerConfig) signal_poller.Config {
	return signal_poller.Config{
		PollInterval:      cfg.PollInterval,
		BatchSize:         cfg.BatchSize,
		WorkerCount:       cfg.WorkerCount,
		PriceTimeout:      cfg.PriceTimeout,
		Lease:             cfg.Lease,
		FailureBackoff:    cfg.FailureBackoff,
		MaxFailureBackoff: cfg.MaxFailureBackoff,
		StaleWarnAfter:    cfg.StaleWarnAfter,
		SnapshotInterval:  cfg.SnapshotInterval,
	}
}

func cadenceConfig(cfg config.PollerConfig) signal_poller.CadenceConfig {
	c := signal_poller.DefaultCadenceConfig()
	if cfg.CloseInterval > 0 {
		c.CloseInterval = cfg.CloseInterval
	}
	if cfg.MidInterval > 0 {
		c.MidInterval = cfg.MidInterval
	}
	if cfg.FarInterval > 0 {
		c.FarInterval = cfg.FarInterval
	}
	if cfg.PastTP1Factor > 0 {
		c.PastTP1Factor = cfg.PastTP1Factor
	}
	if cfg.MinInterval > 0 {
		c.MinInterval = cfg.MinInterval
	}
	if cfg.MaxInterval > 0 {
		c.MaxInterval = cfg.MaxInterval
	}
	return c
}

// Ping reports dependency health for the readiness endpoint.
func (c *Container) Ping(ctx context.Context) map[string]string {
	out := map[string]string{"database": "ok"}
	if err := c.DB.PingContext(ctx); err != nil {
		out["database"] = err.Error()
	}
	if c.Redis != nil {
		out["redis"] = "ok"
		if err := c.Redis.Ping(ctx); err != nil {
			out["redis"] = err.Error()
		}
	}
	return out
}
