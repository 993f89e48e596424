package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	_ "github.com/signal-bridge/signal_service/docs"
	"github.com/signal-bridge/signal_service/internal/api/routes"
	"github.com/signal-bridge/signal_service/internal/infrastructure/config"
	"github.com/signal-bridge/signal_service/internal/infrastructure/database"
	"github.com/signal-bridge/signal_service/internal/infrastructure/di"
	"github.com/signal-bridge/signal_service/pkg/auth"
	"github.com/signal-bridge/signal_service/pkg/graceful"
	"github.com/signal-bridge/signal_service/pkg/logger"
	"github.com/signal-bridge/signal_service/pkg/metrics"
	"github.com/signal-bridge/signal_service/pkg/tracing"
)

// @title Signal Service API
// @version 1.0
// @description Trading signal ingestion, live tracking, webhooks and provider performance.

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and an admin JWT.

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()

	if len(os.Args) > 1 && os.Args[1] == "admin-token" {
		if err := issueAdminToken(cfg, os.Args[2:]); err != nil {
			log.Fatal("Failed to issue admin token", "error", err)
		}
		return
	}

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled && cfg.Environment != "test",
		ServiceName:  "signal-service",
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer func() { _ = tracingShutdown(context.Background()) }()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.StartWorkers(ctx); err != nil {
		log.Fatal("Failed to start workers", "error", err)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        routes.SetupRoutes(container),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"version", routes.Version,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	go recordPoolStats(ctx, db)

	sm := graceful.NewShutdownManager(server, time.Duration(cfg.Server.ShutdownTimeout)*time.Second, log)
	container.RegisterShutdown(sm)
	sm.WaitForShutdown()

	log.Info("Server exited gracefully")
}

func recordPoolStats(ctx context.Context, db *sqlx.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		}
	}
}

// issueAdminToken prints a signed admin token for the admin API.
func issueAdminToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", time.Duration(cfg.JWT.AdminTokenTTL)*time.Second, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, expiresAt, err := auth.GenerateAdminToken(*subject, cfg.JWT.Secret, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
