package graceful

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signal-bridge/signal_service/pkg/logger"
)

// Shutdowner is implemented by every background worker.
type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

type namedShutdowner struct {
	name string
	s    Shutdowner
}

type namedCloser struct {
	name string
	c    io.Closer
}

// ShutdownManager stops workers first, then the HTTP server, then closes
// shared resources in registration order.
type ShutdownManager struct {
	server      *http.Server
	shutdowners []namedShutdowner
	closers     []namedCloser
	timeout     time.Duration
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, timeout time.Duration, logger *logger.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{server: server, timeout: timeout, logger: logger}
}

func (sm *ShutdownManager) Register(name string, s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, namedShutdowner{name: name, s: s})
}

// RegisterCloser adds a resource such as the database or a producer.
func (sm *ShutdownManager) RegisterCloser(name string, c io.Closer) {
	sm.closers = append(sm.closers, namedCloser{name: name, c: c})
}

// WaitForShutdown blocks until SIGINT or SIGTERM and then shuts down.
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	sm.logger.Info("Shutting down gracefully...", "signal", sig.String())
	sm.Shutdown()
}

// Shutdown runs the shutdown sequence once.
func (sm *ShutdownManager) Shutdown() {
	for _, ns := range sm.shutdowners {
		sm.logger.Info("Stopping component", "component", ns.name)
		if err := ns.s.Shutdown(sm.timeout); err != nil {
			sm.logger.Warn("Component shutdown error", "component", ns.name, "error", err)
		}
	}

	if sm.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	for _, nc := range sm.closers {
		if err := nc.c.Close(); err != nil {
			sm.logger.Warn("Close error", "resource", nc.name, "error", err)
		}
	}
	sm.logger.Info("Shutdown complete")
}
