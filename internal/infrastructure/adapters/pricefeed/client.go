// Package pricefeed fetches market prices from public data sources.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/pkg/metrics"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodySize    = 1 << 20
)

// ErrNoPrice is returned when a source answers without a usable price.
var ErrNoPrice = errors.New("no price in response")

// SourceConfig configures one HTTP price source.
type SourceConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// restClient is the transport shared by the HTTP sources: a rate limiter in
// front of a circuit breaker in front of a timed http.Client.
type restClient struct {
	name           string
	cfg            SourceConfig
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

func newRESTClient(name string, cfg SourceConfig, logger *zap.Logger) *restClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoPrice)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Price source circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &restClient{
		name:           name,
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:         logger,
	}
}

// getJSON performs a GET and decodes the response into dest. Every failure
// is wrapped as a transient source error for symbol.
func (c *restClient) getJSON(ctx context.Context, symbol, url string, dest interface{}) error {
	start := time.Now()
	err := c.get(ctx, url, dest)
	metrics.RecordPriceRequest(c.name, err, time.Since(start))
	if err != nil {
		c.logger.Debug("Price request failed",
			zap.String("source", c.name),
			zap.String("symbol", symbol),
			zap.Error(err))
		return domainerrors.TransientSourceError(c.name, symbol, err)
	}
	return nil
}

func (c *restClient) get(ctx context.Context, url string, dest interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, url, dest)
	})
	return err
}

func (c *restClient) do(ctx context.Context, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "signal-service/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// State reports the breaker state for health output.
func (c *restClient) State() gobreaker.State {
	return c.circuitBreaker.State()
}
