package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TieredConfig defines the redis-backed sliding windows. A zero limit
// disables the tier.
type TieredConfig struct {
	GlobalLimit    int64
	GlobalWindow   time.Duration
	IPLimit        int64
	IPWindow       time.Duration
	ProviderLimit  int64
	ProviderWindow time.Duration
}

// DefaultTieredConfig limits signal ingestion per provider and per IP.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		GlobalLimit:    5000,
		GlobalWindow:   time.Minute,
		IPLimit:        300,
		IPWindow:       time.Minute,
		ProviderLimit:  120,
		ProviderWindow: time.Minute,
	}
}

// CheckResult is the outcome of a limiter check.
type CheckResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	LimitedBy  string
}

// TieredLimiter checks global, per-IP and per-provider windows in that order
// using sorted sets in redis, so limits hold across replicas.
type TieredLimiter struct {
	redis  *redis.Client
	config TieredConfig
	logger *zap.Logger
}

func NewTieredLimiter(client *redis.Client, config TieredConfig, logger *zap.Logger) *TieredLimiter {
	return &TieredLimiter{redis: client, config: config, logger: logger}
}

type tier struct {
	name   string
	key    string
	limit  int64
	window time.Duration
}

// Check records one request and reports whether it is within every tier.
func (l *TieredLimiter) Check(ctx context.Context, ip, providerID string) (*CheckResult, error) {
	tiers := []tier{
		{"global", "all", l.config.GlobalLimit, l.config.GlobalWindow},
		{"ip", ip, l.config.IPLimit, l.config.IPWindow},
		{"provider", providerID, l.config.ProviderLimit, l.config.ProviderWindow},
	}
	for _, t := range tiers {
		if t.limit <= 0 || t.key == "" {
			continue
		}
		allowed, remaining, err := l.checkWindow(ctx, t)
		if err != nil {
			return nil, err
		}
		if !allowed {
			l.logger.Debug("rate limit exceeded", zap.String("tier", t.name), zap.String("key", t.key))
			return &CheckResult{Allowed: false, Remaining: remaining, RetryAfter: t.window, LimitedBy: t.name}, nil
		}
	}
	return &CheckResult{Allowed: true, Remaining: -1}, nil
}

func (l *TieredLimiter) checkWindow(ctx context.Context, t tier) (bool, int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", t.name, t.key)
	now := time.Now()
	windowStart := fmt.Sprintf("%d", now.Add(-t.window).UnixNano())

	pipe := l.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", windowStart)
	count := pipe.ZCount(ctx, key, windowStart, "+inf")
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, t.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	n := count.Val()
	remaining := t.limit - n - 1
	if remaining < 0 {
		remaining = 0
	}
	return n < t.limit, remaining, nil
}
