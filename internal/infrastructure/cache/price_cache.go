package cache

import (
	"context"
	"errors"
	"time"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

const priceKeyPrefix = "price:"

// PriceCache stores the latest quote per symbol for a short TTL so that
// signals on the same symbol share one upstream request.
type PriceCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewPriceCache(client RedisClient, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PriceCache{client: client, ttl: ttl}
}

// Get returns the cached quote, or nil on a miss.
func (c *PriceCache) Get(ctx context.Context, symbol string) (*entities.PriceQuote, error) {
	var q entities.PriceQuote
	if err := c.client.Get(ctx, priceKeyPrefix+symbol, &q); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &q, nil
}

func (c *PriceCache) Set(ctx context.Context, q *entities.PriceQuote) error {
	return c.client.Set(ctx, priceKeyPrefix+q.Symbol, q, c.ttl)
}
