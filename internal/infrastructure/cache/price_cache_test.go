package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
)

type fakeRedis struct {
	data map[string][]byte
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = b
	f.ttls[key] = expiration
	return nil
}

func (f *fakeRedis) Get(_ context.Context, key string, dest interface{}) error {
	b, ok := f.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (f *fakeRedis) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) Ping(context.Context) error { return nil }
func (f *fakeRedis) Close() error               { return nil }
func (f *fakeRedis) Client() *redis.Client      { return nil }

func TestPriceCache_RoundTripWithTTL(t *testing.T) {
	rdb := newFakeRedis()
	c := NewPriceCache(rdb, 0)

	miss, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, miss)

	q := &entities.PriceQuote{
		Symbol:     "BTCUSDT",
		AssetClass: entities.AssetClassCrypto,
		Price:      decimal.RequireFromString("64000.25"),
		Bid:        decimal.NewNullDecimal(decimal.RequireFromString("64000.2")),
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:     "binance",
	}
	require.NoError(t, c.Set(context.Background(), q))
	assert.Equal(t, 10*time.Second, rdb.ttls["price:BTCUSDT"])

	got, err := c.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Price.Equal(q.Price))
	assert.True(t, got.Bid.Valid)
	assert.False(t, got.Ask.Valid)
	assert.Equal(t, "binance", got.Source)
}
