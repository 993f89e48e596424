package pricefeed

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

// Source is one upstream price provider.
type Source interface {
	Name() string
	GetPrice(ctx context.Context, symbol string, assetClass entities.AssetClass) (*entities.PriceQuote, error)
}

// QuoteCache is a short-lived shared quote store.
type QuoteCache interface {
	Get(ctx context.Context, symbol string) (*entities.PriceQuote, error)
	Set(ctx context.Context, q *entities.PriceQuote) error
}

// Router picks sources by asset class. It answers from the cache when it
// can, then tries each source in order until one returns a price.
type Router struct {
	routes   map[entities.AssetClass][]Source
	fallback []Source
	cache    QuoteCache
	logger   *zap.Logger
}

func NewRouter(cache QuoteCache, logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[entities.AssetClass][]Source),
		cache:  cache,
		logger: logger,
	}
}

// Route appends sources to the chain for an asset class. Nil sources are
// skipped so disabled feeds can be passed through.
func (r *Router) Route(assetClass entities.AssetClass, sources ...Source) *Router {
	for _, s := range sources {
		if s != nil && !isNilSource(s) {
			r.routes[assetClass] = append(r.routes[assetClass], s)
		}
	}
	return r
}

// Fallback sets the chain used for asset classes without a route.
func (r *Router) Fallback(sources ...Source) *Router {
	for _, s := range sources {
		if s != nil && !isNilSource(s) {
			r.fallback = append(r.fallback, s)
		}
	}
	return r
}

func (r *Router) chain(assetClass entities.AssetClass) []Source {
	if c, ok := r.routes[assetClass]; ok && len(c) > 0 {
		return c
	}
	return r.fallback
}

func (r *Router) GetPrice(ctx context.Context, symbol string, assetClass entities.AssetClass) (*entities.PriceQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if r.cache != nil {
		q, err := r.cache.Get(ctx, symbol)
		if err != nil {
			r.logger.Debug("Price cache read failed", zap.String("symbol", symbol), zap.Error(err))
		} else if q != nil && q.Price.Sign() > 0 {
			return q, nil
		}
	}

	chain := r.chain(assetClass)
	if len(chain) == 0 {
		return nil, domainerrors.TransientSourceError("router", symbol, errors.New("no price source for asset class "+string(assetClass)))
	}

	var lastErr error
	for _, src := range chain {
		q, err := src.GetPrice(ctx, symbol, assetClass)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if q == nil || q.Price.Sign() <= 0 {
			lastErr = domainerrors.TransientSourceError(src.Name(), symbol, ErrNoPrice)
			continue
		}
		if q.AssetClass == "" {
			q.AssetClass = assetClass
		}
		if r.cache != nil {
			if err := r.cache.Set(ctx, q); err != nil {
				r.logger.Debug("Price cache write failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
		return q, nil
	}
	return nil, lastErr
}

func isNilSource(s Source) bool {
	switch v := s.(type) {
	case *BinanceClient:
		return v == nil
	case *BinanceStream:
		return v == nil
	case *TwelveDataClient:
		return v == nil
	case *YahooClient:
		return v == nil
	}
	return false
}
