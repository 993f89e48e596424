package di

import (
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	"github.com/signal-bridge/signal_service/internal/infrastructure/adapters/pricefeed"
	"github.com/signal-bridge/signal_service/internal/infrastructure/cache"
	"github.com/signal-bridge/signal_service/internal/infrastructure/config"
)

// PriceFeedBuilder builds the price sources and the router in front of them
type PriceFeedBuilder struct {
	cfg         config.PriceFeedsConfig
	redisClient cache.RedisClient
	logger      *zap.Logger

	binance *pricefeed.BinanceClient
	yahoo   *pricefeed.YahooClient
}

// NewPriceFeedBuilder creates a new price feed builder
func NewPriceFeedBuilder(cfg config.PriceFeedsConfig, redisClient cache.RedisClient, logger *zap.Logger) *PriceFeedBuilder {
	return &PriceFeedBuilder{cfg: cfg, redisClient: redisClient, logger: logger}
}

func (b *PriceFeedBuilder) sourceConfig(src config.PriceSourceConfig) pricefeed.SourceConfig {
	return pricefeed.SourceConfig{
		BaseURL:         src.BaseURL,
		APIKey:          src.APIKey,
		Timeout:         b.cfg.Timeout,
		RatePerSecond:   src.RatePerSecond,
		Burst:           src.Burst,
		BreakerFailures: b.cfg.BreakerFailures,
		BreakerTimeout:  b.cfg.BreakerTimeout,
	}
}

// Build wires the routes: crypto goes stream, Binance, Yahoo; forex and
// stocks go TwelveData then Yahoo; futures go to Yahoo. The stream is
// returned separately so the caller can run it.
func (b *PriceFeedBuilder) Build() (*pricefeed.Router, *pricefeed.BinanceStream) {
	var quoteCache pricefeed.QuoteCache
	if b.redisClient != nil {
		quoteCache = cache.NewPriceCache(b.redisClient, b.cfg.CacheTTL)
	}

	var (
		binance    *pricefeed.BinanceClient
		stream     *pricefeed.BinanceStream
		twelveData *pricefeed.TwelveDataClient
		yahoo      *pricefeed.YahooClient
	)
	if b.cfg.Binance.Enabled {
		binance = pricefeed.NewBinanceClient(b.sourceConfig(b.cfg.Binance), b.logger)
		if b.cfg.Binance.StreamEnabled {
			stream = pricefeed.NewBinanceStream(b.cfg.Binance.StreamURL, b.cfg.CacheTTL, b.logger)
		}
	}
	if b.cfg.TwelveData.Enabled && b.cfg.TwelveData.APIKey != "" {
		twelveData = pricefeed.NewTwelveDataClient(b.sourceConfig(b.cfg.TwelveData), b.logger)
	} else if b.cfg.TwelveData.Enabled {
		b.logger.Warn("TwelveData enabled without an API key, forex and stocks fall back to Yahoo")
	}
	if b.cfg.Yahoo.Enabled {
		yahoo = pricefeed.NewYahooClient(b.sourceConfig(b.cfg.Yahoo), b.logger)
	}

	router := pricefeed.NewRouter(quoteCache, b.logger).
		Route(entities.AssetClassCrypto, stream, binance).
		Route(entities.AssetClassForex, twelveData, yahoo).
		Route(entities.AssetClassStocks, twelveData, yahoo).
		Route(entities.AssetClassFutures, yahoo).
		Fallback(binance, yahoo)

	b.binance, b.yahoo = binance, yahoo

	b.logger.Info("Price feeds configured",
		zap.Bool("binance", binance != nil),
		zap.Bool("binance_stream", stream != nil),
		zap.Bool("twelve_data", twelveData != nil),
		zap.Bool("yahoo", yahoo != nil),
		zap.Bool("cache", quoteCache != nil))
	return router, stream
}

// Candles routes backtest bars over the REST clients made by Build: crypto
// reads Binance klines, everything else the Yahoo chart.
func (b *PriceFeedBuilder) Candles() *pricefeed.CandleRouter {
	return pricefeed.NewCandleRouter(b.logger).
		Route(entities.AssetClassCrypto, b.binance, b.yahoo).
		Fallback(b.yahoo)
}
