package pricefeed

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

const (
	BinanceBaseURL   = "https://api.binance.com"
	BinanceStreamURL = "wss://stream.binance.com:9443/stream"
	SourceBinance    = "binance"
)

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// BinanceClient quotes crypto pairs from the Binance REST book ticker.
type BinanceClient struct {
	rest *restClient
	now  func() time.Time
}

func NewBinanceClient(cfg SourceConfig, logger *zap.Logger) *BinanceClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BinanceBaseURL
	}
	return &BinanceClient{rest: newRESTClient(SourceBinance, cfg, logger), now: time.Now}
}

func (c *BinanceClient) Name() string { return SourceBinance }

func (c *BinanceClient) GetPrice(ctx context.Context, symbol string, _ entities.AssetClass) (*entities.PriceQuote, error) {
	symbol = strings.ToUpper(symbol)
	endpoint := strings.TrimRight(c.rest.cfg.BaseURL, "/") + "/api/v3/ticker/bookTicker?symbol=" + url.QueryEscape(symbol)

	var resp bookTicker
	if err := c.rest.getJSON(ctx, symbol, endpoint, &resp); err != nil {
		return nil, err
	}
	q, err := quoteFromBook(symbol, resp.BidPrice, resp.AskPrice, c.now(), SourceBinance)
	if err != nil {
		return nil, domainerrors.TransientSourceError(SourceBinance, symbol, err)
	}
	return q, nil
}

// quoteFromBook prices a quote at the bid/ask midpoint.
func quoteFromBook(symbol, bidStr, askStr string, at time.Time, source string) (*entities.PriceQuote, error) {
	bid, err := decimal.NewFromString(bidStr)
	if err != nil {
		return nil, ErrNoPrice
	}
	ask, err := decimal.NewFromString(askStr)
	if err != nil {
		return nil, ErrNoPrice
	}
	if bid.Sign() <= 0 || ask.Sign() <= 0 {
		return nil, ErrNoPrice
	}
	return &entities.PriceQuote{
		Symbol:     symbol,
		AssetClass: entities.AssetClassCrypto,
		Price:      bid.Add(ask).Div(decimal.NewFromInt(2)),
		Bid:        decimal.NewNullDecimal(bid),
		Ask:        decimal.NewNullDecimal(ask),
		Timestamp:  at.UTC(),
		Source:     source,
	}, nil
}
