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
	YahooBaseURL = "https://query1.finance.yahoo.com"
	SourceYahoo  = "yahoo"
)

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// lastPrice prefers the last non-null one-minute close over the meta price.
func (c yahooChart) lastPrice() (decimal.Decimal, bool) {
	if len(c.Chart.Result) == 0 {
		return decimal.Zero, false
	}
	r := c.Chart.Result[0]
	if len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 {
				return decimal.NewFromFloat(*closes[i]), true
			}
		}
	}
	if p := r.Meta.RegularMarketPrice; p != nil && *p > 0 {
		return decimal.NewFromFloat(*p), true
	}
	return decimal.Zero, false
}

// YahooClient quotes futures and stocks from the chart endpoint.
type YahooClient struct {
	rest *restClient
	now  func() time.Time
}

func NewYahooClient(cfg SourceConfig, logger *zap.Logger) *YahooClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = YahooBaseURL
	}
	return &YahooClient{rest: newRESTClient(SourceYahoo, cfg, logger), now: time.Now}
}

func (c *YahooClient) Name() string { return SourceYahoo }

func (c *YahooClient) GetPrice(ctx context.Context, symbol string, assetClass entities.AssetClass) (*entities.PriceQuote, error) {
	symbol = strings.ToUpper(symbol)
	endpoint := strings.TrimRight(c.rest.cfg.BaseURL, "/") + "/v8/finance/chart/" +
		url.PathEscape(yahooSymbol(symbol, assetClass)) + "?interval=1m&range=1d"

	var resp yahooChart
	if err := c.rest.getJSON(ctx, symbol, endpoint, &resp); err != nil {
		return nil, err
	}
	price, ok := resp.lastPrice()
	if !ok {
		return nil, domainerrors.TransientSourceError(SourceYahoo, symbol, ErrNoPrice)
	}
	return &entities.PriceQuote{
		Symbol:     symbol,
		AssetClass: assetClass,
		Price:      price,
		Timestamp:  c.now().UTC(),
		Source:     SourceYahoo,
	}, nil
}

// yahooSymbol maps futures roots like NQ to the continuous contract NQ=F.
func yahooSymbol(symbol string, assetClass entities.AssetClass) string {
	switch assetClass {
	case entities.AssetClassFutures:
		if !strings.HasSuffix(symbol, "=F") {
			return symbol + "=F"
		}
	case entities.AssetClassForex:
		if len(symbol) == 6 {
			return symbol + "=X"
		}
	}
	return symbol
}
