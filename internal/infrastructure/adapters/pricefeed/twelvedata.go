package pricefeed

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

const (
	TwelveDataBaseURL = "https://api.twelvedata.com"
	SourceTwelveData  = "twelvedata"
)

type twelveDataPrice struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TwelveDataClient quotes forex pairs and stocks.
type TwelveDataClient struct {
	rest *restClient
	now  func() time.Time
}

func NewTwelveDataClient(cfg SourceConfig, logger *zap.Logger) *TwelveDataClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = TwelveDataBaseURL
	}
	return &TwelveDataClient{rest: newRESTClient(SourceTwelveData, cfg, logger), now: time.Now}
}

func (c *TwelveDataClient) Name() string { return SourceTwelveData }

func (c *TwelveDataClient) GetPrice(ctx context.Context, symbol string, assetClass entities.AssetClass) (*entities.PriceQuote, error) {
	symbol = strings.ToUpper(symbol)
	if c.rest.cfg.APIKey == "" {
		return nil, domainerrors.TransientSourceError(SourceTwelveData, symbol, errors.New("api key not configured"))
	}

	q := url.Values{}
	q.Set("symbol", twelveDataSymbol(symbol, assetClass))
	q.Set("apikey", c.rest.cfg.APIKey)
	endpoint := strings.TrimRight(c.rest.cfg.BaseURL, "/") + "/price?" + q.Encode()

	var resp twelveDataPrice
	if err := c.rest.getJSON(ctx, symbol, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, domainerrors.TransientSourceError(SourceTwelveData, symbol, errors.New(resp.Message))
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil || price.Sign() <= 0 {
		return nil, domainerrors.TransientSourceError(SourceTwelveData, symbol, ErrNoPrice)
	}
	return &entities.PriceQuote{
		Symbol:     symbol,
		AssetClass: assetClass,
		Price:      price,
		Timestamp:  c.now().UTC(),
		Source:     SourceTwelveData,
	}, nil
}

// twelveDataSymbol writes six-letter forex pairs as BASE/QUOTE.
func twelveDataSymbol(symbol string, assetClass entities.AssetClass) string {
	if assetClass == entities.AssetClassForex && len(symbol) == 6 && !strings.Contains(symbol, "/") {
		return symbol[:3] + "/" + symbol[3:]
	}
	return symbol
}
