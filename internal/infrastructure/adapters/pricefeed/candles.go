package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

// CandleInterval is the bar size used for backtests.
const CandleInterval = time.Hour

const binanceKlineLimit = 1000

// CandleSource returns hourly bars covering [from, to], oldest first.
type CandleSource interface {
	Name() string
	GetCandles(ctx context.Context, symbol string, assetClass entities.AssetClass, from, to time.Time) ([]entities.Candle, error)
}

// GetCandles pages through the klines endpoint until to is covered.
func (c *BinanceClient) GetCandles(ctx context.Context, symbol string, _ entities.AssetClass, from, to time.Time) ([]entities.Candle, error) {
	symbol = strings.ToUpper(symbol)
	base := strings.TrimRight(c.rest.cfg.BaseURL, "/") + "/api/v3/klines"

	var out []entities.Candle
	start := from.UTC()
	for !start.After(to) {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", "1h")
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(to.UTC().UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(binanceKlineLimit))

		var rows [][]json.RawMessage
		if err := c.rest.getJSON(ctx, symbol, base+"?"+q.Encode(), &rows); err != nil {
			return nil, err
		}
		for _, row := range rows {
			candle, err := parseKline(row)
			if err != nil {
				return nil, domainerrors.TransientSourceError(SourceBinance, symbol, err)
			}
			out = append(out, candle)
		}
		if len(rows) < binanceKlineLimit {
			break
		}
		start = out[len(out)-1].OpenTime.Add(CandleInterval)
	}
	return out, nil
}

// parseKline reads [openTime, open, high, low, close, ...].
func parseKline(row []json.RawMessage) (entities.Candle, error) {
	if len(row) < 5 {
		return entities.Candle{}, fmt.Errorf("kline has %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return entities.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	var prices [4]decimal.Decimal
	for i := range prices {
		var raw string
		if err := json.Unmarshal(row[i+1], &raw); err != nil {
			return entities.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return entities.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		prices[i] = d
	}
	return entities.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     prices[0],
		High:     prices[1],
		Low:      prices[2],
		Close:    prices[3],
	}, nil
}

type yahooBars struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// candles drops bars with any missing field.
func (b yahooBars) candles() []entities.Candle {
	if len(b.Chart.Result) == 0 || len(b.Chart.Result[0].Indicators.Quote) == 0 {
		return nil
	}
	r := b.Chart.Result[0]
	q := r.Indicators.Quote[0]
	out := make([]entities.Candle, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) {
			break
		}
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		out = append(out, entities.Candle{
			OpenTime: time.Unix(ts, 0).UTC(),
			Open:     decimal.NewFromFloat(*q.Open[i]),
			High:     decimal.NewFromFloat(*q.High[i]),
			Low:      decimal.NewFromFloat(*q.Low[i]),
			Close:    decimal.NewFromFloat(*q.Close[i]),
		})
	}
	return out
}

func (c *YahooClient) GetCandles(ctx context.Context, symbol string, assetClass entities.AssetClass, from, to time.Time) ([]entities.Candle, error) {
	symbol = strings.ToUpper(symbol)
	q := url.Values{}
	q.Set("interval", "1h")
	q.Set("period1", strconv.FormatInt(from.UTC().Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.UTC().Unix(), 10))
	endpoint := strings.TrimRight(c.rest.cfg.BaseURL, "/") + "/v8/finance/chart/" +
		url.PathEscape(yahooSymbol(symbol, assetClass)) + "?" + q.Encode()

	var resp yahooBars
	if err := c.rest.getJSON(ctx, symbol, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.candles(), nil
}

// CandleRouter picks candle sources by asset class and returns the first
// non-empty answer.
type CandleRouter struct {
	routes   map[entities.AssetClass][]CandleSource
	fallback []CandleSource
	logger   *zap.Logger
}

func NewCandleRouter(logger *zap.Logger) *CandleRouter {
	return &CandleRouter{routes: make(map[entities.AssetClass][]CandleSource), logger: logger}
}

func (r *CandleRouter) Route(assetClass entities.AssetClass, sources ...CandleSource) *CandleRouter {
	for _, s := range sources {
		if s != nil && !isNilCandleSource(s) {
			r.routes[assetClass] = append(r.routes[assetClass], s)
		}
	}
	return r
}

func (r *CandleRouter) Fallback(sources ...CandleSource) *CandleRouter {
	for _, s := range sources {
		if s != nil && !isNilCandleSource(s) {
			r.fallback = append(r.fallback, s)
		}
	}
	return r
}

func (r *CandleRouter) GetCandles(ctx context.Context, symbol string, assetClass entities.AssetClass, from, to time.Time) ([]entities.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	chain := r.routes[assetClass]
	if len(chain) == 0 {
		chain = r.fallback
	}
	if len(chain) == 0 {
		return nil, domainerrors.TransientSourceError("candles", symbol, errors.New("no candle source for asset class "+string(assetClass)))
	}

	var lastErr error
	for _, src := range chain {
		candles, err := src.GetCandles(ctx, symbol, assetClass, from, to)
		if err != nil {
			lastErr = err
			r.logger.Debug("Candle source failed", zap.String("source", src.Name()), zap.String("symbol", symbol), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(candles) == 0 {
			lastErr = domainerrors.TransientSourceError(src.Name(), symbol, ErrNoPrice)
			continue
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
		return candles, nil
	}
	return nil, lastErr
}

func isNilCandleSource(s CandleSource) bool {
	switch v := s.(type) {
	case *BinanceClient:
		return v == nil
	case *YahooClient:
		return v == nil
	}
	return false
}
