package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
)

const sourceBinanceStream = "binance_ws"

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// The quantity fields must be declared: encoding/json matches keys case
// insensitively, so "B" would otherwise overwrite "b".
type streamBookTicker struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	BidQty string `json:"B"`
	Ask    string `json:"a"`
	AskQty string `json:"A"`
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// BinanceStream keeps the latest book ticker for every symbol it has been
// asked about. Symbols are subscribed on first request; until the first
// update arrives the stream reports a miss and callers fall back to REST.
type BinanceStream struct {
	url    string
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	quotes  map[string]entities.PriceQuote
	symbols map[string]struct{}

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	reqID   int64
}

func NewBinanceStream(streamURL string, maxAge time.Duration, logger *zap.Logger) *BinanceStream {
	if streamURL == "" {
		streamURL = BinanceStreamURL
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &BinanceStream{
		url:     streamURL,
		maxAge:  maxAge,
		logger:  logger,
		now:     time.Now,
		quotes:  make(map[string]entities.PriceQuote),
		symbols: make(map[string]struct{}),
	}
}

func (s *BinanceStream) Name() string { return sourceBinanceStream }

// GetPrice returns the cached stream quote when it is fresh.
func (s *BinanceStream) GetPrice(_ context.Context, symbol string, _ entities.AssetClass) (*entities.PriceQuote, error) {
	symbol = strings.ToUpper(symbol)
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	_, watched := s.symbols[symbol]
	s.mu.RUnlock()

	if !watched {
		s.watch(symbol)
	}
	if !ok || s.now().Sub(q.Timestamp) > s.maxAge {
		return nil, domainerrors.TransientSourceError(sourceBinanceStream, symbol, ErrNoPrice)
	}
	return &q, nil
}

func (s *BinanceStream) watch(symbol string) {
	s.mu.Lock()
	if _, ok := s.symbols[symbol]; ok {
		s.mu.Unlock()
		return
	}
	s.symbols[symbol] = struct{}{}
	s.mu.Unlock()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	if err := s.subscribe(conn, []string{symbol}); err != nil {
		s.logger.Warn("Binance stream subscribe failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (s *BinanceStream) subscribe(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, len(symbols))
	for i, sym := range symbols {
		params[i] = strings.ToLower(sym) + "@bookTicker"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.reqID++
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: s.reqID})
}

// Run maintains the connection until ctx is done, reconnecting with
// backoff.
func (s *BinanceStream) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = time.Second
		}
		s.logger.Warn("Binance stream disconnected, retrying", zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (s *BinanceStream) consume(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.subscribe(conn, s.watched()); err != nil {
		return true, fmt.Errorf("resubscribe: %w", err)
	}
	s.logger.Info("Binance stream connected", zap.String("url", s.url))

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-pingCtx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		s.handle(message)
	}
}

func (s *BinanceStream) handle(message []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil || len(env.Data) == 0 {
		return
	}
	var t streamBookTicker
	if err := json.Unmarshal(env.Data, &t); err != nil || t.Symbol == "" {
		return
	}
	q, err := quoteFromBook(strings.ToUpper(t.Symbol), t.Bid, t.Ask, s.now(), sourceBinanceStream)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.quotes[q.Symbol] = *q
	s.mu.Unlock()
}

func (s *BinanceStream) watched() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}
