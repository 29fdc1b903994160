package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

const (
	defaultStreamURL = "wss://stream.binance.com:9443/ws"

	// reconnectBase is the initial reconnect delay; it doubles per
	// consecutive failure up to reconnectMax.
	reconnectBase = time.Second
	reconnectMax  = time.Minute

	// healthySession is how long a connection must live for the next
	// disconnect to be treated as fresh rather than part of the burst.
	healthySession = 30 * time.Second

	// readDeadline guards against a silently dead connection. Binance
	// sends a miniTicker update at least once per second.
	readDeadline = 90 * time.Second
)

// Streamer keeps the price cache hot by consuming the exchange's
// miniTicker websocket stream. It reconnects with exponential backoff and
// stops when the context is cancelled.
type Streamer struct {
	url    string
	pair   string
	symbol string
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewStreamer creates a Streamer for the underlying symbol. url defaults to
// the public Binance stream endpoint.
func NewStreamer(url string, client *BinanceClient, symbol string, cache domain.PriceCache, logger *slog.Logger) *Streamer {
	if url == "" {
		url = defaultStreamURL
	}
	return &Streamer{
		url:    strings.TrimRight(url, "/"),
		pair:   strings.ToLower(client.Pair(symbol)),
		symbol: symbol,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_stream")),
	}
}

// miniTicker is the subset of the Binance miniTicker payload we consume.
type miniTicker struct {
	Close string `json:"c"`
}

// Run consumes the stream until ctx is cancelled. Connection failures are
// retried with backoff; the stream is an optimization over polling, so Run
// only ever returns ctx.Err().
func (s *Streamer) Run(ctx context.Context) error {
	delay := reconnectBase
	for {
		start := time.Now()
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WarnContext(ctx, "stream disconnected",
				slog.String("pair", s.pair),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		}
		session := time.Since(start)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay, session)
	}
}

// nextDelay advances the reconnect backoff. A session that outlived
// healthySession restarts the backoff at reconnectBase.
func nextDelay(delay, session time.Duration) time.Duration {
	if session >= healthySession {
		return reconnectBase
	}
	delay *= 2
	if delay > reconnectMax {
		delay = reconnectMax
	}
	return delay
}

// consume dials the stream and forwards updates into the cache until the
// connection drops or ctx is cancelled.
func (s *Streamer) consume(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/%s@miniTicker", s.url, s.pair)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("pricefeed: dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	s.logger.InfoContext(ctx, "stream connected", slog.String("pair", s.pair))

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("pricefeed: set read deadline: %w", err)
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("pricefeed: read: %w", err)
		}

		var ticker miniTicker
		if err := json.Unmarshal(msg, &ticker); err != nil || ticker.Close == "" {
			continue
		}
		price, err := decimal.NewFromString(ticker.Close)
		if err != nil {
			continue
		}

		if err := s.cache.Set(ctx, s.symbol, price); err != nil {
			s.logger.WarnContext(ctx, "price cache set failed",
				slog.String("symbol", s.symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
