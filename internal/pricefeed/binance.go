// Package pricefeed retrieves reference prices for the market's underlying
// asset. Prices are informational: lifecycle operations treat every failure
// here as "price unknown", never as fatal.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

const defaultBaseURL = "https://api.binance.com"

// BinanceClient fetches spot prices from the Binance public ticker API.
type BinanceClient struct {
	baseURL string
	quote   string
	client  *http.Client
}

// NewBinanceClient creates a client. baseURL defaults to the public API;
// quote is the quote currency appended to the underlying symbol (default
// "USDT", so "BTC" resolves the BTCUSDT pair).
func NewBinanceClient(baseURL, quote string) *BinanceClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if quote == "" {
		quote = "USDT"
	}
	return &BinanceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		quote:   strings.ToUpper(quote),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Pair returns the exchange pair symbol for an underlying, e.g. BTCUSDT.
func (c *BinanceClient) Pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, c.quote) {
		return s
	}
	return s + c.quote
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Fetch returns the current price of the underlying. All failures wrap
// domain.ErrNoPrice so callers can degrade uniformly.
func (c *BinanceClient) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, c.Pair(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: build request: %w", errors.Join(domain.ErrNoPrice, err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: fetch %s: %w", symbol, errors.Join(domain.ErrNoPrice, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Decimal{}, fmt.Errorf("pricefeed: fetch %s: status %d: %s: %w",
			symbol, resp.StatusCode, string(body), domain.ErrNoPrice)
	}

	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: decode ticker: %w", errors.Join(domain.ErrNoPrice, err))
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: parse price %q: %w", ticker.Price, errors.Join(domain.ErrNoPrice, err))
	}
	return price, nil
}

// CachedFeed decorates a feed with a read-through price cache: reads hit
// the cache first and successful upstream fetches are written back.
type CachedFeed struct {
	upstream domain.PriceFeed
	cache    domain.PriceCache
	logger   *slog.Logger
}

// NewCachedFeed wraps upstream with the given cache.
func NewCachedFeed(upstream domain.PriceFeed, cache domain.PriceCache, logger *slog.Logger) *CachedFeed {
	return &CachedFeed{
		upstream: upstream,
		cache:    cache,
		logger:   logger.With(slog.String("component", "pricefeed")),
	}
}

// Fetch returns the cached price when fresh, otherwise asks upstream and
// back-fills the cache. Cache errors are logged, never surfaced.
func (f *CachedFeed) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, err := f.cache.Get(ctx, symbol); err == nil {
		return price, nil
	}

	price, err := f.upstream.Fetch(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if cacheErr := f.cache.Set(ctx, symbol, price); cacheErr != nil {
		f.logger.WarnContext(ctx, "price cache set failed",
			slog.String("symbol", symbol),
			slog.String("error", cacheErr.Error()),
		)
	}
	return price, nil
}

// Compile-time interface checks.
var (
	_ domain.PriceFeed = (*BinanceClient)(nil)
	_ domain.PriceFeed = (*CachedFeed)(nil)
)
