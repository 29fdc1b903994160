package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

// defaultPriceTTL keeps a price usable long enough for display while
// guaranteeing stale quotes age out quickly.
const defaultPriceTTL = 30 * time.Second

// PriceCache implements domain.PriceCache on Redis string keys with a TTL.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A non-positive ttl selects the
// default.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = defaultPriceTTL
	}
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + strings.ToUpper(symbol)
}

// Set stores the latest observed price for a symbol.
func (pc *PriceCache) Set(ctx context.Context, symbol string, price decimal.Decimal) error {
	if err := pc.rdb.Set(ctx, priceKey(symbol), price.String(), pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// Get returns the cached price or domain.ErrNoPrice when none is fresh.
func (pc *PriceCache) Get(ctx context.Context, symbol string) (decimal.Decimal, error) {
	val, err := pc.rdb.Get(ctx, priceKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Decimal{}, domain.ErrNoPrice
		}
		return decimal.Decimal{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("redis: parse cached price %q: %w", val, err)
	}
	return price, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
