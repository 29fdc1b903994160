package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache stores the latest observed price per symbol with a TTL, so
// read surfaces do not hammer the upstream feed.
type PriceCache interface {
	Set(ctx context.Context, symbol string, price decimal.Decimal) error
	// Get returns ErrNoPrice when no fresh price is cached.
	Get(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LockManager provides distributed locks used to serialize rare scheduled
// operations (period rolls) across replicas.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned
	// unlock function is safe to call multiple times.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds how often a keyed caller may act inside a sliding
// window. Allow counts the request when it is permitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PriceFeed returns the current price of a symbol from an external source.
// Failures are reported as errors wrapping ErrNoPrice and must never be
// fatal to lifecycle operations.
type PriceFeed interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, error)
}
