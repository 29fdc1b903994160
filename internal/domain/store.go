package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payout is the settlement amount awarded to a single winning bet.
type Payout struct {
	BetID  uuid.UUID
	Amount decimal.Decimal
}

// MarketStore persists markets. Implementations must enforce at most one
// market per (underlying, period_date) pair and make lifecycle transitions
// conditional on the current status, so concurrent duplicate creation or
// duplicate resolution is impossible rather than merely unlikely.
type MarketStore interface {
	// Create inserts the market if no row exists for its period yet.
	// It reports whether a new row was inserted; on conflict the existing
	// row is left untouched and created is false.
	Create(ctx context.Context, m Market) (created bool, err error)

	GetByID(ctx context.Context, id string) (Market, error)

	// GetLatest returns the most recently opened market for the
	// underlying, regardless of status.
	GetLatest(ctx context.Context, underlying string) (Market, error)

	// Lock transitions the market from open to locked. It reports whether
	// the transition happened; a market already locked or resolved is left
	// untouched and locked is false.
	Lock(ctx context.Context, id string, at time.Time) (locked bool, err error)

	// Settle atomically writes the winning side, all winner payouts, and
	// the resolved status in a single transaction. It returns
	// ErrAlreadyResolved when the market has already been settled and
	// ErrMarketNotFound when it does not exist.
	Settle(ctx context.Context, id string, winning Side, payouts []Payout, at time.Time) error

	// SetLastPrice records the latest observed reference price.
	// Informational only; never part of settlement math.
	SetLastPrice(ctx context.Context, id string, price decimal.Decimal) error
}

// BetStore persists the append-only stake ledger.
type BetStore interface {
	// Place inserts the bet and increments the owning market's pool for
	// the bet's side in one transaction. The pool update is conditional on
	// the market being open; ErrMarketNotOpen is returned otherwise and
	// nothing is written.
	Place(ctx context.Context, bet Bet) (Bet, error)

	// ListByMarket returns all bets for a market ordered by creation time.
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)

	// ListByUser returns a user's bets on the given market, oldest first.
	ListByUser(ctx context.Context, marketID string, userID int64) ([]Bet, error)

	CountByMarket(ctx context.Context, marketID string) (int64, error)
}

// UserStore persists chat users.
type UserStore interface {
	// Upsert creates or refreshes a user record; idempotent.
	Upsert(ctx context.Context, u User) error
	GetByID(ctx context.Context, id int64) (User, error)
}
