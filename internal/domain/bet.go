package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bet is a single user's wager of an amount on a side of a market. Bets are
// append-only: the only write after creation is the one-time payout set at
// settlement. Losing bets keep a nil payout; the owning market's
// winning_side distinguishes "lost" from "not yet settled".
type Bet struct {
	ID        uuid.UUID        `json:"id"`
	UserID    int64            `json:"user_id"`
	MarketID  string           `json:"market_id"`
	Side      Side             `json:"side"`
	Stake     decimal.Decimal  `json:"stake"`
	Payout    *decimal.Decimal `json:"payout,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// User is the staking party, upserted from the chat transport's identity on
// every interaction.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}
