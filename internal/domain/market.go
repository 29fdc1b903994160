package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market. A market only
// ever advances open -> locked -> resolved.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusLocked   MarketStatus = "locked"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is one daily pari-mutuel contract on a single underlying's
// direction. up_pool + down_pool always equals the sum of all accepted
// stake amounts for the market.
type Market struct {
	ID          string           `json:"id"`
	Underlying  string           `json:"underlying"`
	PeriodDate  time.Time        `json:"period_date"` // civil date in the reference zone, midnight UTC
	Status      MarketStatus     `json:"status"`
	UpPool      decimal.Decimal  `json:"up_pool"`
	DownPool    decimal.Decimal  `json:"down_pool"`
	WinningSide *Side            `json:"winning_side,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	LockedAt    *time.Time       `json:"locked_at,omitempty"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	OpenPrice   *decimal.Decimal `json:"open_price,omitempty"`
	LastPrice   *decimal.Decimal `json:"last_price,omitempty"`
}

// TotalPool returns the combined stake on both sides.
func (m Market) TotalPool() decimal.Decimal {
	return m.UpPool.Add(m.DownPool)
}

// Pool returns the pool accumulated on the given side.
func (m Market) Pool(s Side) decimal.Decimal {
	if s == SideUp {
		return m.UpPool
	}
	return m.DownPool
}
