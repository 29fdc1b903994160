package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

// defaultHistoryBucket is used when a caller does not specify one.
const defaultHistoryBucket = 15 * time.Minute

// Query is the read-only surface over markets and bets. It never mutates
// state and is safe to expose to display transports directly.
type Query struct {
	manager *Manager
	bets    domain.BetStore
}

// NewQuery creates a Query backed by the given Manager and bet ledger.
func NewQuery(manager *Manager, bets domain.BetStore) *Query {
	return &Query{manager: manager, bets: bets}
}

// Snapshot is a display-ready view of one market.
type Snapshot struct {
	ID          string           `json:"id"`
	Underlying  string           `json:"underlying"`
	Status      domain.MarketStatus `json:"status"`
	UpPool      decimal.Decimal  `json:"up_pool"`
	DownPool    decimal.Decimal  `json:"down_pool"`
	Volume      decimal.Decimal  `json:"volume"`
	UpPercent   float64          `json:"up_percent"`
	DownPercent float64          `json:"down_percent"`
	BetCount    int64            `json:"bet_count"`
	WinningSide *domain.Side     `json:"winning_side,omitempty"`
	OpenPrice   *decimal.Decimal `json:"open_price,omitempty"`
	LastPrice   *decimal.Decimal `json:"last_price,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	LockedAt    *time.Time       `json:"locked_at,omitempty"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// Current returns a snapshot of the current period's market, falling back
// to the latest known market when the period has not been rolled yet.
func (q *Query) Current(ctx context.Context) (Snapshot, error) {
	mk, err := q.manager.CurrentMarket(ctx)
	if errors.Is(err, domain.ErrMarketNotFound) {
		mk, err = q.manager.GetLatestMarket(ctx)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("query: current snapshot: %w", err)
	}
	return q.snapshot(ctx, mk)
}

// ByID returns a snapshot of a specific market.
func (q *Query) ByID(ctx context.Context, marketID string) (Snapshot, error) {
	mk, err := q.manager.markets.GetByID(ctx, marketID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query: snapshot %s: %w", marketID, err)
	}
	return q.snapshot(ctx, mk)
}

func (q *Query) snapshot(ctx context.Context, mk domain.Market) (Snapshot, error) {
	count, err := q.bets.CountByMarket(ctx, mk.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query: count bets for %s: %w", mk.ID, err)
	}

	up, down := poolPercentages(mk.UpPool, mk.DownPool)
	return Snapshot{
		ID:          mk.ID,
		Underlying:  mk.Underlying,
		Status:      mk.Status,
		UpPool:      mk.UpPool,
		DownPool:    mk.DownPool,
		Volume:      mk.TotalPool(),
		UpPercent:   up,
		DownPercent: down,
		BetCount:    count,
		WinningSide: mk.WinningSide,
		OpenPrice:   mk.OpenPrice,
		LastPrice:   mk.LastPrice,
		OpenedAt:    mk.OpenedAt,
		LockedAt:    mk.LockedAt,
		ResolvedAt:  mk.ResolvedAt,
	}, nil
}

// HistoryPoint is one time-bucketed sample of the cumulative pools.
type HistoryPoint struct {
	Time      time.Time       `json:"time"`
	UpPool    decimal.Decimal `json:"up_pool"`
	DownPool  decimal.Decimal `json:"down_pool"`
	UpPercent float64         `json:"up_percent"`
}

// History reconstructs the pool evolution of a market by replaying its bets
// in creation order and sampling the cumulative totals once per bucket.
// The final state is always included as the last point.
func (q *Query) History(ctx context.Context, marketID string, bucket time.Duration) ([]HistoryPoint, error) {
	if bucket <= 0 {
		bucket = defaultHistoryBucket
	}

	allBets, err := q.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("query: history for %s: %w", marketID, err)
	}
	if len(allBets) == 0 {
		return nil, nil
	}

	var points []HistoryPoint
	up, down := decimal.Zero, decimal.Zero
	bucketEnd := allBets[0].CreatedAt.Truncate(bucket).Add(bucket)

	emit := func(at time.Time) {
		pct, _ := poolPercentages(up, down)
		points = append(points, HistoryPoint{Time: at, UpPool: up, DownPool: down, UpPercent: pct})
	}

	for _, b := range allBets {
		for b.CreatedAt.After(bucketEnd) || b.CreatedAt.Equal(bucketEnd) {
			emit(bucketEnd)
			bucketEnd = bucketEnd.Add(bucket)
		}
		if b.Side == domain.SideUp {
			up = up.Add(b.Stake)
		} else {
			down = down.Add(b.Stake)
		}
	}
	emit(allBets[len(allBets)-1].CreatedAt)

	return points, nil
}

// UserBets returns a user's bets on the given market, oldest first.
func (q *Query) UserBets(ctx context.Context, marketID string, userID int64) ([]domain.Bet, error) {
	userBets, err := q.bets.ListByUser(ctx, marketID, userID)
	if err != nil {
		return nil, fmt.Errorf("query: user %d bets on %s: %w", userID, marketID, err)
	}
	return userBets, nil
}

// poolPercentages splits pools into display percentages. An empty market
// reads as 50/50 rather than 0/0.
func poolPercentages(up, down decimal.Decimal) (float64, float64) {
	total := up.Add(down)
	if !total.IsPositive() {
		return 50, 50
	}
	upPct, _ := up.Div(total).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return upPct, 100 - upPct
}
