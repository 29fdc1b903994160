// Package market implements the market lifecycle state machine and the
// read-side query service for the daily up/down pari-mutuel market.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/period"
	"github.com/updownlabs/updownbot/internal/settle"
)

// rollLockTTL bounds how long a crashed roll can keep other replicas out.
const rollLockTTL = time.Minute

// Manager owns market lifecycle transitions: open -> locked -> resolved,
// forward only. All state lives in the stores; the Manager holds no mutable
// state of its own and is safe for concurrent use.
type Manager struct {
	markets    domain.MarketStore
	bets       domain.BetStore
	resolver   *period.Resolver
	feed       domain.PriceFeed   // optional; nil disables price capture
	locks      domain.LockManager // optional; nil disables the roll lock
	underlying string
	fee        decimal.Decimal
	logger     *slog.Logger
	now        func() time.Time

	onRoll    func(context.Context, RollReport)
	onResolve func(context.Context, string, settle.Result)
}

// NewManager creates a Manager for a single underlying with the given fee
// fraction (0 <= fee < 1). feed and locks may be nil.
func NewManager(
	markets domain.MarketStore,
	bets domain.BetStore,
	resolver *period.Resolver,
	feed domain.PriceFeed,
	locks domain.LockManager,
	underlying string,
	fee decimal.Decimal,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		markets:    markets,
		bets:       bets,
		resolver:   resolver,
		feed:       feed,
		locks:      locks,
		underlying: underlying,
		fee:        fee,
		logger:     logger.With(slog.String("component", "lifecycle")),
		now:        time.Now,
	}
}

// SetHooks registers observers invoked after a roll that changed state and
// after every successful settlement. Call before the Manager is shared;
// hooks run synchronously on the mutating goroutine.
func (m *Manager) SetHooks(onRoll func(context.Context, RollReport), onResolve func(context.Context, string, settle.Result)) {
	m.onRoll = onRoll
	m.onResolve = onResolve
}

// RollReport describes what a RollPeriod invocation changed.
type RollReport struct {
	Locked     bool   `json:"locked"`
	Created    bool   `json:"created"`
	PreviousID string `json:"previous_id"`
	CurrentID  string `json:"current_id"`
}

// EnsureOpenMarket fetches or creates the market for the given period. The
// insert is atomic: when two callers race, exactly one row is created and
// both observe it. An existing market for the period that is no longer open
// is a caller error (ErrMarketNotOpen); markets are never reopened.
func (m *Manager) EnsureOpenMarket(ctx context.Context, p period.Date) (domain.Market, bool, error) {
	id := period.MarketID(m.underlying, p)

	row := domain.Market{
		ID:         id,
		Underlying: m.underlying,
		PeriodDate: p,
		Status:     domain.MarketStatusOpen,
		UpPool:     decimal.Zero,
		DownPool:   decimal.Zero,
		OpenedAt:   m.now().UTC(),
	}
	row.OpenPrice = m.fetchPrice(ctx)

	created, err := m.markets.Create(ctx, row)
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("lifecycle: ensure open %s: %w", id, err)
	}

	// Read back so racing callers all see the row that actually won.
	got, err := m.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("lifecycle: ensure open %s: %w", id, err)
	}

	if created {
		m.logger.InfoContext(ctx, "market opened",
			slog.String("market_id", id),
			slog.String("period", period.Format(p)),
		)
	} else if got.Status != domain.MarketStatusOpen {
		return got, false, fmt.Errorf("lifecycle: market %s is %s: %w", id, got.Status, domain.ErrMarketNotOpen)
	}

	return got, created, nil
}

// PlaceStake validates and records a stake. The bet insert and the pool
// increment are applied in one store transaction conditional on the market
// still being open, so the pool invariant cannot be violated by partial
// writes or concurrent stakes.
func (m *Manager) PlaceStake(ctx context.Context, marketID string, userID int64, side domain.Side, amount decimal.Decimal) (domain.Bet, error) {
	if !side.Valid() {
		return domain.Bet{}, fmt.Errorf("lifecycle: %w: side %q", domain.ErrInvalidStake, side)
	}
	if !amount.IsPositive() {
		return domain.Bet{}, fmt.Errorf("lifecycle: %w: amount %s must be positive", domain.ErrInvalidStake, amount)
	}

	bet := domain.Bet{
		ID:        uuid.New(),
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		Stake:     amount,
		CreatedAt: m.now().UTC(),
	}

	placed, err := m.bets.Place(ctx, bet)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("lifecycle: place stake on %s: %w", marketID, err)
	}

	m.logger.InfoContext(ctx, "stake placed",
		slog.String("market_id", marketID),
		slog.Int64("user_id", userID),
		slog.String("side", string(side)),
		slog.String("stake", amount.String()),
	)
	return placed, nil
}

// RollPeriod locks the previous period's market (if still open) and ensures
// the current period's market exists and is open. It is idempotent: repeat
// invocations for the same boundary are no-ops. Markets already locked or
// resolved are never touched.
func (m *Manager) RollPeriod(ctx context.Context, now time.Time) (RollReport, error) {
	current := m.resolver.PeriodFor(now)
	previous := m.resolver.Previous(current)

	report := RollReport{
		PreviousID: period.MarketID(m.underlying, previous),
		CurrentID:  period.MarketID(m.underlying, current),
	}

	// Serialize concurrent trigger firings across replicas. Correctness
	// does not depend on the lock (the store transitions are conditional);
	// it just avoids wasted duplicate work, so lock-manager outages only
	// log a warning.
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "roll:"+report.CurrentID, rollLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			m.logger.InfoContext(ctx, "roll already in progress", slog.String("current_id", report.CurrentID))
			return report, nil
		case err != nil:
			m.logger.WarnContext(ctx, "roll lock unavailable, proceeding",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	locked, err := m.markets.Lock(ctx, report.PreviousID, now.UTC())
	if err != nil && !errors.Is(err, domain.ErrMarketNotFound) {
		return report, fmt.Errorf("lifecycle: lock %s: %w", report.PreviousID, err)
	}
	report.Locked = locked

	_, created, err := m.EnsureOpenMarket(ctx, current)
	if err != nil {
		return report, fmt.Errorf("lifecycle: roll to %s: %w", report.CurrentID, err)
	}
	report.Created = created

	m.logger.InfoContext(ctx, "period rolled",
		slog.String("previous_id", report.PreviousID),
		slog.String("current_id", report.CurrentID),
		slog.Bool("locked", report.Locked),
		slog.Bool("created", report.Created),
	)
	if m.onRoll != nil && (report.Locked || report.Created) {
		m.onRoll(ctx, report)
	}
	return report, nil
}

// Resolve settles the market on the winning side and transitions it to
// resolved. A still-open market is locked first so the settlement snapshot
// sees the final pools and every accepted bet. Payout writes and the status
// transition happen in one store transaction guarded by a status re-check,
// so resolving twice returns ErrAlreadyResolved and never double-pays.
func (m *Manager) Resolve(ctx context.Context, marketID string, winning domain.Side) (settle.Result, error) {
	mk, err := m.markets.GetByID(ctx, marketID)
	if err != nil {
		return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, err)
	}
	if mk.Status == domain.MarketStatusResolved {
		return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, domain.ErrAlreadyResolved)
	}

	// Close intake before snapshotting. A stake accepted after the pools
	// are read would be settled against stale totals and never paid.
	if mk.Status == domain.MarketStatusOpen {
		if _, err := m.markets.Lock(ctx, marketID, m.now().UTC()); err != nil {
			return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, err)
		}
		mk, err = m.markets.GetByID(ctx, marketID)
		if err != nil {
			return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, err)
		}
		if mk.Status == domain.MarketStatusResolved {
			return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, domain.ErrAlreadyResolved)
		}
	}

	allBets, err := m.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, err)
	}

	result, err := settle.Compute(mk.UpPool, mk.DownPool, winning, m.fee, allBets)
	if err != nil {
		return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, err)
	}

	if err := m.markets.Settle(ctx, marketID, winning, result.Payouts, m.now().UTC()); err != nil {
		return settle.Result{}, fmt.Errorf("lifecycle: resolve %s: %w", marketID, err)
	}

	m.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.String("winning_side", string(winning)),
		slog.String("total_pool", result.TotalPool.String()),
		slog.String("multiplier", result.Multiplier.String()),
		slog.Int("winners", len(result.Payouts)),
	)
	if m.onResolve != nil {
		m.onResolve(ctx, marketID, result)
	}
	return result, nil
}

// CurrentMarket returns the market of record for the current period.
func (m *Manager) CurrentMarket(ctx context.Context) (domain.Market, error) {
	id := period.MarketID(m.underlying, m.resolver.PeriodFor(m.now()))
	mk, err := m.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("lifecycle: current market %s: %w", id, err)
	}
	return mk, nil
}

// GetLatestMarket is the explicit fallback used when the current period has
// no market yet: it returns the most recent market row. This is a distinct
// operation from period resolution and must not be conflated with it.
func (m *Manager) GetLatestMarket(ctx context.Context) (domain.Market, error) {
	mk, err := m.markets.GetLatest(ctx, m.underlying)
	if err != nil {
		return domain.Market{}, fmt.Errorf("lifecycle: latest market: %w", err)
	}
	return mk, nil
}

// RefreshLastPrice captures the feed price onto the current market. Feed
// failures are logged and swallowed; the price fields are informational.
func (m *Manager) RefreshLastPrice(ctx context.Context) {
	price := m.fetchPrice(ctx)
	if price == nil {
		return
	}

	mk, err := m.CurrentMarket(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrMarketNotFound) {
			m.logger.WarnContext(ctx, "refresh price: current market", slog.String("error", err.Error()))
		}
		return
	}

	if err := m.markets.SetLastPrice(ctx, mk.ID, *price); err != nil {
		m.logger.WarnContext(ctx, "refresh price: persist",
			slog.String("market_id", mk.ID),
			slog.String("error", err.Error()),
		)
	}
}

// fetchPrice asks the feed for the underlying's price. Best effort: any
// failure yields nil and a warning.
func (m *Manager) fetchPrice(ctx context.Context) *decimal.Decimal {
	if m.feed == nil {
		return nil
	}
	price, err := m.feed.Fetch(ctx, m.underlying)
	if err != nil {
		m.logger.WarnContext(ctx, "price feed unavailable",
			slog.String("underlying", m.underlying),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &price
}
