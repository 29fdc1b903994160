package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Lifecycle
// transitions are conditional updates so concurrent duplicate creation or
// double resolution cannot happen.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, underlying, period_date, status, up_pool, down_pool,
	winning_side, opened_at, locked_at, resolved_at, open_price, last_price`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status, winning *string
	err := row.Scan(
		&m.ID, &m.Underlying, &m.PeriodDate, &status,
		&m.UpPool, &m.DownPool, &winning,
		&m.OpenedAt, &m.LockedAt, &m.ResolvedAt,
		&m.OpenPrice, &m.LastPrice,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if status != nil {
		m.Status = domain.MarketStatus(*status)
	}
	if winning != nil {
		side := domain.Side(*winning)
		m.WinningSide = &side
	}
	return m, nil
}

// Create inserts the market if no row exists for its period yet. The
// primary key and the (underlying, period_date) uniqueness constraint make
// the insert race-free: of two concurrent callers exactly one inserts, the
// other observes created=false.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) (bool, error) {
	const query = `
		INSERT INTO markets (
			id, underlying, period_date, status, up_pool, down_pool,
			opened_at, open_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.Underlying, m.PeriodDate, string(m.Status),
		m.UpPool, m.DownPool, m.OpenedAt, m.OpenPrice,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetLatest retrieves the most recently opened market for the underlying.
func (s *MarketStore) GetLatest(ctx context.Context, underlying string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE underlying = $1
		 ORDER BY opened_at DESC
		 LIMIT 1`, underlying)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: latest market for %s: %w", underlying, err)
	}
	return m, nil
}

// Lock transitions an open market to locked. The update is conditional on
// the current status, so a market that is already locked or resolved is
// left untouched and locked=false is returned.
func (s *MarketStore) Lock(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = 'locked', locked_at = $2
		 WHERE id = $1 AND status = 'open'`, id, at)
	if err != nil {
		return false, fmt.Errorf("postgres: lock market %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Settle writes the winning side, all payouts, and the resolved status in a
// single transaction. A row lock on the market plus a status re-check makes
// double resolution impossible: the second caller gets ErrAlreadyResolved
// and no bet is touched twice.
func (s *MarketStore) Settle(ctx context.Context, id string, winning domain.Side, payouts []domain.Payout, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: settle %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM markets WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrMarketNotFound
		}
		return fmt.Errorf("postgres: settle %s: lock row: %w", id, err)
	}
	if domain.MarketStatus(status) == domain.MarketStatusResolved {
		return domain.ErrAlreadyResolved
	}

	if len(payouts) > 0 {
		batch := &pgx.Batch{}
		for _, p := range payouts {
			batch.Queue(
				`UPDATE bets SET payout = $2 WHERE id = $1 AND payout IS NULL`,
				p.BetID, p.Amount,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range payouts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: settle %s: write payouts: %w", id, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: settle %s: close batch: %w", id, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets SET status = 'resolved', winning_side = $2, resolved_at = $3
		 WHERE id = $1`, id, string(winning), at,
	); err != nil {
		return fmt.Errorf("postgres: settle %s: update market: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: settle %s: commit: %w", id, err)
	}
	return nil
}

// SetLastPrice records the latest observed reference price.
func (s *MarketStore) SetLastPrice(ctx context.Context, id string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET last_price = $2 WHERE id = $1`, id, price)
	if err != nil {
		return fmt.Errorf("postgres: set last price on %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
