package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updownbot/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Place inserts the bet and increments the owning market's pool in one
// transaction. The pool update is an SQL-side increment conditional on the
// market still being open: there is no read-then-write-back window, so
// concurrent stakes can never lose an update, and a stake can never land on
// a locked or resolved market.
func (s *BetStore) Place(ctx context.Context, bet domain.Bet) (domain.Bet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: place bet: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	poolUpdate := `UPDATE markets SET up_pool = up_pool + $2
		WHERE id = $1 AND status = 'open'`
	if bet.Side == domain.SideDown {
		poolUpdate = `UPDATE markets SET down_pool = down_pool + $2
			WHERE id = $1 AND status = 'open'`
	}

	tag, err := tx.Exec(ctx, poolUpdate, bet.MarketID, bet.Stake)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: place bet: pool update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing market from a closed one.
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM markets WHERE id = $1`, bet.MarketID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrMarketNotFound
		}
		if err != nil {
			return domain.Bet{}, fmt.Errorf("postgres: place bet: check market: %w", err)
		}
		return domain.Bet{}, domain.ErrMarketNotOpen
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO bets (id, user_id, market_id, side, stake, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		bet.ID, bet.UserID, bet.MarketID, string(bet.Side), bet.Stake, bet.CreatedAt,
	); err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: place bet: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: place bet: commit: %w", err)
	}
	return bet, nil
}

const betCols = `id, user_id, market_id, side, stake, payout, created_at`

func scanBets(rows pgx.Rows) ([]domain.Bet, error) {
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var side string
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.MarketID, &side,
			&b.Stake, &b.Payout, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Side = domain.Side(side)
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}

// ListByMarket returns all bets for a market in creation order, which is
// the order history reconstruction replays them in.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets
		 WHERE market_id = $1
		 ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", marketID, err)
	}
	return scanBets(rows)
}

// ListByUser returns a user's bets on the given market, oldest first.
func (s *BetStore) ListByUser(ctx context.Context, marketID string, userID int64) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets
		 WHERE market_id = $1 AND user_id = $2
		 ORDER BY created_at ASC`, marketID, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for user %d on %s: %w", userID, marketID, err)
	}
	return scanBets(rows)
}

// CountByMarket returns the number of bets placed on a market.
func (s *BetStore) CountByMarket(ctx context.Context, marketID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bets WHERE market_id = $1`, marketID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bets for %s: %w", marketID, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
