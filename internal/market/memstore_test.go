package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

// memStore is an in-memory stand-in for the postgres stores. It mirrors
// their contract: insert-if-absent creation, conditional lifecycle updates,
// and stake placement that couples the bet insert with the pool increment
// under one lock.
type memStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	bets    map[string][]domain.Bet
}

func newMemStore() *memStore {
	return &memStore{
		markets: make(map[string]domain.Market),
		bets:    make(map[string][]domain.Bet),
	}
}

func (s *memStore) Create(_ context.Context, m domain.Market) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return false, nil
	}
	s.markets[m.ID] = m
	return true, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return m, nil
}

func (s *memStore) GetLatest(_ context.Context, underlying string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Market
	for id := range s.markets {
		m := s.markets[id]
		if m.Underlying != underlying {
			continue
		}
		if latest == nil || m.OpenedAt.After(latest.OpenedAt) {
			latest = &m
		}
	}
	if latest == nil {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return *latest, nil
}

func (s *memStore) Lock(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok || m.Status != domain.MarketStatusOpen {
		return false, nil
	}
	m.Status = domain.MarketStatusLocked
	m.LockedAt = &at
	s.markets[id] = m
	return true, nil
}

func (s *memStore) Settle(_ context.Context, id string, winning domain.Side, payouts []domain.Payout, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrMarketNotFound
	}
	if m.Status == domain.MarketStatusResolved {
		return domain.ErrAlreadyResolved
	}

	byBet := make(map[uuid.UUID]decimal.Decimal, len(payouts))
	for _, p := range payouts {
		byBet[p.BetID] = p.Amount
	}
	list := s.bets[id]
	for i := range list {
		if amount, ok := byBet[list[i].ID]; ok {
			a := amount
			list[i].Payout = &a
		}
	}

	m.Status = domain.MarketStatusResolved
	m.WinningSide = &winning
	m.ResolvedAt = &at
	s.markets[id] = m
	return nil
}

func (s *memStore) SetLastPrice(_ context.Context, id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrMarketNotFound
	}
	m.LastPrice = &price
	s.markets[id] = m
	return nil
}

func (s *memStore) Place(_ context.Context, bet domain.Bet) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[bet.MarketID]
	if !ok {
		return domain.Bet{}, domain.ErrMarketNotFound
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.Bet{}, domain.ErrMarketNotOpen
	}
	if bet.Side == domain.SideUp {
		m.UpPool = m.UpPool.Add(bet.Stake)
	} else {
		m.DownPool = m.DownPool.Add(bet.Stake)
	}
	s.markets[bet.MarketID] = m
	s.bets[bet.MarketID] = append(s.bets[bet.MarketID], bet)
	return bet, nil
}

func (s *memStore) ListByMarket(_ context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Bet(nil), s.bets[marketID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListByUser(_ context.Context, marketID string, userID int64) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.bets[marketID] {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) CountByMarket(_ context.Context, marketID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.bets[marketID])), nil
}

// heldLocks always reports the lock as taken by someone else.
type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// staticFeed returns a fixed price, or ErrNoPrice when failing is set.
type staticFeed struct {
	price   decimal.Decimal
	failing bool
}

func (f staticFeed) Fetch(context.Context, string) (decimal.Decimal, error) {
	if f.failing {
		return decimal.Decimal{}, domain.ErrNoPrice
	}
	return f.price, nil
}
