package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/period"
	"github.com/updownlabs/updownbot/internal/settle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, store *memStore) *Manager {
	t.Helper()
	resolver, err := period.NewResolver("Europe/Rome", "15:30")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return NewManager(store, store, resolver, nil, nil, "BTC", dec("0.02"), testLogger())
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(y, m, d int) period.Date {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestEnsureOpenMarket_Idempotent(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	m1, created, err := mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	if err != nil {
		t.Fatalf("first EnsureOpenMarket: %v", err)
	}
	if !created {
		t.Error("first call should create the market")
	}
	if m1.ID != "BTC-2026-08-29" {
		t.Errorf("market id = %q", m1.ID)
	}

	m2, created, err := mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	if err != nil {
		t.Fatalf("second EnsureOpenMarket: %v", err)
	}
	if created {
		t.Error("second call must not create a duplicate")
	}
	if m2.ID != m1.ID {
		t.Errorf("second call returned %q, want %q", m2.ID, m1.ID)
	}
	if len(store.markets) != 1 {
		t.Errorf("store has %d markets, want 1", len(store.markets))
	}
}

func TestEnsureOpenMarket_NotReopened(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	if _, _, err := mgr.EnsureOpenMarket(ctx, day(2026, 8, 29)); err != nil {
		t.Fatalf("EnsureOpenMarket: %v", err)
	}
	if _, err := store.Lock(ctx, "BTC-2026-08-29", time.Now()); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	_, _, err := mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	if !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Errorf("got %v, want ErrMarketNotOpen", err)
	}
}

func TestEnsureOpenMarket_CapturesOpenPrice(t *testing.T) {
	store := newMemStore()
	resolver, _ := period.NewResolver("Europe/Rome", "15:30")
	mgr := NewManager(store, store, resolver, staticFeed{price: dec("64123.5")}, nil, "BTC", dec("0.02"), testLogger())

	m, _, err := mgr.EnsureOpenMarket(context.Background(), day(2026, 8, 29))
	if err != nil {
		t.Fatalf("EnsureOpenMarket: %v", err)
	}
	if m.OpenPrice == nil || !m.OpenPrice.Equal(dec("64123.5")) {
		t.Errorf("open price = %v, want 64123.5", m.OpenPrice)
	}
}

func TestEnsureOpenMarket_FeedFailureNotFatal(t *testing.T) {
	store := newMemStore()
	resolver, _ := period.NewResolver("Europe/Rome", "15:30")
	mgr := NewManager(store, store, resolver, staticFeed{failing: true}, nil, "BTC", dec("0.02"), testLogger())

	m, _, err := mgr.EnsureOpenMarket(context.Background(), day(2026, 8, 29))
	if err != nil {
		t.Fatalf("EnsureOpenMarket with failing feed: %v", err)
	}
	if m.OpenPrice != nil {
		t.Errorf("open price = %v, want nil", m.OpenPrice)
	}
}

func TestPlaceStake_Validation(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))

	cases := []struct {
		name   string
		side   domain.Side
		amount string
	}{
		{"zero amount", domain.SideUp, "0"},
		{"negative amount", domain.SideDown, "-5"},
		{"bad side", domain.Side("sideways"), "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.PlaceStake(ctx, "BTC-2026-08-29", 1, tc.side, dec(tc.amount))
			if !errors.Is(err, domain.ErrInvalidStake) {
				t.Errorf("got %v, want ErrInvalidStake", err)
			}
		})
	}
}

func TestPlaceStake_MarketNotOpen(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	store.Lock(ctx, "BTC-2026-08-29", time.Now())

	_, err := mgr.PlaceStake(ctx, "BTC-2026-08-29", 1, domain.SideUp, dec("10"))
	if !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Errorf("got %v, want ErrMarketNotOpen", err)
	}
}

func TestPlaceStake_PoolConservation(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))

	stakes := []struct {
		side   domain.Side
		amount string
	}{
		{domain.SideUp, "10"}, {domain.SideDown, "3.5"}, {domain.SideUp, "0.25"},
		{domain.SideDown, "41"}, {domain.SideUp, "7.75"},
	}
	want := decimal.Zero
	for i, s := range stakes {
		if _, err := mgr.PlaceStake(ctx, "BTC-2026-08-29", int64(i), s.side, dec(s.amount)); err != nil {
			t.Fatalf("PlaceStake #%d: %v", i, err)
		}
		want = want.Add(dec(s.amount))
	}

	m, _ := store.GetByID(ctx, "BTC-2026-08-29")
	if !m.TotalPool().Equal(want) {
		t.Errorf("total pool = %s, want %s", m.TotalPool(), want)
	}
	if !m.UpPool.Equal(dec("18")) || !m.DownPool.Equal(dec("44.5")) {
		t.Errorf("pools = %s/%s, want 18/44.5", m.UpPool, m.DownPool)
	}
}

func TestPlaceStake_Concurrent(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))

	const workers = 64
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			side := domain.SideUp
			if n%2 == 1 {
				side = domain.SideDown
			}
			_, err := mgr.PlaceStake(ctx, "BTC-2026-08-29", int64(n), side, dec("1"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent PlaceStake: %v", err)
		}
	}

	m, _ := store.GetByID(ctx, "BTC-2026-08-29")
	if !m.TotalPool().Equal(dec("64")) {
		t.Errorf("total pool = %s, want 64 (lost update)", m.TotalPool())
	}
}

func TestRollPeriod(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	rome, _ := time.LoadLocation("Europe/Rome")

	// Open yesterday's market, then roll at today's cutover.
	if _, _, err := mgr.EnsureOpenMarket(ctx, day(2026, 8, 28)); err != nil {
		t.Fatalf("EnsureOpenMarket: %v", err)
	}
	now := time.Date(2026, 8, 29, 15, 30, 0, 0, rome)

	report, err := mgr.RollPeriod(ctx, now)
	if err != nil {
		t.Fatalf("RollPeriod: %v", err)
	}
	if !report.Locked || !report.Created {
		t.Errorf("report = %+v, want locked and created", report)
	}
	if report.PreviousID != "BTC-2026-08-28" || report.CurrentID != "BTC-2026-08-29" {
		t.Errorf("report ids = %s / %s", report.PreviousID, report.CurrentID)
	}

	prev, _ := store.GetByID(ctx, "BTC-2026-08-28")
	if prev.Status != domain.MarketStatusLocked || prev.LockedAt == nil {
		t.Errorf("previous market status = %s", prev.Status)
	}
	curr, _ := store.GetByID(ctx, "BTC-2026-08-29")
	if curr.Status != domain.MarketStatusOpen {
		t.Errorf("current market status = %s", curr.Status)
	}

	// Second invocation at the same boundary is a no-op.
	report, err = mgr.RollPeriod(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second RollPeriod: %v", err)
	}
	if report.Locked || report.Created {
		t.Errorf("second roll changed state: %+v", report)
	}
}

func TestRollPeriod_MissingPreviousMarket(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	rome, _ := time.LoadLocation("Europe/Rome")

	report, err := mgr.RollPeriod(context.Background(), time.Date(2026, 8, 29, 16, 0, 0, 0, rome))
	if err != nil {
		t.Fatalf("RollPeriod: %v", err)
	}
	if report.Locked {
		t.Error("locked a market that never existed")
	}
	if !report.Created {
		t.Error("current market was not created")
	}
}

func TestRollPeriod_NeverRelocksResolved(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	rome, _ := time.LoadLocation("Europe/Rome")

	mgr.EnsureOpenMarket(ctx, day(2026, 8, 28))
	store.Lock(ctx, "BTC-2026-08-28", time.Now())
	if err := store.Settle(ctx, "BTC-2026-08-28", domain.SideUp, nil, time.Now()); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	report, err := mgr.RollPeriod(ctx, time.Date(2026, 8, 29, 16, 0, 0, 0, rome))
	if err != nil {
		t.Fatalf("RollPeriod: %v", err)
	}
	if report.Locked {
		t.Error("rolled over an already resolved market")
	}
	m, _ := store.GetByID(ctx, "BTC-2026-08-28")
	if m.Status != domain.MarketStatusResolved {
		t.Errorf("resolved market regressed to %s", m.Status)
	}
}

func TestRollPeriod_LockHeldIsBenign(t *testing.T) {
	store := newMemStore()
	resolver, _ := period.NewResolver("Europe/Rome", "15:30")
	mgr := NewManager(store, store, resolver, nil, heldLocks{}, "BTC", dec("0.02"), testLogger())
	rome, _ := time.LoadLocation("Europe/Rome")

	report, err := mgr.RollPeriod(context.Background(), time.Date(2026, 8, 29, 16, 0, 0, 0, rome))
	if err != nil {
		t.Fatalf("RollPeriod with held lock: %v", err)
	}
	if report.Locked || report.Created {
		t.Errorf("held lock still changed state: %+v", report)
	}
}

func TestResolve(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))

	// 70 up across two users, 30 down.
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 1, domain.SideUp, dec("10"))
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 2, domain.SideUp, dec("60"))
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 3, domain.SideDown, dec("30"))

	result, err := mgr.Resolve(ctx, "BTC-2026-08-29", domain.SideUp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !result.Multiplier.Equal(dec("1.4")) {
		t.Errorf("multiplier = %s, want 1.4", result.Multiplier)
	}

	m, _ := store.GetByID(ctx, "BTC-2026-08-29")
	if m.Status != domain.MarketStatusResolved || m.ResolvedAt == nil {
		t.Errorf("status = %s after resolve", m.Status)
	}
	if m.WinningSide == nil || *m.WinningSide != domain.SideUp {
		t.Errorf("winning side = %v", m.WinningSide)
	}

	bets, _ := store.ListByMarket(ctx, "BTC-2026-08-29")
	for _, b := range bets {
		switch {
		case b.Side == domain.SideUp && b.Stake.Equal(dec("10")):
			if b.Payout == nil || !b.Payout.Equal(dec("14")) {
				t.Errorf("stake 10 payout = %v, want 14", b.Payout)
			}
		case b.Side == domain.SideDown:
			if b.Payout != nil {
				t.Errorf("losing bet has payout %s", b.Payout)
			}
		}
	}
}

// raceStore runs a callback just before the settlement bet listing,
// simulating a stake that arrives while a resolve is underway.
type raceStore struct {
	*memStore
	beforeList func()
}

func (s *raceStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	if s.beforeList != nil {
		f := s.beforeList
		s.beforeList = nil
		f()
	}
	return s.memStore.ListByMarket(ctx, marketID)
}

func TestResolve_ClosesIntakeBeforeSnapshot(t *testing.T) {
	store := &raceStore{memStore: newMemStore()}
	resolver, _ := period.NewResolver("Europe/Rome", "15:30")
	mgr := NewManager(store, store, resolver, nil, nil, "BTC", dec("0.02"), testLogger())
	ctx := context.Background()

	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 1, domain.SideUp, dec("10"))
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 2, domain.SideDown, dec("30"))

	// This stake fires between the status check and the bet listing. It
	// must be rejected, not accepted into pools the settlement cannot see.
	var lateErr error
	store.beforeList = func() {
		_, lateErr = mgr.PlaceStake(ctx, "BTC-2026-08-29", 99, domain.SideUp, dec("40"))
	}

	result, err := mgr.Resolve(ctx, "BTC-2026-08-29", domain.SideUp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !errors.Is(lateErr, domain.ErrMarketNotOpen) {
		t.Errorf("late stake error = %v, want ErrMarketNotOpen", lateErr)
	}

	if !result.TotalPool.Equal(dec("40")) {
		t.Errorf("settled total = %s, want 40", result.TotalPool)
	}
	if len(result.Payouts) != 1 || !result.Payouts[0].Amount.Equal(dec("39.2")) {
		t.Errorf("payouts = %+v", result.Payouts)
	}

	m, _ := store.GetByID(ctx, "BTC-2026-08-29")
	if !m.UpPool.Equal(dec("10")) || !m.DownPool.Equal(dec("30")) {
		t.Errorf("pools = %s/%s, a stake slipped past settlement", m.UpPool, m.DownPool)
	}
	if m.Status != domain.MarketStatusResolved {
		t.Errorf("status = %s", m.Status)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 1, domain.SideUp, dec("10"))

	if _, err := mgr.Resolve(ctx, "BTC-2026-08-29", domain.SideUp); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	before, _ := store.ListByMarket(ctx, "BTC-2026-08-29")

	_, err := mgr.Resolve(ctx, "BTC-2026-08-29", domain.SideDown)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("got %v, want ErrAlreadyResolved", err)
	}

	after, _ := store.ListByMarket(ctx, "BTC-2026-08-29")
	for i := range before {
		same := (before[i].Payout == nil && after[i].Payout == nil) ||
			(before[i].Payout != nil && after[i].Payout != nil && before[i].Payout.Equal(*after[i].Payout))
		if !same {
			t.Errorf("payout for bet %s changed on second resolve", before[i].ID)
		}
	}
}

func TestResolve_NoWinners(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))
	mgr.PlaceStake(ctx, "BTC-2026-08-29", 1, domain.SideDown, dec("50"))

	result, err := mgr.Resolve(ctx, "BTC-2026-08-29", domain.SideUp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.HasWinners() || len(result.Payouts) != 0 {
		t.Errorf("expected no winners, got %d payouts", len(result.Payouts))
	}
	m, _ := store.GetByID(ctx, "BTC-2026-08-29")
	if m.Status != domain.MarketStatusResolved {
		t.Errorf("market not resolved: %s", m.Status)
	}
}

func TestResolve_NotFound(t *testing.T) {
	mgr := newTestManager(t, newMemStore())
	_, err := mgr.Resolve(context.Background(), "BTC-1999-01-01", domain.SideUp)
	if !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("got %v, want ErrMarketNotFound", err)
	}
}

func TestGetLatestMarket(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	mgr.now = func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) }
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 28))
	mgr.now = func() time.Time { return time.Date(2026, 8, 29, 16, 0, 0, 0, time.UTC) }
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 29))

	m, err := mgr.GetLatestMarket(ctx)
	if err != nil {
		t.Fatalf("GetLatestMarket: %v", err)
	}
	if m.ID != "BTC-2026-08-29" {
		t.Errorf("latest = %s, want BTC-2026-08-29", m.ID)
	}
}

func TestHooks(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	rome, _ := time.LoadLocation("Europe/Rome")

	var rolls []RollReport
	var resolved []string
	mgr.SetHooks(
		func(_ context.Context, r RollReport) { rolls = append(rolls, r) },
		func(_ context.Context, id string, _ settle.Result) { resolved = append(resolved, id) },
	)

	mgr.EnsureOpenMarket(ctx, day(2026, 8, 28))
	mgr.PlaceStake(ctx, "BTC-2026-08-28", 1, domain.SideUp, dec("10"))

	if _, err := mgr.RollPeriod(ctx, time.Date(2026, 8, 29, 16, 0, 0, 0, rome)); err != nil {
		t.Fatalf("RollPeriod: %v", err)
	}
	if len(rolls) != 1 || rolls[0].PreviousID != "BTC-2026-08-28" {
		t.Fatalf("roll hook calls = %+v", rolls)
	}

	// A no-op roll must stay silent.
	if _, err := mgr.RollPeriod(ctx, time.Date(2026, 8, 29, 16, 5, 0, 0, rome)); err != nil {
		t.Fatalf("second RollPeriod: %v", err)
	}
	if len(rolls) != 1 {
		t.Errorf("no-op roll fired the hook: %+v", rolls)
	}

	if _, err := mgr.Resolve(ctx, "BTC-2026-08-28", domain.SideUp); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0] != "BTC-2026-08-28" {
		t.Errorf("resolve hook calls = %v", resolved)
	}
}

func TestCurrentMarket_FormatsPeriodID(t *testing.T) {
	store := newMemStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()
	rome, _ := time.LoadLocation("Europe/Rome")

	mgr.now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 0, 0, rome) }
	// 10:00 Rome is before the 15:30 cutover, so the market of record is
	// the 28th.
	mgr.EnsureOpenMarket(ctx, day(2026, 8, 28))

	m, err := mgr.CurrentMarket(ctx)
	if err != nil {
		t.Fatalf("CurrentMarket: %v", err)
	}
	if m.ID != "BTC-2026-08-28" {
		t.Errorf("current = %s, want BTC-2026-08-28", m.ID)
	}
}
