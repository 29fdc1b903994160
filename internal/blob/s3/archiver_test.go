package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/settle"
)

type memBlobStore struct {
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (m *memBlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrBlobNotFound
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (m *memBlobStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return infos, nil
}

type stubMarketStore struct {
	market domain.Market
}

func (s *stubMarketStore) Create(context.Context, domain.Market) (bool, error) { return false, nil }
func (s *stubMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	if id != s.market.ID {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return s.market, nil
}
func (s *stubMarketStore) GetLatest(context.Context, string) (domain.Market, error) {
	return s.market, nil
}
func (s *stubMarketStore) Lock(context.Context, string, time.Time) (bool, error) { return false, nil }
func (s *stubMarketStore) Settle(context.Context, string, domain.Side, []domain.Payout, time.Time) error {
	return nil
}
func (s *stubMarketStore) SetLastPrice(context.Context, string, decimal.Decimal) error { return nil }

type stubBetStore struct {
	bets []domain.Bet
}

func (s *stubBetStore) Place(_ context.Context, b domain.Bet) (domain.Bet, error) { return b, nil }
func (s *stubBetStore) ListByMarket(context.Context, string) ([]domain.Bet, error) {
	return s.bets, nil
}
func (s *stubBetStore) ListByUser(context.Context, string, int64) ([]domain.Bet, error) {
	return nil, nil
}
func (s *stubBetStore) CountByMarket(context.Context, string) (int64, error) {
	return int64(len(s.bets)), nil
}

func testArchiver(t *testing.T) (*Archiver, *memBlobStore) {
	t.Helper()

	blob := newMemBlobStore()
	winner := decimal.RequireFromString("14")
	markets := &stubMarketStore{market: domain.Market{
		ID:         "BTC-2026-08-29",
		Underlying: "BTC",
		Status:     domain.MarketStatusResolved,
		UpPool:     decimal.RequireFromString("70"),
		DownPool:   decimal.RequireFromString("30"),
	}}
	bets := &stubBetStore{bets: []domain.Bet{
		{ID: uuid.New(), Side: domain.SideUp, Stake: decimal.RequireFromString("10"), Payout: &winner},
		{ID: uuid.New(), Side: domain.SideDown, Stake: decimal.RequireFromString("30")},
	}}
	return NewArchiver(blob, blob, markets, bets, "archive"), blob
}

func sampleResult() settle.Result {
	return settle.Result{
		Winning:       domain.SideUp,
		TotalPool:     decimal.RequireFromString("100"),
		WinnersPool:   decimal.RequireFromString("70"),
		LosersPool:    decimal.RequireFromString("30"),
		Distributable: decimal.RequireFromString("98"),
		Multiplier:    decimal.RequireFromString("1.4"),
		Payouts:       []domain.Payout{{BetID: uuid.New(), Amount: decimal.RequireFromString("14")}},
	}
}

func TestArchiveSettlement(t *testing.T) {
	a, blob := testArchiver(t)

	if err := a.ArchiveSettlement(context.Background(), "BTC-2026-08-29", sampleResult()); err != nil {
		t.Fatalf("ArchiveSettlement: %v", err)
	}

	summary, ok := blob.objects["archive/settlements/BTC-2026-08-29.json"]
	if !ok {
		t.Fatalf("summary object missing; objects: %v", keys(blob.objects))
	}
	var record SettlementRecord
	if err := json.Unmarshal(summary, &record); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if record.WinningSide != domain.SideUp || record.BetCount != 2 || record.WinnerCount != 1 {
		t.Errorf("record = %+v", record)
	}
	if !record.Multiplier.Equal(decimal.RequireFromString("1.4")) {
		t.Errorf("multiplier = %s", record.Multiplier)
	}

	ledger, ok := blob.objects["archive/ledgers/BTC-2026-08-29.jsonl"]
	if !ok {
		t.Fatal("ledger object missing")
	}
	lines := strings.Split(strings.TrimSpace(string(ledger)), "\n")
	if len(lines) != 2 {
		t.Errorf("ledger lines = %d, want 2", len(lines))
	}
}

func TestArchiveSettlement_Idempotent(t *testing.T) {
	a, blob := testArchiver(t)
	ctx := context.Background()

	if err := a.ArchiveSettlement(ctx, "BTC-2026-08-29", sampleResult()); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	before := len(blob.objects)

	// Sabotage the ledger to prove the second call writes nothing.
	blob.objects["archive/ledgers/BTC-2026-08-29.jsonl"] = []byte("sentinel")

	if err := a.ArchiveSettlement(ctx, "BTC-2026-08-29", sampleResult()); err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if len(blob.objects) != before {
		t.Errorf("objects = %d, want %d", len(blob.objects), before)
	}
	if string(blob.objects["archive/ledgers/BTC-2026-08-29.jsonl"]) != "sentinel" {
		t.Error("second archive rewrote the ledger")
	}
}

func TestArchiveSettlement_UnknownMarket(t *testing.T) {
	a, _ := testArchiver(t)
	err := a.ArchiveSettlement(context.Background(), "ETH-2026-08-29", sampleResult())
	if err == nil {
		t.Fatal("expected error for unknown market")
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
