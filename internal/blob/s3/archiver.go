package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/settle"
)

// Archiver writes an immutable record of every settlement to object
// storage: a JSON summary under settlements/ and the full bet ledger as
// JSONL under ledgers/. Archives are advisory copies of what Postgres
// already holds; failures must never unwind a settlement.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets domain.MarketStore
	bets    domain.BetStore
	prefix  string
}

// NewArchiver creates an Archiver. reader may be nil; it only enables the
// skip-if-present check.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, markets domain.MarketStore, bets domain.BetStore, prefix string) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		markets: markets,
		bets:    bets,
		prefix:  prefix,
	}
}

// SettlementRecord is the archived settlement summary.
type SettlementRecord struct {
	Market        domain.Market   `json:"market"`
	WinningSide   domain.Side     `json:"winning_side"`
	TotalPool     decimal.Decimal `json:"total_pool"`
	WinnersPool   decimal.Decimal `json:"winners_pool"`
	LosersPool    decimal.Decimal `json:"losers_pool"`
	Distributable decimal.Decimal `json:"distributable"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	WinnerCount   int             `json:"winner_count"`
	BetCount      int             `json:"bet_count"`
	ArchivedAt    time.Time       `json:"archived_at"`
}

// ArchiveSettlement uploads the settlement summary and the bet ledger for
// a resolved market. Idempotent: an existing summary object short-circuits
// the whole call.
func (a *Archiver) ArchiveSettlement(ctx context.Context, marketID string, res settle.Result) error {
	recordPath := a.key("settlements", marketID+".json")

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, recordPath)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s: %w", marketID, err)
		}
		if exists {
			return nil
		}
	}

	mk, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}
	allBets, err := a.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}

	record := SettlementRecord{
		Market:        mk,
		WinningSide:   res.Winning,
		TotalPool:     res.TotalPool,
		WinnersPool:   res.WinnersPool,
		LosersPool:    res.LosersPool,
		Distributable: res.Distributable,
		Multiplier:    res.Multiplier,
		WinnerCount:   len(res.Payouts),
		BetCount:      len(allBets),
		ArchivedAt:    time.Now().UTC(),
	}
	summary, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: marshal summary: %w", marketID, err)
	}
	if err := a.writer.Put(ctx, recordPath, bytes.NewReader(summary), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}

	if len(allBets) == 0 {
		return nil
	}
	ledger, err := marshalJSONL(allBets)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: marshal ledger: %w", marketID, err)
	}
	ledgerPath := a.key("ledgers", marketID+".jsonl")
	if err := a.putLedger(ctx, ledgerPath, ledger); err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}

	return nil
}

// multipartWriter is the optional fast path for large ledgers.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

func (a *Archiver) putLedger(ctx context.Context, path string, ledger []byte) error {
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(ledger)) >= minPartSize {
		return mw.PutMultipart(ctx, path, bytes.NewReader(ledger), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(ledger), "application/x-ndjson")
}

func (a *Archiver) key(kind, name string) string {
	if a.prefix == "" {
		return kind + "/" + name
	}
	return a.prefix + "/" + kind + "/" + name
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
