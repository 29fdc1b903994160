package notify

import (
	"context"
	"fmt"

	"github.com/updownlabs/updownbot/internal/market"
	"github.com/updownlabs/updownbot/internal/settle"
)

// AnnounceRoll reports a period boundary crossing. Failures are logged by
// Notify; callers fire and forget.
func (n *Notifier) AnnounceRoll(ctx context.Context, report market.RollReport) {
	msg := fmt.Sprintf("Market %s is now open.", report.CurrentID)
	if report.Locked {
		msg = fmt.Sprintf("Market %s is locked, awaiting resolution. %s", report.PreviousID, msg)
	}
	_ = n.Notify(ctx, EventRoll, "Period rolled", msg)
}

// AnnounceSettlement reports a completed settlement.
func (n *Notifier) AnnounceSettlement(ctx context.Context, marketID string, res settle.Result) {
	var msg string
	if res.HasWinners() {
		msg = fmt.Sprintf("%s resolved %s. Pool %s, multiplier %s, %d winning bet(s) paid.",
			marketID, res.Winning.Label(), res.TotalPool, res.Multiplier.Round(4), len(res.Payouts))
	} else {
		msg = fmt.Sprintf("%s resolved %s with no winning bets. The pool is void.",
			marketID, res.Winning.Label())
	}
	_ = n.Notify(ctx, EventSettlement, "Market settled", msg)
}
