// Package settle computes pari-mutuel payouts. Everything here is pure:
// final pools and the full bet list in, per-bet payouts out. Persistence
// and lifecycle transitions are the caller's problem.
package settle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updownbot/internal/domain"
)

// Result describes a computed settlement.
type Result struct {
	Winning       domain.Side
	TotalPool     decimal.Decimal
	WinnersPool   decimal.Decimal
	LosersPool    decimal.Decimal
	Distributable decimal.Decimal
	// Multiplier is distributable / winnersPool, applied per unit stake.
	// It has no upper bound: a tiny winners pool against a large total is
	// intended pari-mutuel behavior, not an error.
	Multiplier decimal.Decimal
	Payouts    []domain.Payout
}

// HasWinners reports whether any stake was on the winning side.
func (r Result) HasWinners() bool {
	return r.WinnersPool.IsPositive()
}

// Compute settles a market given its final pools, the winning side, the fee
// fraction (0 <= fee < 1), and every bet placed on the market.
//
// When the winners pool is empty no payouts are produced and all stake is
// void: losers are not refunded. That is a deliberate policy, not an
// accident of the formula.
func Compute(upPool, downPool decimal.Decimal, winning domain.Side, fee decimal.Decimal, bets []domain.Bet) (Result, error) {
	if !winning.Valid() {
		return Result{}, fmt.Errorf("settle: invalid winning side %q", winning)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Result{}, fmt.Errorf("settle: fee %s out of range [0,1)", fee)
	}

	res := Result{
		Winning:   winning,
		TotalPool: upPool.Add(downPool),
	}
	if winning == domain.SideUp {
		res.WinnersPool = upPool
	} else {
		res.WinnersPool = downPool
	}
	res.LosersPool = res.TotalPool.Sub(res.WinnersPool)

	if !res.WinnersPool.IsPositive() {
		// No winners: payouts stay unset, the market still resolves.
		return res, nil
	}

	res.Distributable = res.TotalPool.Mul(decimal.NewFromInt(1).Sub(fee))
	res.Multiplier = res.Distributable.Div(res.WinnersPool)

	for _, b := range bets {
		if b.Side != winning {
			continue
		}
		res.Payouts = append(res.Payouts, domain.Payout{
			BetID:  b.ID,
			Amount: b.Stake.Mul(res.Multiplier),
		})
	}
	return res, nil
}
