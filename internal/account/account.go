// Package account tracks one competitor's positions, cash and fees, and
// derives mark-to-market profit.
package account

import (
	"github.com/shopspring/decimal"

	"skoll/internal/common"
)

// Account holds a competitor's per-instrument positions and cash balance.
// Cash and positions are always integer; Profit is derived and always
// integer too. The ETF position alone feeds the
// position-limit projection; FUTURE lots acquired through hedging are
// tracked separately so a hedge can never eat into the ETF risk budget.
type Account struct {
	Cash int64
	Fees int64

	positions map[common.Instrument]int64
	marks     map[common.Instrument]int64
}

// New returns a freshly zeroed account.
func New() *Account {
	return &Account{
		positions: make(map[common.Instrument]int64),
		marks:     make(map[common.Instrument]int64),
	}
}

// ApplyTrade mutates position and cash for one fill and returns the fee
// charged (positive) or rebated (negative). Takers pay ceil(price × volume
// × rate); the maker fee is price × volume × rate rounded toward zero, so
// a negative maker rate is a true rebate of the floor of its magnitude.
//
// Fee arithmetic runs through shopspring/decimal rather than float64 so
// that ceil/floor rounding reproduces bit-for-bit regardless of how the
// rate was configured.
func (a *Account) ApplyTrade(instrument common.Instrument, side common.Side, price, volume int64, isMaker bool, rate decimal.Decimal) int64 {
	switch side {
	case common.Buy:
		a.positions[instrument] += volume
		a.Cash -= price * volume
	case common.Sell:
		a.positions[instrument] -= volume
		a.Cash += price * volume
	}

	notional := decimal.NewFromInt(price).Mul(decimal.NewFromInt(volume))
	feeDec := notional.Mul(rate)
	var fee int64
	if isMaker {
		// Maker rounding is toward zero: a rebate (negative rate) pays
		// out floor of its magnitude, so a -0.0001 rate on 10100
		// notional rebates exactly 1, never 2.
		fee = feeDec.IntPart()
	} else {
		fee = feeDec.Ceil().IntPart()
	}

	a.Fees += fee
	return fee
}

// Position is the signed lot count held in one instrument.
func (a *Account) Position(instrument common.Instrument) int64 {
	return a.positions[instrument]
}

// MarkToMarket records an instrument's last-known price for profit
// calculation.
func (a *Account) MarkToMarket(instrument common.Instrument, price int64) {
	a.marks[instrument] = price
}

// Profit is balance + Σ position × last_mark − cumulative_fees. An instrument with no mark yet contributes
// nothing.
func (a *Account) Profit() int64 {
	profit := a.Cash - a.Fees
	for instrument, position := range a.positions {
		profit += position * a.marks[instrument]
	}
	return profit
}
