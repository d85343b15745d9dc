// Package paper simulates a broker: a signed-position account, a pending-order queue and fill recording.
package paper

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCash is returned when a buy costs more than the free cash.
	ErrInsufficientCash = errors.New("insufficient cash for buy")
	// ErrInvalidFill rejects zero quantities and non-positive prices.
	ErrInvalidFill = errors.New("invalid fill")
)

type positionState struct {
	Qty     float64 // signed share count
	AvgCost decimal.Decimal
}

// Account tracks virtual cash, realized PnL, and signed per-symbol positions.
type Account struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	cash         decimal.Decimal
	realizedPnL  decimal.Decimal
	fees         decimal.Decimal
	positions    map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         float64
	AvgCost     float64
	MarketValue float64
	Unrealized  float64
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Fees        float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account populated with starting cash.
func NewAccount(startingCash float64) *Account {
	cash := decimal.NewFromFloat(startingCash)
	return &Account{
		startingCash: cash,
		cash:         cash,
		positions:    make(map[string]positionState),
	}
}

// StartingCash returns the initial bankroll.
func (a *Account) StartingCash() float64 { return a.startingCash.InexactFloat64() }

// Apply books a signed fill. Positive qty buys, negative qty sells; sells may open or extend a short.
func (a *Account) Apply(symbol string, qty, price, commission float64) error {
	if qty == 0 || math.IsNaN(qty) {
		return ErrInvalidFill
	}
	if price <= 0 || math.IsNaN(price) {
		return ErrInvalidFill
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	px := decimal.NewFromFloat(price)
	fee := decimal.NewFromFloat(commission)
	cost := px.Mul(decimal.NewFromFloat(qty))
	if qty > 0 && cost.Add(fee).GreaterThan(a.cash) {
		return ErrInsufficientCash
	}

	state := a.positions[symbol]
	newQty := state.Qty + qty
	switch {
	case state.Qty == 0 || sameSign(state.Qty, qty):
		held := decimal.NewFromFloat(math.Abs(state.Qty))
		added := decimal.NewFromFloat(math.Abs(qty))
		state.AvgCost = state.AvgCost.Mul(held).Add(px.Mul(added)).Div(held.Add(added))
	default:
		closed := math.Min(math.Abs(qty), math.Abs(state.Qty))
		pnl := px.Sub(state.AvgCost).Mul(decimal.NewFromFloat(closed))
		if state.Qty < 0 {
			pnl = pnl.Neg()
		}
		a.realizedPnL = a.realizedPnL.Add(pnl)
		if newQty != 0 && !sameSign(newQty, state.Qty) {
			// flipped through zero: the remainder opens at the fill price
			state.AvgCost = px
		}
	}
	state.Qty = newQty

	a.cash = a.cash.Sub(cost).Sub(fee)
	a.fees = a.fees.Add(fee)
	if state.Qty == 0 {
		delete(a.positions, symbol)
	} else {
		a.positions[symbol] = state
	}
	return nil
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

// Snapshot returns a copy of balances, optionally marked using the supplied prices map.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for sym, pos := range a.positions {
		snap := PositionSnapshot{Qty: pos.Qty, AvgCost: pos.AvgCost.InexactFloat64()}
		if mark, ok := prices[sym]; ok && mark > 0 {
			qty := decimal.NewFromFloat(pos.Qty)
			value := decimal.NewFromFloat(mark).Mul(qty)
			snap.MarketValue = value.InexactFloat64()
			snap.Unrealized = value.Sub(pos.AvgCost.Mul(qty)).InexactFloat64()
			equity = equity.Add(value)
		}
		positions[sym] = snap
	}

	return Snapshot{
		Cash:        a.cash.InexactFloat64(),
		RealizedPnL: a.realizedPnL.InexactFloat64(),
		Fees:        a.fees.InexactFloat64(),
		Equity:      equity.InexactFloat64(),
		Positions:   positions,
	}
}

// Position returns the signed position size for the supplied symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// Held lists symbols with a non-zero position, sorted.
func (a *Account) Held() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.positions))
	for sym := range a.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RealizedPnL returns total closed-trade profit and loss before fees.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL.InexactFloat64()
}
