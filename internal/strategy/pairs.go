// Package strategy decides pair entries and exits from the live spread z-score.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/risk"
)

// PositionState is the sign of the z-score at entry, or Flat.
type PositionState int

const (
	Flat        PositionState = 0
	LongSpread  PositionState = 1  // long x, short y
	ShortSpread PositionState = -1 // short x, long y
)

func (s PositionState) String() string {
	switch s {
	case LongSpread:
		return "long_spread"
	case ShortSpread:
		return "short_spread"
	default:
		return "flat"
	}
}

// Params expresses tunable knobs of the pairs machine.
type Params struct {
	EntryNotional  float64
	EntryThreshold float64
	ExitThreshold  float64
}

// Inputs is everything the machine reads from the outside world for one evaluation.
type Inputs struct {
	PriceX   float64
	PriceY   float64
	Invested   bool // either leg currently held, per the portfolio
	Unbalanced bool // exactly one leg held
	Pending    bool // open orders on either leg
}

// ModelSource refits the spread model from the current lookback window.
type ModelSource func() (*pairs.SpreadModel, error)

// Decision reasons.
const (
	ReasonPending      = "pending_orders"
	ReasonHolding      = "holding"
	ReasonSignFlip     = "sign_flip"
	ReasonExitBand     = "inside_exit_band"
	ReasonUnknownEntry = "unknown_entry"
	ReasonUnbalanced   = "single_leg"
	ReasonDegenerate   = "degenerate_spread"
	ReasonNotCointeg   = "not_cointegrated"
	ReasonBelowEntry   = "below_entry_threshold"
	ReasonZeroShares   = "zero_shares"
	ReasonRiskLimit    = "risk_limit"
	ReasonEntered      = "entered"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Orders     []execution.Order
	Skipped    bool
	Exited     bool
	Entered    bool
	ExitReason string
	Reason     string
	Spread     float64
	Z          float64
	Model      *pairs.SpreadModel
	State      PositionState
	Veto       error // risk check that blocked an entry
}

// ErrInvalidPrice is returned when a leg price cannot size an order.
var ErrInvalidPrice = errors.New("invalid price")

// PairsMachine holds the entry sign of the open pair position and emits orders.
type PairsMachine struct {
	x, y   string
	params Params
	limits risk.Limits
	state  PositionState
}

// NewPairsMachine builds a flat machine trading x against y.
func NewPairsMachine(x, y string, params Params, limits risk.Limits) *PairsMachine {
	return &PairsMachine{x: x, y: y, params: params, limits: limits}
}

// Name returns the configured identifier for logging.
func (m *PairsMachine) Name() string { return "Pairs(" + m.x + "/" + m.y + ")" }

// State returns the recorded entry sign.
func (m *PairsMachine) State() PositionState { return m.state }

// Reset forgets the entry sign. A pair still held is then flattened on the next evaluation.
func (m *PairsMachine) Reset() { m.state = Flat }

// Evaluate runs the exit check and then, when flat, the entry check against a freshly built model.
func (m *PairsMachine) Evaluate(in Inputs, current *pairs.SpreadModel, rebuild ModelSource) (Decision, error) {
	d := Decision{Model: current, State: m.state}
	if in.Pending {
		d.Skipped = true
		d.Reason = ReasonPending
		return d, nil
	}
	if in.PriceX <= 0 || in.PriceY <= 0 || math.IsNaN(in.PriceX) || math.IsNaN(in.PriceY) {
		return d, fmt.Errorf("%w: x=%v y=%v", ErrInvalidPrice, in.PriceX, in.PriceY)
	}

	// holdings are authoritative over the recorded sign
	if !in.Invested {
		m.state = Flat
	}

	switch {
	case in.Invested && in.Unbalanced:
		// a lone leg is never held, whatever the spread says
		d.ExitReason = ReasonUnbalanced
	case in.Invested:
		if current == nil {
			return d, errors.New("evaluate: invested without a spread model")
		}
		spread, z, err := current.Project(in.PriceX, in.PriceY)
		d.Spread, d.Z = spread, z
		switch {
		case errors.Is(err, pairs.ErrDegenerateSpread):
			d.ExitReason = ReasonDegenerate
		case err != nil:
			return d, err
		case m.state == Flat:
			d.ExitReason = ReasonUnknownEntry
		case math.Copysign(1, z) != float64(m.state):
			d.ExitReason = ReasonSignFlip
		case math.Abs(z) < m.params.ExitThreshold:
			d.ExitReason = ReasonExitBand
		default:
			d.Reason = ReasonHolding
			d.State = m.state
			return d, nil
		}
	}
	if d.ExitReason != "" {
		d.Orders = append(d.Orders, execution.FlattenOrder(m.x), execution.FlattenOrder(m.y))
		d.Exited = true
		m.state = Flat
	}

	model, err := rebuild()
	if err != nil {
		d.State = m.state
		return d, fmt.Errorf("rebuild model: %w", err)
	}
	d.Model = model
	d.State = m.state

	spread, z, err := model.Project(in.PriceX, in.PriceY)
	d.Spread, d.Z = spread, z
	switch {
	case errors.Is(err, pairs.ErrDegenerateSpread):
		d.Reason = ReasonDegenerate
		return d, nil
	case err != nil:
		return d, err
	case !model.IsCointegrated:
		d.Reason = ReasonNotCointeg
		return d, nil
	case math.Abs(z) < m.params.EntryThreshold:
		d.Reason = ReasonBelowEntry
		return d, nil
	}

	sign := math.Copysign(1, z)
	sharesX := math.Round(m.params.EntryNotional / in.PriceX)
	sharesY := math.Round(m.params.EntryNotional / in.PriceY)
	if sharesX == 0 || sharesY == 0 {
		d.Reason = ReasonZeroShares
		return d, nil
	}
	if err := m.limits.CheckEntry(sharesX*in.PriceX, sharesY*in.PriceY); err != nil {
		d.Reason = ReasonRiskLimit
		d.Veto = err
		return d, nil
	}

	d.Orders = append(d.Orders,
		execution.MarketOrder(m.x, sign*sharesX),
		execution.MarketOrder(m.y, -sign*sharesY),
	)
	m.state = PositionState(sign)
	d.Entered = true
	d.Reason = ReasonEntered
	d.State = m.state
	return d, nil
}
