// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"pairsbot-go/internal/metrics"

	"github.com/rs/zerolog"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// OrderType distinguishes share-count orders from portfolio-target orders.
type OrderType string

const (
	// Market buys or sells a fixed share count.
	Market OrderType = "MARKET"
	// TargetPercent moves the holding to a fraction of portfolio value.
	TargetPercent OrderType = "TARGET_PERCENT"
)

// Order represents a placement request the executor can process.
type Order struct {
	Symbol string
	Type   OrderType
	Side   Side
	Qty    float64 // share count, never negative
	Target float64 // portfolio fraction, TargetPercent only
}

// MarketOrder builds a share-count order whose direction is the sign of signedQty.
func MarketOrder(symbol string, signedQty float64) Order {
	side := Buy
	if signedQty < 0 {
		side = Sell
	}
	return Order{Symbol: symbol, Type: Market, Side: side, Qty: math.Abs(signedQty)}
}

// FlattenOrder targets a zero holding in symbol.
func FlattenOrder(symbol string) Order {
	return Order{Symbol: symbol, Type: TargetPercent, Target: 0}
}

// SignedQty returns the share count signed by side.
func (o Order) SignedQty() float64 {
	if o.Side == Sell {
		return -o.Qty
	}
	return o.Qty
}

func (o Order) String() string {
	if o.Type == TargetPercent {
		return fmt.Sprintf("%s target %.2f%%", o.Symbol, o.Target*100)
	}
	return fmt.Sprintf("%s %s %.0f", o.Symbol, o.Side, o.Qty)
}

// Fill records a booked execution.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Ts         time.Time `json:"ts"`
}

// Venue accepts orders on behalf of the executor.
type Venue interface {
	SubmitOrder(ctx context.Context, symbol string, signedQty float64) error
	SubmitTargetPercent(ctx context.Context, symbol string, fraction float64) error
}

// Executor logs, counts and forwards orders to a venue.
type Executor struct {
	log   zerolog.Logger
	venue Venue
}

// NewExecutor wraps a venue. A nil venue makes the executor log orders without placing them.
func NewExecutor(log zerolog.Logger, venue Venue) *Executor {
	return &Executor{log: log, venue: venue}
}

// Submit forwards a single order. Venue errors are returned unchanged so the caller can abort.
func (executor *Executor) Submit(ctx context.Context, order Order) error {
	label := string(order.Side)
	if order.Type == TargetPercent {
		label = string(TargetPercent)
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, label).Inc()
	executor.log.Info().
		Str("sym", order.Symbol).
		Str("type", string(order.Type)).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("target", order.Target).
		Msg("submit order")

	if executor.venue == nil {
		return nil
	}
	switch order.Type {
	case Market:
		if order.Qty == 0 {
			return fmt.Errorf("order %s: zero quantity", order.Symbol)
		}
		return executor.venue.SubmitOrder(ctx, order.Symbol, order.SignedQty())
	case TargetPercent:
		return executor.venue.SubmitTargetPercent(ctx, order.Symbol, order.Target)
	default:
		return fmt.Errorf("order %s: unknown type %q", order.Symbol, order.Type)
	}
}
