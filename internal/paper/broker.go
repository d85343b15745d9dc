package paper

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/metrics"
)

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(execution.Fill) error
}

// PriceSource quotes the price a queued order settles at.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// BrokerConfig holds the paper fill settings. Costs only affect paper fills.
type BrokerConfig struct {
	StartingCash       float64
	CommissionPerShare float64
	Slippage           float64 // price units added to buys and taken from sells
}

type pendingOrder struct {
	id     string
	order  execution.Order
	queued time.Time
}

// Broker accepts orders into a pending queue and fills them when Settle runs.
type Broker struct {
	mu        sync.Mutex
	cfg       BrokerConfig
	account   *Account
	ledger    *Ledger
	pending   []pendingOrder
	recorders []FillRecorder
	log       zerolog.Logger
	now       func() time.Time
}

// NewBroker constructs a paper broker with an empty queue.
func NewBroker(cfg BrokerConfig, log zerolog.Logger, recorders ...FillRecorder) *Broker {
	return &Broker{
		cfg:       cfg,
		account:   NewAccount(cfg.StartingCash),
		ledger:    NewLedger(64),
		recorders: recorders,
		log:       log,
		now:       time.Now,
	}
}

// Account exposes the underlying account for reporting.
func (b *Broker) Account() *Account { return b.account }

// Fills returns every fill booked so far.
func (b *Broker) Fills() []execution.Fill { return b.ledger.Snapshot() }

// Turnover returns per-leg traded totals.
func (b *Broker) Turnover() []Turnover { return b.ledger.Turnover() }

// SubmitOrder queues a signed share-count order.
func (b *Broker) SubmitOrder(_ context.Context, symbol string, signedQty float64) error {
	if signedQty == 0 || math.IsNaN(signedQty) {
		return fmt.Errorf("paper order %s: invalid quantity %v", symbol, signedQty)
	}
	b.enqueue(execution.MarketOrder(symbol, signedQty))
	return nil
}

// SubmitTargetPercent queues an order moving the holding to fraction of equity.
func (b *Broker) SubmitTargetPercent(_ context.Context, symbol string, fraction float64) error {
	if fraction < -1 || fraction > 1 {
		return fmt.Errorf("paper order %s: target %.4f outside [-1, 1]", symbol, fraction)
	}
	b.enqueue(execution.Order{Symbol: symbol, Type: execution.TargetPercent, Target: fraction})
	return nil
}

func (b *Broker) enqueue(order execution.Order) {
	b.mu.Lock()
	b.pending = append(b.pending, pendingOrder{id: uuid.NewString(), order: order, queued: b.now()})
	b.mu.Unlock()
}

// HasPendingOrders reports whether an unfilled order exists for symbol.
func (b *Broker) HasPendingOrders(_ context.Context, symbol string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pending {
		if strings.EqualFold(p.order.Symbol, symbol) {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns the number of queued orders.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Positions lists symbols with a non-zero holding.
func (b *Broker) Positions(context.Context) ([]string, error) {
	return b.account.Held(), nil
}

// Settle fills every queued order in submission order at the current price.
// A failing order is dropped and reported; later orders still settle.
func (b *Broker) Settle(ctx context.Context, prices PriceSource) ([]execution.Fill, error) {
	b.mu.Lock()
	queue := b.pending
	b.pending = nil
	b.mu.Unlock()

	var (
		fills    []execution.Fill
		firstErr error
	)
	for _, p := range queue {
		fill, ok, err := b.settleOne(ctx, p.order, prices)
		if err != nil {
			b.log.Warn().Err(err).Str("id", p.id).Str("order", p.order.String()).Msg("paper order rejected")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}
		fill.OrderID = p.id
		fills = append(fills, fill)
		b.ledger.Record(fill)
		metrics.FillsTotal.WithLabelValues(fill.Symbol, string(fill.Side)).Inc()
		for _, rec := range b.recorders {
			if err := rec.Record(fill); err != nil {
				b.log.Warn().Err(err).Str("sym", fill.Symbol).Msg("record fill failed")
			}
		}
		b.log.Info().
			Str("id", fill.OrderID).
			Str("sym", fill.Symbol).
			Str("side", string(fill.Side)).
			Float64("qty", fill.Qty).
			Float64("price", fill.Price).
			Float64("commission", fill.Commission).
			Msg("paper fill")
	}
	return fills, firstErr
}

func (b *Broker) settleOne(ctx context.Context, order execution.Order, prices PriceSource) (execution.Fill, bool, error) {
	px, err := prices.CurrentPrice(ctx, order.Symbol)
	if err != nil {
		return execution.Fill{}, false, fmt.Errorf("settle %s: %w", order.Symbol, err)
	}
	if px <= 0 {
		return execution.Fill{}, false, fmt.Errorf("settle %s: invalid price %v", order.Symbol, px)
	}

	var qty float64
	switch order.Type {
	case execution.Market:
		qty = order.SignedQty()
	case execution.TargetPercent:
		qty, err = b.targetDelta(ctx, order, px, prices)
		if err != nil {
			return execution.Fill{}, false, err
		}
	default:
		return execution.Fill{}, false, fmt.Errorf("settle %s: unknown order type %q", order.Symbol, order.Type)
	}
	if qty == 0 {
		return execution.Fill{}, false, nil
	}

	fillPx := px + b.cfg.Slippage
	side := execution.Buy
	if qty < 0 {
		fillPx = px - b.cfg.Slippage
		side = execution.Sell
	}
	if fillPx <= 0 {
		fillPx = px
	}
	commission := b.cfg.CommissionPerShare * math.Abs(qty)
	if err := b.account.Apply(order.Symbol, qty, fillPx, commission); err != nil {
		return execution.Fill{}, false, fmt.Errorf("settle %s: %w", order.Symbol, err)
	}
	return execution.Fill{
		Symbol:     order.Symbol,
		Side:       side,
		Qty:        math.Abs(qty),
		Price:      fillPx,
		Commission: commission,
		Ts:         b.now(),
	}, true, nil
}

// targetDelta converts a target fraction of equity into whole shares to trade.
func (b *Broker) targetDelta(ctx context.Context, order execution.Order, px float64, prices PriceSource) (float64, error) {
	current := b.account.Position(order.Symbol)
	if order.Target == 0 {
		return -current, nil
	}
	marks := map[string]float64{order.Symbol: px}
	for _, sym := range b.account.Held() {
		if _, ok := marks[sym]; ok {
			continue
		}
		mark, err := prices.CurrentPrice(ctx, sym)
		if err != nil {
			return 0, fmt.Errorf("settle %s: mark %s: %w", order.Symbol, sym, err)
		}
		marks[sym] = mark
	}
	equity := b.account.Snapshot(marks).Equity
	target := math.Round(order.Target * equity / px)
	return target - current, nil
}
