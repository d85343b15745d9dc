package paper

import (
	"sort"
	"strings"
	"sync"

	"pairsbot-go/internal/execution"
)

// Turnover sums the traded size of one leg.
type Turnover struct {
	Symbol     string
	Fills      int
	Bought     float64 // shares
	Sold       float64 // shares
	Notional   float64
	Commission float64
}

// Net returns the signed share change booked for the leg.
func (t Turnover) Net() float64 { return t.Bought - t.Sold }

// Ledger keeps the session's paper fills and a per-leg turnover tally.
type Ledger struct {
	mu       sync.Mutex
	fills    []execution.Fill
	turnover map[string]*Turnover
}

// NewLedger creates an empty ledger pre-sized for capacity fills.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{
		fills:    make([]execution.Fill, 0, capacity),
		turnover: make(map[string]*Turnover),
	}
}

// Record books a fill.
func (l *Ledger) Record(fill execution.Fill) error {
	sym := strings.ToUpper(fill.Symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills = append(l.fills, fill)
	t, ok := l.turnover[sym]
	if !ok {
		t = &Turnover{Symbol: sym}
		l.turnover[sym] = t
	}
	t.Fills++
	if fill.Side == execution.Sell {
		t.Sold += fill.Qty
	} else {
		t.Bought += fill.Qty
	}
	t.Notional += fill.Qty * fill.Price
	t.Commission += fill.Commission
	return nil
}

// Snapshot returns a copy of the recorded fills in booking order.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Turnover returns the per-leg tallies sorted by symbol.
func (l *Ledger) Turnover() []Turnover {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turnover, 0, len(l.turnover))
	for _, t := range l.turnover {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Reset clears fills and tallies.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.fills = l.fills[:0]
	l.turnover = make(map[string]*Turnover)
	l.mu.Unlock()
}
