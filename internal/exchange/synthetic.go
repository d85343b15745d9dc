package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// ErrEndOfData is returned once a synthetic market has replayed every generated bar.
var ErrEndOfData = errors.New("synthetic market exhausted")

// SyntheticConfig shapes the generated pair: x is a random walk, y = Slope*x + Intercept + Noise*N(0,1).
type SyntheticConfig struct {
	X, Y       string
	Seed       int64
	Slope      float64
	Intercept  float64
	Noise      float64
	StartPrice float64
	Bars       int // total bars generated
	Warmup     int // bars available as history before the first current bar
}

// SyntheticMarket replays a deterministic cointegrated pair one bar at a time.
type SyntheticMarket struct {
	mu      sync.Mutex
	x, y    string
	series  map[string][]float64
	cursor  int
	overlay map[string]float64
}

// NewSyntheticMarket generates the full series up front.
func NewSyntheticMarket(cfg SyntheticConfig) (*SyntheticMarket, error) {
	if cfg.X == "" || cfg.Y == "" || cfg.X == cfg.Y {
		return nil, fmt.Errorf("synthetic market needs two distinct symbols, got %q and %q", cfg.X, cfg.Y)
	}
	if cfg.Warmup <= 0 || cfg.Bars <= cfg.Warmup {
		return nil, fmt.Errorf("synthetic market needs bars (%d) > warmup (%d) > 0", cfg.Bars, cfg.Warmup)
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	xs := make([]float64, cfg.Bars)
	ys := make([]float64, cfg.Bars)
	px := cfg.StartPrice
	for i := range xs {
		// keep the walk well above zero so share sizing stays meaningful
		px += rng.NormFloat64()
		if px < cfg.StartPrice/4 {
			px = cfg.StartPrice / 4
		}
		xs[i] = px
		ys[i] = cfg.Slope*px + cfg.Intercept + cfg.Noise*rng.NormFloat64()
	}
	return &SyntheticMarket{
		x:       cfg.X,
		y:       cfg.Y,
		series:  map[string][]float64{cfg.X: xs, cfg.Y: ys},
		cursor:  cfg.Warmup,
		overlay: make(map[string]float64),
	}, nil
}

// History returns the bars closed before the current one. field and barSize are accepted for
// interface compatibility; every synthetic bar is a single daily price.
func (m *SyntheticMarket) History(_ context.Context, symbol, _ string, bars int, _ string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series, ok := m.series[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if bars <= 0 || bars > m.cursor {
		return nil, fmt.Errorf("history %s: want %d bars, %d available", symbol, bars, m.cursor)
	}
	out := make([]float64, bars)
	copy(out, series[m.cursor-bars:m.cursor])
	return out, nil
}

// CurrentPrice returns the price of the current bar, or a quoted override.
func (m *SyntheticMarket) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if px, ok := m.overlay[symbol]; ok {
		return px, nil
	}
	series, ok := m.series[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if m.cursor >= len(series) {
		return 0, ErrEndOfData
	}
	return series[m.cursor], nil
}

// Quote overrides the current price of symbol until the next Advance.
func (m *SyntheticMarket) Quote(symbol string, price float64) {
	m.mu.Lock()
	m.overlay[symbol] = price
	m.mu.Unlock()
}

// Advance closes the current bar and moves to the next one.
func (m *SyntheticMarket) Advance() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor+1 >= len(m.series[m.x]) {
		return ErrEndOfData
	}
	m.cursor++
	m.overlay = make(map[string]float64)
	return nil
}

// Cursor returns the index of the current bar.
func (m *SyntheticMarket) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}
