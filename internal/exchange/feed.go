// Package exchange hosts the price sources the engine reads history and current prices from.
package exchange

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/signal"
)

const (
	// ProviderSynthetic generates a deterministic cointegrated pair (useful for tests/offline work).
	ProviderSynthetic = "synthetic"
	// ProviderBinance reads klines and prices from Binance public endpoints.
	ProviderBinance = "binance"
)

// ErrUnknownSymbol is returned for a symbol the source does not serve.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Feed streams live trades for a symbol list.
type Feed struct {
	provider  string
	symbols   []string
	log       zerolog.Logger
	streamURL string
	mu        sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const defaultBinanceStreamURL = "wss://stream.binance.com:9443/stream"

// WithStreamURL overrides the websocket endpoint.
func WithStreamURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.streamURL = strings.TrimSuffix(url, "/")
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderBinance
	}
	f := &Feed{
		provider:  strings.ToLower(provider),
		log:       log,
		streamURL: defaultBinanceStreamURL,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		// synthetic prices are served directly by SyntheticMarket
		<-ctx.Done()
		return ctx.Err()
	}
}

// PriceCache keeps the last streamed price per symbol.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]signal.Tick
}

// NewPriceCache returns an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]signal.Tick)}
}

// Update stores a tick if it is newer than the cached one.
func (c *PriceCache) Update(tk signal.Tick) {
	if tk.Price <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.prices[tk.Symbol]; ok && prev.Ts.After(tk.Ts) {
		return
	}
	c.prices[tk.Symbol] = tk
}

// Last returns the cached price if it is no older than maxAge at now.
func (c *PriceCache) Last(symbol string, now time.Time, maxAge time.Duration) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tk, ok := c.prices[symbol]
	if !ok || now.Sub(tk.Ts) > maxAge {
		return 0, false
	}
	return tk.Price, true
}

// Consume drains ticks into the cache until ctx is done or the channel closes.
func (c *PriceCache) Consume(ctx context.Context, ticks <-chan signal.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tk, ok := <-ticks:
			if !ok {
				return
			}
			c.Update(tk)
		}
	}
}
