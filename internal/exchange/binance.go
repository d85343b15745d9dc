package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultBinanceBaseURL = "https://api.binance.com"

// Binance allows 6000 request weight per minute; klines and ticker cost 2 each.
const (
	defaultBinanceRate  = rate.Limit(10)
	defaultBinanceBurst = 5
)

// klineFields maps a price field name to its column in a Binance kline row.
var klineFields = map[string]int{
	"open":  1,
	"high":  2,
	"low":   3,
	"close": 4,
	"price": 4,
}

// BinanceMarket reads closed klines and current prices from the Binance REST API.
type BinanceMarket struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	cache   *PriceCache
	maxAge  time.Duration
	now     func() time.Time
}

// BinanceOption configures a BinanceMarket.
type BinanceOption func(*BinanceMarket)

// WithPriceCache serves current prices from streamed trades no older than maxAge.
func WithPriceCache(cache *PriceCache, maxAge time.Duration) BinanceOption {
	return func(m *BinanceMarket) {
		m.cache = cache
		m.maxAge = maxAge
	}
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(client *http.Client) BinanceOption {
	return func(m *BinanceMarket) {
		if client != nil {
			m.client = client
		}
	}
}

// WithRateLimit caps REST requests per second.
func WithRateLimit(limit rate.Limit, burst int) BinanceOption {
	return func(m *BinanceMarket) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewBinanceMarket builds a REST market rooted at baseURL (the public API when empty).
func NewBinanceMarket(baseURL string, opts ...BinanceOption) *BinanceMarket {
	if baseURL == "" {
		baseURL = defaultBinanceBaseURL
	}
	m := &BinanceMarket{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(defaultBinanceRate, defaultBinanceBurst),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// History returns exactly bars closed klines, oldest first, reading the requested field.
func (m *BinanceMarket) History(ctx context.Context, symbol, field string, bars int, barSize string) ([]float64, error) {
	col, ok := klineFields[strings.ToLower(field)]
	if !ok {
		return nil, fmt.Errorf("history %s: unsupported field %q", symbol, field)
	}
	if bars <= 0 {
		return nil, fmt.Errorf("history %s: bars must be positive", symbol)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", barSize)
	// one extra row in case the newest kline is still open
	q.Set("limit", strconv.Itoa(bars+1))
	var rows [][]json.RawMessage
	if err := m.getJSON(ctx, "/api/v3/klines?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}

	nowMs := m.now().UnixMilli()
	out := make([]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("history %s: kline %d has %d columns", symbol, i, len(row))
		}
		var closeTime int64
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			return nil, fmt.Errorf("history %s: kline %d close time: %w", symbol, i, err)
		}
		if closeTime >= nowMs {
			continue
		}
		px, err := parseQuoted(row[col])
		if err != nil {
			return nil, fmt.Errorf("history %s: kline %d %s: %w", symbol, i, field, err)
		}
		out = append(out, px)
	}
	if len(out) < bars {
		return nil, fmt.Errorf("history %s: want %d closed bars, got %d", symbol, bars, len(out))
	}
	return out[len(out)-bars:], nil
}

// CurrentPrice prefers a fresh streamed trade and falls back to the ticker endpoint.
func (m *BinanceMarket) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	if m.cache != nil {
		if px, ok := m.cache.Last(symbol, m.now(), m.maxAge); ok {
			return px, nil
		}
	}
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := m.getJSON(ctx, "/api/v3/ticker/price?symbol="+url.QueryEscape(symbol), &ticker); err != nil {
		return 0, fmt.Errorf("price %s: %w", symbol, err)
	}
	px, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil || px <= 0 {
		return 0, fmt.Errorf("price %s: invalid price %q", symbol, ticker.Price)
	}
	return px, nil
}

func (m *BinanceMarket) getJSON(ctx context.Context, path string, out any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseQuoted(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return 0, err
		}
		return f, nil
	}
	return strconv.ParseFloat(s, 64)
}
