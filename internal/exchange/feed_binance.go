package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/signal"
)

const (
	streamReadTimeout = 30 * time.Second
	streamPingEvery   = 15 * time.Second
	streamMinBackoff  = time.Second
	streamMaxBackoff  = 30 * time.Second
)

// aggTradeEvent is one message of a combined aggTrade stream.
type aggTradeEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol       string `json:"s"`
		Price        string `json:"p"`
		Quantity     string `json:"q"`
		TradeTime    int64  `json:"T"`
		IsBuyerMaker bool   `json:"m"`
	} `json:"data"`
}

// binanceStreamURL builds the combined-stream URL for the aggregated trades of symbols.
func binanceStreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@aggTrade"
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

// decodeAggTrade turns a raw stream message into a tick.
func decodeAggTrade(message []byte) (signal.Tick, error) {
	var ev aggTradeEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return signal.Tick{}, fmt.Errorf("decode: %w", err)
	}
	symbol := strings.ToUpper(ev.Data.Symbol)
	if symbol == "" {
		symbol = parseBinanceSymbol(ev.Stream)
	}
	if symbol == "" {
		return signal.Tick{}, errors.New("message without symbol")
	}
	px, err := strconv.ParseFloat(ev.Data.Price, 64)
	if err != nil || px <= 0 {
		return signal.Tick{}, fmt.Errorf("%s: invalid price %q", symbol, ev.Data.Price)
	}
	qty, err := strconv.ParseFloat(ev.Data.Quantity, 64)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("%s: invalid quantity %q", symbol, ev.Data.Quantity)
	}
	side := 1
	if ev.Data.IsBuyerMaker {
		side = -1
	}
	return signal.Tick{
		Symbol: symbol,
		Price:  px,
		Size:   qty,
		Side:   side,
		Ts:     time.UnixMilli(ev.Data.TradeTime),
	}, nil
}

// runBinance keeps a stream session open, reconnecting with exponential backoff.
// The backoff resets once a session has delivered at least one tick.
func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Tick) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return errors.New("binance feed requires at least one symbol")
	}
	url := binanceStreamURL(f.streamURL, symbols)

	backoff := streamMinBackoff
	for {
		delivered, err := f.streamSession(ctx, url, symbols, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered > 0 {
			backoff = streamMinBackoff
		}
		f.log.Warn().Err(err).Int("ticks", delivered).Dur("retry_in", backoff).Msg("binance stream closed")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

// streamSession reads one websocket connection until it fails, returning the ticks delivered.
func (f *Feed) streamSession(ctx context.Context, url string, symbols []string, out chan<- signal.Tick) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", symbols).Msg("connected trade stream")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.keepAlive(sessionCtx, conn)
	// unblock ReadMessage when the caller cancels
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	delivered := 0
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		tick, err := decodeAggTrade(message)
		if err != nil {
			f.log.Debug().Err(err).Msg("skipping binance message")
			continue
		}
		select {
		case out <- tick:
			delivered++
			metrics.TradesTotal.WithLabelValues(tick.Symbol).Inc()
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.log.Debug().Err(err).Msg("binance ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// parseBinanceSymbol extracts the upper-case symbol from a stream name such as "btcusdt@aggTrade".
func parseBinanceSymbol(stream string) string {
	sym, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(sym)
}
