// Package app assembles a paper-trading session from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/config"
	"pairsbot-go/internal/engine"
	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/paper"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/storage"
)

// streamMaxAge bounds how old a streamed trade may be before the REST ticker is used instead.
const streamMaxAge = time.Minute

// Session owns every collaborator of one pair's paper-trading run.
type Session struct {
	ec        engine.Config
	log       zerolog.Logger
	engine    *engine.Engine
	broker    *paper.Broker
	market    engine.Market
	synthetic *exchange.SyntheticMarket
	feed      *exchange.Feed
	cache     *exchange.PriceCache
	store     *storage.Storage
	closers   []func() error
}

// NewSession wires market, broker, recorders and engine. Close releases files and the database.
func NewSession(cfg *config.Config, log zerolog.Logger) (*Session, error) {
	ec, err := engine.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	s := &Session{ec: ec, log: log}

	switch cfg.Exchange.Provider {
	case exchange.ProviderBinance:
		var opts []exchange.BinanceOption
		if cfg.Exchange.Stream {
			s.cache = exchange.NewPriceCache()
			s.feed = exchange.NewFeed(exchange.ProviderBinance, []string{ec.X, ec.Y}, log, exchange.WithStreamURL(cfg.Exchange.StreamURL))
			opts = append(opts, exchange.WithPriceCache(s.cache, streamMaxAge))
		}
		s.market = exchange.NewBinanceMarket(cfg.Exchange.BaseURL, opts...)
	default:
		syn := cfg.Exchange.Synthetic
		bars := syn.Bars
		if bars <= ec.Lookback {
			bars = 2 * ec.Lookback
		}
		m, err := exchange.NewSyntheticMarket(exchange.SyntheticConfig{
			X:          ec.X,
			Y:          ec.Y,
			Seed:       syn.Seed,
			Slope:      syn.Slope,
			Intercept:  syn.Intercept,
			Noise:      syn.Noise,
			StartPrice: syn.StartPrice,
			Bars:       bars,
			Warmup:     ec.Lookback,
		})
		if err != nil {
			return nil, err
		}
		s.synthetic = m
		s.market = m
	}

	var (
		recorders []paper.FillRecorder
		opts      []engine.Option
	)
	if path := cfg.Paper.JournalPath; path != "" {
		journal, err := paper.NewJournal(path)
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, journal)
		opts = append(opts, engine.WithRecorder(journal))
		s.closers = append(s.closers, journal.Close)
	}
	if path := cfg.Paper.DBPath; path != "" {
		store, err := storage.Open(path)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.store = store
		recorders = append(recorders, store)
		opts = append(opts, engine.WithRecorder(store))
		s.closers = append(s.closers, store.Close)
	}

	s.broker = paper.NewBroker(paper.BrokerConfig{
		StartingCash:       cfg.Paper.StartingCash,
		CommissionPerShare: cfg.Paper.CommissionPerShare,
		Slippage:           cfg.Paper.Slippage,
	}, log, recorders...)
	exec := execution.NewExecutor(log, s.broker)
	s.engine = engine.New(ec, s.market, s.broker, exec, log, opts...)
	return s, nil
}

// Engine returns the session's trading engine.
func (s *Session) Engine() *engine.Engine { return s.engine }

// Broker returns the paper broker.
func (s *Session) Broker() *paper.Broker { return s.broker }

// Market returns the price source.
func (s *Session) Market() engine.Market { return s.market }

// Store returns the SQLite store, nil when db_path is empty.
func (s *Session) Store() *storage.Storage { return s.store }

// Start launches the live trade stream when one is configured.
func (s *Session) Start(ctx context.Context) {
	if s.feed == nil {
		return
	}
	ticks := make(chan signal.Tick, 1024)
	go func() {
		if err := s.feed.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("feed stopped")
		}
	}()
	go s.cache.Consume(ctx, ticks)
}

// Step settles orders queued by the previous tick, runs one tick and, for synthetic
// data, closes the current bar. It returns exchange.ErrEndOfData once the replay is exhausted.
func (s *Session) Step(ctx context.Context) (engine.Report, error) {
	if _, err := s.broker.Settle(ctx, s.market); err != nil {
		s.log.Warn().Err(err).Msg("settle pending orders")
	}
	report, err := s.engine.Tick(ctx)
	if s.synthetic != nil {
		if advErr := s.synthetic.Advance(); advErr != nil && err == nil {
			err = advErr
		}
	}
	return report, err
}

// Inspection is a one-off model fit over the current window.
type Inspection struct {
	Pair   string
	Model  *pairs.SpreadModel
	PriceX float64
	PriceY float64
	Spread float64
	Z      float64
	// ZErr is pairs.ErrDegenerateSpread when the fit leaves no spread to normalise.
	ZErr error
}

// Inspect fits the spread model and projects current prices without trading.
func (s *Session) Inspect(ctx context.Context) (Inspection, error) {
	in := Inspection{Pair: s.ec.X + "/" + s.ec.Y}
	xs, err := s.market.History(ctx, s.ec.X, s.ec.PriceField, s.ec.Lookback, s.ec.BarSize)
	if err != nil {
		return in, err
	}
	ys, err := s.market.History(ctx, s.ec.Y, s.ec.PriceField, s.ec.Lookback, s.ec.BarSize)
	if err != nil {
		return in, err
	}
	if in.Model, err = pairs.NewBuilder(s.ec.Lookback).Build(xs, ys, s.ec.Significance); err != nil {
		return in, err
	}
	if in.PriceX, err = s.market.CurrentPrice(ctx, s.ec.X); err != nil {
		return in, err
	}
	if in.PriceY, err = s.market.CurrentPrice(ctx, s.ec.Y); err != nil {
		return in, err
	}
	in.Spread, in.Z, in.ZErr = in.Model.Project(in.PriceX, in.PriceY)
	return in, nil
}

// Equity marks the paper account to current prices.
func (s *Session) Equity(ctx context.Context) (paper.Snapshot, error) {
	account := s.broker.Account()
	marks := make(map[string]float64)
	for _, sym := range account.Held() {
		px, err := s.market.CurrentPrice(ctx, sym)
		if err != nil {
			return paper.Snapshot{}, fmt.Errorf("mark %s: %w", sym, err)
		}
		marks[sym] = px
	}
	return account.Snapshot(marks), nil
}

// Close releases recorders and the database in reverse order of creation.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
