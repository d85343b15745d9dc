// Package engine runs one pairs-trading evaluation per scheduled tick.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pairsbot-go/internal/config"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/risk"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/strategy"
)

// Market serves closed bars and current prices.
type Market interface {
	History(ctx context.Context, symbol, field string, bars int, barSize string) ([]float64, error)
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Broker reports open orders and the authoritative set of held instruments.
type Broker interface {
	HasPendingOrders(ctx context.Context, symbol string) (bool, error)
	Positions(ctx context.Context) ([]string, error)
}

// Submitter places one order instruction.
type Submitter interface {
	Submit(ctx context.Context, order execution.Order) error
}

// DecisionRecorder persists the outcome of each tick.
type DecisionRecorder interface {
	RecordDecision(signal.Signal) error
}

// Config is the per-session trading setup.
type Config struct {
	X, Y           string
	Params         strategy.Params
	Limits         risk.Limits
	Significance   float64
	Lookback       int
	BarSize        string
	PriceField     string
	ReuseExitModel bool
}

// ConfigFrom derives the engine setup from the selected pair and strategy settings.
func ConfigFrom(cfg *config.Config) (Config, error) {
	pair, err := cfg.SelectedPair()
	if err != nil {
		return Config{}, err
	}
	return Config{
		X: pair.X,
		Y: pair.Y,
		Params: strategy.Params{
			EntryNotional:  cfg.Strategy.EntryNotional,
			EntryThreshold: cfg.Strategy.EntryThreshold,
			ExitThreshold:  cfg.Strategy.ExitThreshold,
		},
		Limits: risk.Limits{
			MaxNotionalPerLeg: cfg.Risk.MaxNotionalPerLeg,
			MaxGrossNotional:  cfg.Risk.MaxGrossNotional,
		},
		Significance:   cfg.Strategy.ADFSignificance,
		Lookback:       cfg.Strategy.Lookback,
		BarSize:        cfg.Strategy.BarSize,
		PriceField:     cfg.Strategy.PriceField,
		ReuseExitModel: cfg.Strategy.ReuseExitModel,
	}, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder stores every tick outcome. Repeat it to fan out to several recorders.
func WithRecorder(rec DecisionRecorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, rec) }
}

// WithBuilder replaces the default ADF-gated model builder.
func WithBuilder(b *pairs.Builder) Option {
	return func(e *Engine) {
		if b != nil {
			e.builder = b
		}
	}
}

// WithClock overrides time.Now for signal timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Report describes what a tick decided and what it sent.
type Report struct {
	Decision  strategy.Decision
	Signal    signal.Signal
	Submitted int
}

// Engine is the trading session for one pair.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	pair      string
	market    Market
	broker    Broker
	exec      Submitter
	machine   *strategy.PairsMachine
	builder   *pairs.Builder
	model     *pairs.SpreadModel
	recorders []DecisionRecorder
	log       zerolog.Logger
	now       func() time.Time
}

// New wires a session. Nothing is fetched until the first Tick.
func New(cfg Config, market Market, broker Broker, exec Submitter, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		pair:    cfg.X + "/" + cfg.Y,
		market:  market,
		broker:  broker,
		exec:    exec,
		machine: strategy.NewPairsMachine(cfg.X, cfg.Y, cfg.Params, cfg.Limits),
		builder: pairs.NewBuilder(cfg.Lookback),
		log:     log.With().Str("pair", cfg.X+"/"+cfg.Y).Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pair returns the "X/Y" label.
func (e *Engine) Pair() string { return e.pair }

// Model returns the most recently built spread model, nil before the first build.
func (e *Engine) Model() *pairs.SpreadModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// State returns the recorded entry sign.
func (e *Engine) State() strategy.PositionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

// Tick evaluates the pair once and submits any resulting orders in order.
// Any collaborator failure aborts the tick; orders already sent stay sent.
func (e *Engine) Tick(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, err := e.tick(ctx)
	outcome := report.Signal.Action
	if err != nil {
		outcome = "error"
		e.log.Error().Err(err).Str("reason", report.Decision.Reason).Msg("tick failed")
	}
	metrics.TicksTotal.WithLabelValues(e.pair, outcome).Inc()
	return report, err
}

func (e *Engine) tick(ctx context.Context) (Report, error) {
	var report Report

	pending, err := e.hasPending(ctx)
	if err != nil {
		return report, err
	}
	if pending {
		report.Decision, _ = e.machine.Evaluate(strategy.Inputs{Pending: true}, e.model, nil)
		e.finish(&report)
		return report, nil
	}

	px, err := e.market.CurrentPrice(ctx, e.cfg.X)
	if err != nil {
		return report, fmt.Errorf("price %s: %w", e.cfg.X, err)
	}
	py, err := e.market.CurrentPrice(ctx, e.cfg.Y)
	if err != nil {
		return report, fmt.Errorf("price %s: %w", e.cfg.Y, err)
	}
	heldX, heldY, err := e.holdings(ctx)
	if err != nil {
		return report, err
	}

	builtThisTick := false
	if e.model == nil {
		if _, err := e.build(ctx); err != nil {
			return report, err
		}
		builtThisTick = true
	}
	rebuild := func() (*pairs.SpreadModel, error) {
		if e.cfg.ReuseExitModel && builtThisTick {
			return e.model, nil
		}
		builtThisTick = true
		return e.build(ctx)
	}

	in := strategy.Inputs{PriceX: px, PriceY: py, Invested: heldX || heldY, Unbalanced: heldX != heldY}
	report.Decision, err = e.machine.Evaluate(in, e.model, rebuild)
	// exit orders decided before a failed rebuild still go out
	for _, order := range report.Decision.Orders {
		if err := e.exec.Submit(ctx, order); err != nil {
			// the legs may now be out of step, so the next tick flattens whatever is held
			e.machine.Reset()
			report.Decision.State = strategy.Flat
			return report, fmt.Errorf("submit %s: %w", order, err)
		}
		report.Submitted++
	}
	if err != nil {
		return report, err
	}
	e.finish(&report)
	return report, nil
}

func (e *Engine) hasPending(ctx context.Context) (bool, error) {
	for _, sym := range []string{e.cfg.X, e.cfg.Y} {
		pending, err := e.broker.HasPendingOrders(ctx, sym)
		if err != nil {
			return false, fmt.Errorf("pending orders %s: %w", sym, err)
		}
		if pending {
			return true, nil
		}
	}
	return false, nil
}

// holdings reports which legs the broker holds.
func (e *Engine) holdings(ctx context.Context) (heldX, heldY bool, err error) {
	held, err := e.broker.Positions(ctx)
	if err != nil {
		return false, false, fmt.Errorf("positions: %w", err)
	}
	for _, sym := range held {
		heldX = heldX || strings.EqualFold(sym, e.cfg.X)
		heldY = heldY || strings.EqualFold(sym, e.cfg.Y)
	}
	return heldX, heldY, nil
}

// build fetches lookback bars of both legs concurrently and replaces the current model.
func (e *Engine) build(ctx context.Context) (*pairs.SpreadModel, error) {
	var xs, ys []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		xs, err = e.history(gctx, e.cfg.X)
		return err
	})
	g.Go(func() (err error) {
		ys, err = e.history(gctx, e.cfg.Y)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	model, err := e.builder.Build(xs, ys, e.cfg.Significance)
	result := "not_cointegrated"
	switch {
	case err != nil:
		result = "error"
	case model.Degenerate:
		result = "degenerate"
	case model.IsCointegrated:
		result = "cointegrated"
	}
	metrics.ModelBuildsTotal.WithLabelValues(e.pair, result).Inc()
	if err != nil {
		return nil, err
	}

	e.model = model
	e.log.Debug().
		Float64("slope", model.Slope).
		Float64("intercept", model.Intercept).
		Float64("std", model.SpreadStdDev).
		Float64("pvalue", model.ADF.PValue).
		Int("lag", model.ADF.UsedLag).
		Str("result", result).
		Msg("model built")
	return model, nil
}

func (e *Engine) history(ctx context.Context, symbol string) ([]float64, error) {
	bars, err := e.market.History(ctx, symbol, e.cfg.PriceField, e.cfg.Lookback, e.cfg.BarSize)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	return bars, nil
}

func action(d strategy.Decision) string {
	switch {
	case d.Skipped:
		return "skip"
	case d.Exited && d.Entered:
		return "exit+enter"
	case d.Exited:
		return "exit"
	case d.Entered:
		return "enter"
	case d.Reason == strategy.ReasonHolding:
		return "hold"
	default:
		return "none"
	}
}

// finish publishes gauges, records the decision and logs it.
func (e *Engine) finish(report *Report) {
	d := report.Decision
	sig := signal.Signal{
		Pair:       e.pair,
		Action:     action(d),
		Reason:     d.Reason,
		ExitReason: d.ExitReason,
		State:      d.State.String(),
		Spread:     d.Spread,
		ZScore:     d.Z,
		Orders:     len(d.Orders),
		Ts:         e.now(),
	}
	if m := d.Model; m != nil {
		sig.Slope = m.Slope
		sig.Intercept = m.Intercept
		sig.SpreadStdDev = m.SpreadStdDev
		sig.Cointegrated = m.IsCointegrated
		sig.PValue = m.ADF.PValue
	}
	report.Signal = sig

	if !d.Skipped {
		metrics.ZScore.WithLabelValues(e.pair).Set(d.Z)
		metrics.Spread.WithLabelValues(e.pair).Set(d.Spread)
	}
	metrics.PositionState.WithLabelValues(e.pair).Set(float64(d.State))

	for _, rec := range e.recorders {
		if err := rec.RecordDecision(sig); err != nil {
			e.log.Warn().Err(err).Msg("record decision failed")
		}
	}

	ev := e.log.Info()
	// a degenerate spread is logged apart from "not cointegrated"
	if d.Reason == strategy.ReasonDegenerate || d.ExitReason == strategy.ReasonDegenerate {
		ev = e.log.Warn()
	}
	ev.Str("action", sig.Action).
		Str("reason", sig.Reason).
		Str("exit_reason", sig.ExitReason).
		Str("state", sig.State).
		Float64("z", sig.ZScore).
		Float64("spread", sig.Spread).
		Bool("cointegrated", sig.Cointegrated).
		Int("orders", sig.Orders).
		AnErr("veto", d.Veto).
		Msg("tick")
}
