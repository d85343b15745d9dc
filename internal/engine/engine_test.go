package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/config"
	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/paper"
	"pairsbot-go/internal/signal"
	"pairsbot-go/internal/stats"
	"pairsbot-go/internal/strategy"
)

type fakeMarket struct {
	mu           sync.Mutex
	history      map[string][]float64
	prices       map[string]float64
	historyCalls int
}

func (m *fakeMarket) History(_ context.Context, symbol, _ string, bars int, _ string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCalls++
	h, ok := m.history[symbol]
	if !ok || len(h) < bars {
		return nil, errors.New("no history")
	}
	return h[len(h)-bars:], nil
}

func (m *fakeMarket) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	px, ok := m.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return px, nil
}

type fakeBroker struct {
	pending map[string]bool
	held    []string
	err     error
}

func (b *fakeBroker) HasPendingOrders(_ context.Context, symbol string) (bool, error) {
	return b.pending[symbol], b.err
}

func (b *fakeBroker) Positions(context.Context) ([]string, error) {
	return b.held, b.err
}

type recordingSubmitter struct {
	orders []execution.Order
	failAt int // 1-based; 0 never fails
}

func (s *recordingSubmitter) Submit(_ context.Context, order execution.Order) error {
	if s.failAt > 0 && len(s.orders)+1 == s.failAt {
		return errors.New("venue down")
	}
	s.orders = append(s.orders, order)
	return nil
}

type memRecorder struct{ signals []signal.Signal }

func (r *memRecorder) RecordDecision(sig signal.Signal) error {
	r.signals = append(r.signals, sig)
	return nil
}

func testConfig() Config {
	return Config{
		X:              "INFY",
		Y:              "WIT",
		Params:         strategy.Params{EntryNotional: 10000, EntryThreshold: 1.5, ExitThreshold: 0},
		Significance:   0.05,
		Lookback:       250,
		BarSize:        "1d",
		PriceField:     "price",
		ReuseExitModel: false,
	}
}

// cointegratedHistory returns x as a random walk and y = 1.5x + noise.
func cointegratedHistory(seed int64, n int) (xs, ys []float64) {
	rng := rand.New(rand.NewSource(seed))
	xs = make([]float64, n)
	ys = make([]float64, n)
	px := 100.0
	for i := range xs {
		px += rng.NormFloat64()
		xs[i] = px
		ys[i] = 1.5*px + rng.NormFloat64()
	}
	return xs, ys
}

func TestTickPendingOrdersEmitsNothing(t *testing.T) {
	market := &fakeMarket{}
	broker := &fakeBroker{pending: map[string]bool{"WIT": true}}
	sub := &recordingSubmitter{}
	rec := &memRecorder{}
	eng := New(testConfig(), market, broker, sub, zerolog.Nop(), WithRecorder(rec))

	report, err := eng.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if len(sub.orders) != 0 || report.Submitted != 0 {
		t.Fatalf("expected no orders while pending, got %v", sub.orders)
	}
	if market.historyCalls != 0 {
		t.Fatalf("expected no history reads while pending")
	}
	if !report.Decision.Skipped || report.Signal.Action != "skip" {
		t.Fatalf("expected skip decision, got %+v", report.Decision)
	}
	if len(rec.signals) != 1 || rec.signals[0].Reason != strategy.ReasonPending {
		t.Fatalf("expected pending decision recorded, got %+v", rec.signals)
	}
}

func TestTickEntersOnWideSpread(t *testing.T) {
	xs, ys := cointegratedHistory(11, 250)
	model, err := pairs.NewBuilder(250).Build(xs, ys, 0.05)
	if err != nil || !model.IsCointegrated {
		t.Fatalf("expected cointegrated fixture, got %v %+v", err, model)
	}
	px := xs[len(xs)-1]
	py := model.Slope*px + model.Intercept - 2*model.SpreadStdDev

	market := &fakeMarket{
		history: map[string][]float64{"INFY": xs, "WIT": ys},
		prices:  map[string]float64{"INFY": px, "WIT": py},
	}
	sub := &recordingSubmitter{}
	eng := New(testConfig(), market, &fakeBroker{}, sub, zerolog.Nop())

	report, err := eng.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if !report.Decision.Entered || math.Abs(report.Decision.Z+2) > 1e-6 {
		t.Fatalf("expected entry at z=-2, got %+v", report.Decision)
	}
	if len(sub.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(sub.orders))
	}
	// negative z: short x, long y
	if sub.orders[0].Symbol != "INFY" || sub.orders[0].Side != execution.Sell || sub.orders[0].Qty != math.Round(10000/px) {
		t.Fatalf("unexpected x leg %+v", sub.orders[0])
	}
	if sub.orders[1].Symbol != "WIT" || sub.orders[1].Side != execution.Buy || sub.orders[1].Qty != math.Round(10000/py) {
		t.Fatalf("unexpected y leg %+v", sub.orders[1])
	}
	if eng.State() != strategy.ShortSpread {
		t.Fatalf("expected short spread state, got %s", eng.State())
	}
	// first tick builds once up front and once more for the entry check
	if market.historyCalls != 4 {
		t.Fatalf("expected 4 history reads, got %d", market.historyCalls)
	}
}

func TestTickReuseExitModel(t *testing.T) {
	xs, ys := cointegratedHistory(11, 250)
	model, _ := pairs.NewBuilder(250).Build(xs, ys, 0.05)
	// quoted on the fitted line, so no entry
	market := &fakeMarket{
		history: map[string][]float64{"INFY": xs, "WIT": ys},
		prices:  map[string]float64{"INFY": xs[249], "WIT": model.Slope*xs[249] + model.Intercept},
	}
	cfg := testConfig()
	cfg.ReuseExitModel = true
	eng := New(cfg, market, &fakeBroker{}, &recordingSubmitter{}, zerolog.Nop())
	if _, err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if market.historyCalls != 2 {
		t.Fatalf("expected a single build, got %d history reads", market.historyCalls)
	}
	if _, err := eng.Tick(context.Background()); err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if market.historyCalls != 4 {
		t.Fatalf("expected a fresh build on the next tick, got %d history reads", market.historyCalls)
	}
}

func TestTickAbortsOnSubmitError(t *testing.T) {
	xs, ys := cointegratedHistory(11, 250)
	model, _ := pairs.NewBuilder(250).Build(xs, ys, 0.05)
	px := xs[249]
	market := &fakeMarket{
		history: map[string][]float64{"INFY": xs, "WIT": ys},
		prices:  map[string]float64{"INFY": px, "WIT": model.Slope*px + model.Intercept + 3*model.SpreadStdDev},
	}
	sub := &recordingSubmitter{failAt: 1}
	eng := New(testConfig(), market, &fakeBroker{}, sub, zerolog.Nop())
	report, err := eng.Tick(context.Background())
	if err == nil {
		t.Fatalf("expected submit error")
	}
	if len(sub.orders) != 0 || report.Submitted != 0 {
		t.Fatalf("expected abort before second leg, got %v", sub.orders)
	}
	if eng.State() != strategy.Flat {
		t.Fatalf("expected state reset after failed submit, got %s", eng.State())
	}
}

func TestTickFlattensAfterPartialEntry(t *testing.T) {
	xs, ys := cointegratedHistory(11, 250)
	model, _ := pairs.NewBuilder(250).Build(xs, ys, 0.05)
	px := xs[249]
	market := &fakeMarket{
		history: map[string][]float64{"INFY": xs, "WIT": ys},
		prices:  map[string]float64{"INFY": px, "WIT": model.Slope*px + model.Intercept + 3*model.SpreadStdDev},
	}
	broker := &fakeBroker{}
	sub := &recordingSubmitter{failAt: 2}
	eng := New(testConfig(), market, broker, sub, zerolog.Nop())

	report, err := eng.Tick(context.Background())
	if err == nil {
		t.Fatalf("expected the y leg to fail")
	}
	if len(sub.orders) != 1 || sub.orders[0].Symbol != "INFY" || report.Submitted != 1 {
		t.Fatalf("expected only the x leg sent, got %v", sub.orders)
	}
	if eng.State() != strategy.Flat {
		t.Fatalf("expected entry sign forgotten, got %s", eng.State())
	}

	// x filled alone; the spread still sits on the entry side
	broker.held = []string{"INFY"}
	sub.failAt = 0
	sub.orders = nil
	for i := 0; i < 3; i++ {
		report, err = eng.Tick(context.Background())
		if err != nil {
			t.Fatalf("tick %d error: %v", i, err)
		}
		if i == 0 {
			d := report.Decision
			if !d.Exited || d.ExitReason != strategy.ReasonUnbalanced {
				t.Fatalf("expected single-leg flatten, got %+v", d)
			}
			if len(sub.orders) < 2 || sub.orders[0].Type != execution.TargetPercent || sub.orders[1].Symbol != "WIT" {
				t.Fatalf("expected flatten of both legs first, got %v", sub.orders)
			}
		}
		if report.Decision.Reason == strategy.ReasonHolding {
			t.Fatalf("tick %d kept a single leg: %+v", i, report.Decision)
		}
	}
}

func TestTickPropagatesCollaboratorErrors(t *testing.T) {
	xs, ys := cointegratedHistory(11, 250)
	market := &fakeMarket{history: map[string][]float64{"INFY": xs, "WIT": ys}, prices: map[string]float64{"INFY": 100}}
	eng := New(testConfig(), market, &fakeBroker{}, &recordingSubmitter{}, zerolog.Nop())
	if _, err := eng.Tick(context.Background()); err == nil {
		t.Fatalf("expected missing price error")
	}

	broken := &fakeBroker{err: errors.New("broker offline")}
	eng = New(testConfig(), market, broken, &recordingSubmitter{}, zerolog.Nop())
	if _, err := eng.Tick(context.Background()); err == nil {
		t.Fatalf("expected broker error")
	}

	short := &fakeMarket{history: map[string][]float64{"INFY": xs[:100], "WIT": ys[:100]}, prices: map[string]float64{"INFY": 100, "WIT": 150}}
	eng = New(testConfig(), short, &fakeBroker{}, &recordingSubmitter{}, zerolog.Nop())
	if _, err := eng.Tick(context.Background()); err == nil {
		t.Fatalf("expected history error")
	}
}

func TestTickNotCointegratedDoesNotTrade(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	xs := make([]float64, 250)
	ys := make([]float64, 250)
	px, py := 100.0, 150.0
	for i := range xs {
		px += rng.NormFloat64()
		py += rng.NormFloat64()
		xs[i], ys[i] = px, py
	}
	builder := &pairs.Builder{Tester: rejectAll{}, Lookback: 250}
	market := &fakeMarket{
		history: map[string][]float64{"INFY": xs, "WIT": ys},
		prices:  map[string]float64{"INFY": px, "WIT": py * 2},
	}
	sub := &recordingSubmitter{}
	eng := New(testConfig(), market, &fakeBroker{}, sub, zerolog.Nop(), WithBuilder(builder))
	report, err := eng.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if len(sub.orders) != 0 || report.Decision.Reason != strategy.ReasonNotCointeg {
		t.Fatalf("expected no entry for non-cointegrated pair, got %+v", report.Decision)
	}
}

type rejectAll struct{}

func (rejectAll) Test([]float64, float64) (bool, stats.ADFResult, error) {
	return false, stats.ADFResult{PValue: 0.5}, nil
}

// Entry at z=2, hold at z=0.3, exit on a sign flip at z=-0.1, all against a paper broker.
func TestEndToEndSyntheticPair(t *testing.T) {
	ctx := context.Background()
	market, err := exchange.NewSyntheticMarket(exchange.SyntheticConfig{
		X: "INFY", Y: "WIT", Seed: 618, Slope: 1.5, Noise: 1, StartPrice: 100, Bars: 300, Warmup: 250,
	})
	if err != nil {
		t.Fatalf("NewSyntheticMarket error: %v", err)
	}
	broker := paper.NewBroker(paper.BrokerConfig{StartingCash: 100000}, zerolog.Nop())
	exec := execution.NewExecutor(zerolog.Nop(), broker)
	rec := &memRecorder{}
	eng := New(testConfig(), market, broker, exec, zerolog.Nop(), WithRecorder(rec))

	xs, _ := market.History(ctx, "INFY", "price", 250, "1d")
	ys, _ := market.History(ctx, "WIT", "price", 250, "1d")
	fixture, err := pairs.NewBuilder(250).Build(xs, ys, 0.05)
	if err != nil || !fixture.IsCointegrated {
		t.Fatalf("expected cointegrated synthetic window, got %v %+v", err, fixture)
	}
	if math.Abs(fixture.Slope-1.5) > 0.1 {
		t.Fatalf("expected slope near 1.5, got %.4f", fixture.Slope)
	}

	px, _ := market.CurrentPrice(ctx, "INFY")
	quoteZ := func(m *pairs.SpreadModel, z float64) {
		market.Quote("WIT", m.Slope*px+m.Intercept+z*m.SpreadStdDev)
	}

	quoteZ(fixture, 2.0)
	report, err := eng.Tick(ctx)
	if err != nil {
		t.Fatalf("entry tick error: %v", err)
	}
	if !report.Decision.Entered || report.Submitted != 2 || eng.State() != strategy.LongSpread {
		t.Fatalf("expected long spread entry, got %+v", report.Decision)
	}
	if pending, _ := broker.HasPendingOrders(ctx, "INFY"); !pending {
		t.Fatalf("expected entry orders queued")
	}

	// unfilled orders block the next tick
	if report, _ := eng.Tick(ctx); !report.Decision.Skipped {
		t.Fatalf("expected skip while orders pending")
	}

	if _, err := broker.Settle(ctx, market); err != nil {
		t.Fatalf("settle error: %v", err)
	}
	if broker.Account().Position("INFY") <= 0 || broker.Account().Position("WIT") >= 0 {
		t.Fatalf("expected long INFY short WIT, got %v", broker.Account().Snapshot(nil).Positions)
	}

	quoteZ(eng.Model(), 0.3)
	report, err = eng.Tick(ctx)
	if err != nil {
		t.Fatalf("hold tick error: %v", err)
	}
	if report.Decision.Reason != strategy.ReasonHolding || report.Submitted != 0 {
		t.Fatalf("expected hold, got %+v", report.Decision)
	}

	quoteZ(eng.Model(), -0.1)
	report, err = eng.Tick(ctx)
	if err != nil {
		t.Fatalf("exit tick error: %v", err)
	}
	d := report.Decision
	if !d.Exited || d.ExitReason != strategy.ReasonSignFlip || d.Entered {
		t.Fatalf("expected sign flip exit without re-entry, got %+v", d)
	}
	if len(d.Orders) != 2 || d.Orders[0].Type != execution.TargetPercent || d.Orders[0].Symbol != "INFY" || d.Orders[1].Symbol != "WIT" {
		t.Fatalf("expected both legs flattened, got %v", d.Orders)
	}
	if _, err := broker.Settle(ctx, market); err != nil {
		t.Fatalf("settle error: %v", err)
	}
	if held, _ := broker.Positions(ctx); len(held) != 0 {
		t.Fatalf("expected flat after exit, got %v", held)
	}
	if eng.State() != strategy.Flat {
		t.Fatalf("expected flat state")
	}

	actions := make([]string, len(rec.signals))
	for i, s := range rec.signals {
		actions[i] = s.Action
	}
	want := []string{"enter", "skip", "hold", "exit"}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, actions)
		}
	}
}

func TestConfigFromSelectsPair(t *testing.T) {
	cfg := config.Default()
	ec, err := ConfigFrom(cfg)
	if err != nil {
		t.Fatalf("ConfigFrom error: %v", err)
	}
	if ec.X != "INFY" || ec.Y != "WIT" || ec.Lookback != 250 || ec.Params.EntryThreshold != 1.5 {
		t.Fatalf("unexpected engine config %+v", ec)
	}
	cfg.Strategy.PairIndex = 9
	if _, err := ConfigFrom(cfg); err == nil {
		t.Fatalf("expected out of range pair index error")
	}
}
