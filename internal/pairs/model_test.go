package pairs

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"pairsbot-go/internal/stats"
)

func cointegratedPair(rng *rand.Rand, n int, slope, intercept, noise float64) (x, y []float64) {
	x = make([]float64, n)
	y = make([]float64, n)
	px := 100.0
	for i := 0; i < n; i++ {
		px += rng.NormFloat64()
		x[i] = px
		y[i] = slope*px + intercept + noise*rng.NormFloat64()
	}
	return x, y
}

func TestBuildRecoversExactLine(t *testing.T) {
	x := make([]float64, 250)
	y := make([]float64, 250)
	for i := range x {
		x[i] = 50 + float64(i)*0.5
		y[i] = 2*x[i] + 3
	}
	model, err := NewBuilder(250).Build(x, y, 0.05)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if math.Abs(model.Slope-2) > 1e-9 || math.Abs(model.Intercept-3) > 1e-6 {
		t.Fatalf("expected slope 2 intercept 3, got %.9f %.9f", model.Slope, model.Intercept)
	}
	if model.SpreadStdDev > 1e-9 {
		t.Fatalf("expected zero spread std, got %g", model.SpreadStdDev)
	}
	if !model.Degenerate || model.IsCointegrated || model.Tradable() {
		t.Fatalf("exact fit must be degenerate and untradable: %+v", model)
	}
	if _, _, err := model.Project(60, 123); !errors.Is(err, ErrDegenerateSpread) {
		t.Fatalf("expected ErrDegenerateSpread, got %v", err)
	}
}

func TestBuildCointegratedPair(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x, y := cointegratedPair(rng, 250, 1.5, 0, 1)
	model, err := NewBuilder(250).Build(x, y, 0.05)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if math.Abs(model.Slope-1.5) > 0.1 {
		t.Fatalf("expected slope near 1.5, got %.4f", model.Slope)
	}
	if !model.IsCointegrated || !model.Tradable() {
		t.Fatalf("expected cointegrated model, adf=%+v", model.ADF)
	}
	if model.SpreadStdDev < 0.8 || model.SpreadStdDev > 1.2 {
		t.Fatalf("expected spread std near 1, got %.4f", model.SpreadStdDev)
	}
}

func TestProjectAtMeanSpreadIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x, y := cointegratedPair(rng, 250, 1.5, 10, 1)
	model, err := NewBuilder(250).Build(x, y, 0.05)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	xPrice := x[120]
	yPrice := model.Slope*xPrice + model.Intercept + model.SpreadMean
	spread, z, err := model.Project(xPrice, yPrice)
	if err != nil {
		t.Fatalf("Project error: %v", err)
	}
	if math.Abs(z) > 1e-9 || math.Abs(spread-model.SpreadMean) > 1e-9 {
		t.Fatalf("expected zero z-score at mean spread, got spread=%g z=%g", spread, z)
	}

	_, z, _ = model.Project(xPrice, yPrice+2*model.SpreadStdDev)
	if math.Abs(z-2) > 1e-9 {
		t.Fatalf("expected z=2 two deviations above the line, got %.6f", z)
	}
}

func TestBuildRejectsBadWindows(t *testing.T) {
	b := NewBuilder(10)
	good := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[string][2][]float64{
		"short x":    {good[:9], good},
		"short y":    {good, good[:9]},
		"constant x": {{5, 5, 5, 5, 5, 5, 5, 5, 5, 5}, good},
		"constant y": {good, {5, 5, 5, 5, 5, 5, 5, 5, 5, 5}},
		"nan":        {good, {1, 2, 3, math.NaN(), 5, 6, 7, 8, 9, 10}},
		"negative x": {{1, 2, 3, 4, 5, 6, 7, 8, 9, -5}, good},
		"zero y":     {good, {1, 2, 0, 4, 5, 6, 7, 8, 9, 10}},
	}
	for name, c := range cases {
		if _, err := b.Build(c[0], c[1], 0.05); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("%s: expected ErrInsufficientData, got %v", name, err)
		}
	}
	_, err := b.Build(good[:9], good, 0.05)
	var dataErr *DataError
	if !errors.As(err, &dataErr) || dataErr.Series != "x" {
		t.Fatalf("expected DataError for x, got %v", err)
	}
	_, err = b.Build(good, []float64{1, 2, 0, 4, 5, 6, 7, 8, 9, 10}, 0.05)
	if !errors.As(err, &dataErr) || dataErr.Series != "y" || !strings.Contains(dataErr.Reason, "non-positive") {
		t.Fatalf("expected non-positive DataError for y, got %v", err)
	}
}

func TestCointegrationTesterGating(t *testing.T) {
	rng := rand.New(rand.NewSource(2017))
	const trials = 100
	var tester CointegrationTester

	noisePass := 0
	for i := 0; i < trials; i++ {
		series := make([]float64, 250)
		for j := range series {
			series[j] = rng.NormFloat64()
		}
		ok, _, err := tester.Test(series, 0.05)
		if err != nil {
			t.Fatalf("white noise trial %d: %v", i, err)
		}
		if ok {
			noisePass++
		}
	}
	if noisePass < 95 {
		t.Fatalf("expected >=95%% of white-noise series cointegrated, got %d/%d", noisePass, trials)
	}

	walkReject := 0
	for i := 0; i < trials; i++ {
		series := make([]float64, 250)
		for j := range series {
			if j > 0 {
				series[j] = series[j-1]
			}
			series[j] += rng.NormFloat64()
		}
		ok, _, err := tester.Test(series, 0.05)
		if err != nil {
			t.Fatalf("random walk trial %d: %v", i, err)
		}
		if !ok {
			walkReject++
		}
	}
	if walkReject < 85 {
		t.Fatalf("expected >=85%% of random walks non-cointegrated, got %d/%d", walkReject, trials)
	}
}

func TestCointegrationTesterFailsLoudly(t *testing.T) {
	var tester CointegrationTester
	_, _, err := tester.Test([]float64{1, 2, 3}, 0.05)
	if !errors.Is(err, ErrInsufficientData) || !errors.Is(err, stats.ErrSeriesTooShort) {
		t.Fatalf("expected short-series error, got %v", err)
	}
	_, _, err = tester.Test(make([]float64, 40), 0.05)
	if !errors.Is(err, ErrInsufficientData) || !errors.Is(err, stats.ErrConstantSeries) {
		t.Fatalf("expected constant-series error, got %v", err)
	}
}
