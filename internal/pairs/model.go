package pairs

import (
	"fmt"
	"math"
	"time"

	"pairsbot-go/internal/stats"
)

// stdDevEpsilon is the smallest spread dispersion a model may divide by.
const stdDevEpsilon = 1e-10

// SpreadModel is an immutable fit of y on x over one lookback window.
type SpreadModel struct {
	Slope          float64
	Intercept      float64
	SpreadMean     float64
	SpreadStdDev   float64
	IsCointegrated bool
	// Degenerate is set when SpreadStdDev is too small to normalise by; such a model never trades.
	Degenerate bool
	ADF        stats.ADFResult
	Lookback   int
	BuiltAt    time.Time
}

// Tradable reports whether the model may be used to open a position.
func (m *SpreadModel) Tradable() bool {
	return m != nil && !m.Degenerate && m.IsCointegrated
}

// Project maps current prices to the spread against the fitted line and its z-score.
func (m *SpreadModel) Project(xPrice, yPrice float64) (spread, z float64, err error) {
	spread = yPrice - (m.Slope*xPrice + m.Intercept)
	if m.Degenerate || m.SpreadStdDev < stdDevEpsilon {
		return spread, 0, ErrDegenerateSpread
	}
	return spread, spread / m.SpreadStdDev, nil
}

// Builder fits SpreadModels from equal-length historical windows.
type Builder struct {
	Tester   Tester
	Lookback int
	Now      func() time.Time
}

// NewBuilder returns a Builder using the ADF cointegration tester.
func NewBuilder(lookback int) *Builder {
	return &Builder{Tester: CointegrationTester{}, Lookback: lookback, Now: time.Now}
}

// Build regresses y on x, derives the in-sample residual spread and tests it for cointegration.
func (b *Builder) Build(x, y []float64, significance float64) (*SpreadModel, error) {
	if err := b.validate("x", x); err != nil {
		return nil, err
	}
	if err := b.validate("y", y); err != nil {
		return nil, err
	}

	slope, intercept, err := stats.LinearFit(x, y)
	if err != nil {
		return nil, &DataError{Series: "x", Reason: "regression", Err: err}
	}

	spread := make([]float64, len(y))
	var sum float64
	for i := range y {
		spread[i] = y[i] - (slope*x[i] + intercept)
		sum += spread[i]
	}

	model := &SpreadModel{
		Slope:        slope,
		Intercept:    intercept,
		SpreadMean:   sum / float64(len(spread)),
		SpreadStdDev: stats.PopStdDev(spread),
		Lookback:     len(x),
		BuiltAt:      b.now(),
	}
	if model.SpreadStdDev < stdDevEpsilon {
		model.Degenerate = true
		return model, nil
	}

	ok, adf, err := b.tester().Test(spread, significance)
	if err != nil {
		return nil, fmt.Errorf("cointegration test: %w", err)
	}
	model.IsCointegrated = ok
	model.ADF = adf
	return model, nil
}

func (b *Builder) validate(name string, series []float64) error {
	if b.Lookback > 0 && len(series) != b.Lookback {
		return &DataError{Series: name, Reason: fmt.Sprintf("want %d bars, got %d", b.Lookback, len(series))}
	}
	if len(series) < stats.MinADFObservations {
		return &DataError{Series: name, Reason: fmt.Sprintf("%d bars", len(series)), Err: stats.ErrSeriesTooShort}
	}
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &DataError{Series: name, Reason: fmt.Sprintf("non-finite price at bar %d", i)}
		}
		if v <= 0 {
			return &DataError{Series: name, Reason: fmt.Sprintf("non-positive price %v at bar %d", v, i)}
		}
	}
	if stats.IsConstant(series) {
		return &DataError{Series: name, Err: stats.ErrConstantSeries}
	}
	return nil
}

func (b *Builder) tester() Tester {
	if b.Tester == nil {
		return CointegrationTester{}
	}
	return b.Tester
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}
