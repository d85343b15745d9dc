package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MinADFObservations is the shortest series ADFuller accepts.
const MinADFObservations = 8

// ADFResult summarises an Augmented Dickey-Fuller test with a constant term.
type ADFResult struct {
	Statistic float64
	PValue    float64
	UsedLag   int
	MaxLag    int
	NObs      int
	BestAIC   float64
	Critical  map[string]float64
}

// ADFuller runs the Augmented Dickey-Fuller unit-root test with a constant and AIC lag selection.
//
// The maximum lag is ceil(12*(n/100)^(1/4)) capped at n/2-2. Every candidate lag 0..maxlag is
// fitted on the same sample (the first maxlag differences dropped) and the lag with the lowest
// AIC wins, ties going to the shorter lag. The winning lag is then refitted on all usable
// observations and the t-value of the lagged level is the test statistic. The p-value comes
// from MacKinnon's approximate response surface for a single series.
func ADFuller(series []float64) (ADFResult, error) {
	n := len(series)
	if n < MinADFObservations {
		return ADFResult{}, fmt.Errorf("%w: adf needs %d observations, got %d", ErrSeriesTooShort, MinADFObservations, n)
	}
	if IsConstant(series) {
		return ADFResult{}, ErrConstantSeries
	}

	maxLag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	if limit := n/2 - 2; maxLag > limit {
		maxLag = limit
	}
	if maxLag < 0 {
		return ADFResult{}, ErrSeriesTooShort
	}

	diff := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diff[i-1] = series[i] - series[i-1]
	}

	commonObs := len(diff) - maxLag
	bestLag, bestAIC := 0, math.Inf(1)
	for lag := 0; lag <= maxLag; lag++ {
		res, err := OLS(diff[len(diff)-commonObs:], adfDesign(series, diff, lag, commonObs))
		if err != nil {
			return ADFResult{}, fmt.Errorf("adf lag %d: %w", lag, err)
		}
		if res.AIC < bestAIC {
			bestLag, bestAIC = lag, res.AIC
		}
	}

	nobs := len(diff) - bestLag
	res, err := OLS(diff[len(diff)-nobs:], adfDesign(series, diff, bestLag, nobs))
	if err != nil {
		return ADFResult{}, fmt.Errorf("adf refit: %w", err)
	}
	statistic := res.TValues[0]
	return ADFResult{
		Statistic: statistic,
		PValue:    MacKinnonP(statistic),
		UsedLag:   bestLag,
		MaxLag:    maxLag,
		NObs:      nobs,
		BestAIC:   bestAIC,
		Critical:  MacKinnonCritical(nobs),
	}, nil
}

// adfDesign lays out [level_{t-1}, Δ_{t-1} .. Δ_{t-lag}, 1] for the last nobs differences.
func adfDesign(series, diff []float64, lag, nobs int) *mat.Dense {
	cols := lag + 2
	design := mat.NewDense(nobs, cols, nil)
	start := len(diff) - nobs
	for row := 0; row < nobs; row++ {
		i := start + row
		design.Set(row, 0, series[i])
		for l := 1; l <= lag; l++ {
			design.Set(row, l, diff[i-l])
		}
		design.Set(row, cols-1, 1)
	}
	return design
}

// MacKinnon (1994) response surface, one series, constant term.
const (
	tauMaxC  = 2.74
	tauMinC  = -18.83
	tauStarC = -1.61
)

var (
	tauSmallPC = []float64{2.1659, 1.4412, 3.8269e-02}
	tauLargePC = []float64{1.7339, 9.3202e-01, -1.2745e-01, -1.0368e-02}
)

// MacKinnonP returns the approximate p-value of an ADF statistic for a single series with constant.
func MacKinnonP(statistic float64) float64 {
	switch {
	case math.IsNaN(statistic):
		return math.NaN()
	case statistic > tauMaxC:
		return 1
	case statistic < tauMinC:
		return 0
	}
	coef := tauLargePC
	if statistic <= tauStarC {
		coef = tauSmallPC
	}
	return distuv.UnitNormal.CDF(polyval(coef, statistic))
}

// MacKinnon (2010) finite-sample critical values, one series, constant term.
var criticalC = map[string][4]float64{
	"1%":  {-3.43035, -6.5393, -16.786, -79.433},
	"5%":  {-2.86154, -2.8903, -4.234, -40.040},
	"10%": {-2.56677, -1.5384, -2.809, 0},
}

// MacKinnonCritical returns the 1%, 5% and 10% critical values for a sample of nobs.
func MacKinnonCritical(nobs int) map[string]float64 {
	out := make(map[string]float64, len(criticalC))
	if nobs <= 0 {
		return out
	}
	inv := 1 / float64(nobs)
	for level, c := range criticalC {
		out[level] = polyval(c[:], inv)
	}
	return out
}

// polyval evaluates coef[0] + coef[1]*x + coef[2]*x^2 + ...
func polyval(coef []float64, x float64) float64 {
	var acc float64
	for i := len(coef) - 1; i >= 0; i-- {
		acc = acc*x + coef[i]
	}
	return acc
}
