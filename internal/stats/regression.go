// Package stats provides the regression and unit-root kernels used to fit pair models.
package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrSeriesTooShort reports a series with fewer observations than the computation needs.
	ErrSeriesTooShort = errors.New("series too short")
	// ErrConstantSeries reports a series without variance.
	ErrConstantSeries = errors.New("series is constant")
	// ErrLengthMismatch reports paired series of different lengths.
	ErrLengthMismatch = errors.New("series length mismatch")
	// ErrSingularDesign reports a regression whose normal equations cannot be solved.
	ErrSingularDesign = errors.New("singular design matrix")
)

// LinearFit regresses y on x with an intercept term and returns the slope and intercept.
func LinearFit(x, y []float64) (slope, intercept float64, err error) {
	if len(x) != len(y) {
		return 0, 0, fmt.Errorf("%w: x=%d y=%d", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) < 2 {
		return 0, 0, ErrSeriesTooShort
	}
	if IsConstant(x) {
		return 0, 0, fmt.Errorf("regressor: %w", ErrConstantSeries)
	}
	intercept, slope = stat.LinearRegression(x, y, nil, false)
	return slope, intercept, nil
}

// PopStdDev returns the population (divide by n) standard deviation of x.
func PopStdDev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.PopStdDev(x, nil)
}

// IsConstant reports whether every element of x equals the first one.
func IsConstant(x []float64) bool {
	for _, v := range x[min(1, len(x)):] {
		if v != x[0] {
			return false
		}
	}
	return true
}

// OLSResult holds the quantities of a least-squares fit needed for lag selection and testing.
type OLSResult struct {
	Params  []float64
	TValues []float64
	SSR     float64
	NObs    int
	LogLike float64
	AIC     float64
}

// OLS fits y = X·b by least squares. Every regressor, including any constant, must be a column of x.
func OLS(y []float64, x *mat.Dense) (OLSResult, error) {
	n, k := x.Dims()
	if n != len(y) {
		return OLSResult{}, fmt.Errorf("%w: rows=%d y=%d", ErrLengthMismatch, n, len(y))
	}
	if n <= k {
		return OLSResult{}, fmt.Errorf("%w: %d observations for %d regressors", ErrSeriesTooShort, n, k)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return OLSResult{}, ErrSingularDesign
	}

	yv := mat.NewVecDense(n, y)
	var xty mat.VecDense
	xty.MulVec(x.T(), yv)
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return OLSResult{}, fmt.Errorf("%w: %v", ErrSingularDesign, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	var ssr float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		ssr += r * r
	}
	if ssr <= 0 {
		return OLSResult{}, fmt.Errorf("%w: zero residual variance", ErrSingularDesign)
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return OLSResult{}, fmt.Errorf("%w: %v", ErrSingularDesign, err)
	}
	sigma2 := ssr / float64(n-k)
	params := make([]float64, k)
	tvalues := make([]float64, k)
	for j := 0; j < k; j++ {
		params[j] = beta.AtVec(j)
		tvalues[j] = params[j] / math.Sqrt(sigma2*inv.At(j, j))
	}

	nobs := float64(n)
	llf := -nobs / 2 * (math.Log(2*math.Pi) + math.Log(ssr/nobs) + 1)
	return OLSResult{
		Params:  params,
		TValues: tvalues,
		SSR:     ssr,
		NObs:    n,
		LogLike: llf,
		AIC:     -2*llf + 2*float64(k),
	}, nil
}
