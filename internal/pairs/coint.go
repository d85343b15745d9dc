// Package pairs fits the linear spread model between two instruments and tests it for cointegration.
package pairs

import (
	"errors"
	"fmt"

	"pairsbot-go/internal/stats"
)

// Tester decides whether a residual spread is stationary at the given significance.
type Tester interface {
	Test(residuals []float64, significance float64) (bool, stats.ADFResult, error)
}

// CointegrationTester applies the Augmented Dickey-Fuller test to a residual spread.
type CointegrationTester struct{}

// Test reports true iff the ADF p-value is strictly below significance.
// Short or constant residual series are rejected with ErrInsufficientData.
func (CointegrationTester) Test(residuals []float64, significance float64) (bool, stats.ADFResult, error) {
	res, err := stats.ADFuller(residuals)
	if err != nil {
		if errors.Is(err, stats.ErrSeriesTooShort) || errors.Is(err, stats.ErrConstantSeries) {
			return false, res, &DataError{Series: "residuals", Err: err}
		}
		return false, res, fmt.Errorf("adf: %w", err)
	}
	return res.PValue < significance, res, nil
}
