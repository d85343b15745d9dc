package pairs

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData marks a historical window that cannot support a model fit.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateSpread marks a model whose residual spread has no dispersion to normalise by.
	ErrDegenerateSpread = errors.New("degenerate spread")
)

// DataError describes which input window was rejected and why.
type DataError struct {
	Series string // "x", "y" or "residuals"
	Reason string
	Err    error // underlying cause, may be nil
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("insufficient data [%s]", e.Series)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrInsufficientData and the underlying cause to errors.Is.
func (e *DataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInsufficientData}
	}
	return []error{ErrInsufficientData, e.Err}
}
