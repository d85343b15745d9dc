// Package risk holds pre-trade guard rails.
package risk

import (
	"errors"
	"fmt"
)

var (
	ErrLegLimit   = errors.New("leg notional above limit")
	ErrGrossLimit = errors.New("gross notional above limit")
)

// Limits caps the size of a pair entry. A zero cap disables that check.
type Limits struct {
	MaxNotionalPerLeg float64
	MaxGrossNotional  float64 // both legs together
}

// Allow reports whether a single leg of the given notional fits the per-leg cap.
func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerLeg <= 0 || notional <= l.MaxNotionalPerLeg
}

// CheckEntry validates the absolute notionals of both legs of a new position.
func (l Limits) CheckEntry(legX, legY float64) error {
	for _, leg := range []float64{legX, legY} {
		if !l.Allow(leg) {
			return fmt.Errorf("%w: %.2f > %.2f", ErrLegLimit, leg, l.MaxNotionalPerLeg)
		}
	}
	if gross := legX + legY; l.MaxGrossNotional > 0 && gross > l.MaxGrossNotional {
		return fmt.Errorf("%w: %.2f > %.2f", ErrGrossLimit, gross, l.MaxGrossNotional)
	}
	return nil
}
