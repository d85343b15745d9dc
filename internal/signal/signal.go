// Package signal standardizes payloads shared between data ingestion, the engine and recorders.
package signal

import "time"

// Tick models a single traded price observed on a live stream.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 buy, -1 sell (aggressor)
	Ts     time.Time
}

// Signal records the spread evaluation of one engine tick.
type Signal struct {
	Pair         string    `json:"pair"`
	Action       string    `json:"action"` // skip, hold, exit, enter, none, exit+enter
	Reason       string    `json:"reason"`
	ExitReason   string    `json:"exit_reason,omitempty"`
	State        string    `json:"state"`
	Spread       float64   `json:"spread"`
	ZScore       float64   `json:"z_score"` // positive: y rich against x
	Slope        float64   `json:"slope"`
	Intercept    float64   `json:"intercept"`
	SpreadStdDev float64   `json:"spread_std_dev"`
	Cointegrated bool      `json:"cointegrated"`
	PValue       float64   `json:"p_value"`
	Orders       int       `json:"orders"`
	Ts           time.Time `json:"ts"`
}
