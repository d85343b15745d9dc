// Package metrics registers the Prometheus collectors exported by the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Engine evaluations by outcome"},
		[]string{"pair", "outcome"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stream_trades_total", Help: "Trades received from the live price stream"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Paper fills booked"},
		[]string{"symbol", "side"},
	)
	ModelBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "model_builds_total", Help: "Spread model fits by result"},
		[]string{"pair", "result"},
	)
	ZScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pair_zscore", Help: "Latest spread z-score"},
		[]string{"pair"},
	)
	Spread = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pair_spread", Help: "Latest spread against the fitted line"},
		[]string{"pair"},
	)
	PositionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pair_position_state", Help: "Entry sign of the open pair position, 0 when flat"},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, TradesTotal, OrdersTotal, FillsTotal, ModelBuildsTotal, ZScore, Spread, PositionState)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
