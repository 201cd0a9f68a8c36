package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delphi_ticks_total", Help: "Trade ticks received from the feed"},
		[]string{"symbol"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delphi_decisions_total", Help: "Tick evaluations by result"},
		[]string{"symbol", "result"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delphi_orders_total", Help: "Order submissions by side and result"},
		[]string{"symbol", "side", "result"},
	)
	BrokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delphi_broker_errors_total", Help: "Failed broker calls by operation"},
		[]string{"op"},
	)
	LongMomentum = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "delphi_long_momentum", Help: "Latest long-horizon momentum"},
		[]string{"symbol"},
	)
	PositionHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "delphi_position_qty", Help: "Quantity held by the controller"},
		[]string{"symbol"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "delphi_tick_queue_depth", Help: "Ticks waiting for the worker"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, DecisionsTotal, OrdersTotal, BrokerErrorsTotal, LongMomentum, PositionHeld, QueueDepth)
}
