package usecase

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairtrader_decisions_total",
			Help: "Decisions produced, by action and deny code",
		},
		[]string{"action", "code"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairtrader_orders_total",
			Help: "Orders executed, by side and cause",
		},
		[]string{"side", "cause"},
	)

	mtxLevelExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairtrader_level_exits_total",
			Help: "Partial exits executed at a level target",
		},
	)

	mtxTrailingStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairtrader_trailing_stops_total",
			Help: "Full exits executed via trailing stop",
		},
	)

	mtxCyclesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairtrader_cycles_closed_total",
			Help: "Exit cycles closed, by outcome (complete|evicted)",
		},
		[]string{"outcome"},
	)

	mtxActiveTrackers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairtrader_active_trackers",
			Help: "Partial-exit trackers currently in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxDecisions,
		mtxOrders,
		mtxLevelExits,
		mtxTrailingStops,
		mtxCyclesClosed,
		mtxActiveTrackers,
	)
}
