// Package metrics holds the process-wide prometheus instruments for
// the hot paths. Registration happens at init; a dashboard process can
// expose them with promhttp, the engine itself only increments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deriv_ticks_received_total",
		Help: "Ticks decoded from the exchange stream, per symbol.",
	}, []string{"symbol"})

	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deriv_ticks_dropped_total",
		Help: "Ticks rejected for non-finite or non-positive prices.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deriv_ws_reconnects_total",
		Help: "Transport reconnect attempts.",
	})

	PendingReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deriv_ws_pending_reaped_total",
		Help: "In-flight request records reaped after the staleness bound.",
	})

	TradesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deriv_trades_settled_total",
		Help: "Settled contracts by result.",
	}, []string{"result"})

	BuyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deriv_buy_failures_total",
		Help: "Buy requests rejected by the exchange or timed out.",
	})

	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deriv_bus_events_dropped_total",
		Help: "Events dropped from full subscriber queues (oldest-first).",
	})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deriv_signals_emitted_total",
		Help: "Actionable signals produced by strategies, per direction.",
	}, []string{"direction"})
)
