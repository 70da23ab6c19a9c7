package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcalls_operations_total",
		Help: "Settlement operations processed, by operation and outcome",
	}, []string{"op", "status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credcalls_request_duration_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	PayoutUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcalls_payout_units_total",
		Help: "Base units moved out of escrow and vaults, by kind",
	}, []string{"kind"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credcalls_rate_limited_total",
		Help: "Requests rejected by the per-identity rate limiter",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcalls_events_dropped_total",
		Help: "Domain events that could not be delivered, by sink",
	}, []string{"sink"})
)

// ObserveOp records the outcome of one settlement operation.
func ObserveOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(op, status).Inc()
}
