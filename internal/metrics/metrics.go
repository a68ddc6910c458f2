// README: Prometheus collectors for the order engine and the HTTP layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drop"

var (
	OrderClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_claims_total",
		Help:      "Rider claim attempts by outcome.",
	}, []string{"outcome"})

	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Committed order status transitions by target status.",
	}, []string{"to"})

	Refunds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "Cancellation refunds by outcome (credited, replayed, skipped).",
	}, []string{"outcome"})

	EarningsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "earnings_recorded_total",
		Help:      "Rider earning records by outcome (created, replayed).",
	}, []string{"outcome"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})

	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// Register adds every collector to the default registry. Call once per process.
func Register() {
	prometheus.MustRegister(OrderClaims, OrderTransitions, Refunds, EarningsRecorded, HTTPRequests, HTTPLatency)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
