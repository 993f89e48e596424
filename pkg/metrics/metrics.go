// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signal_service"

var (
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections",
		Help:      "Database connection pool usage by state",
	}, []string{"state"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route", "method"})

	SignalsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_submitted_total",
		Help:      "Signal submissions by outcome (accepted, invalid, duplicate, rejected)",
	}, []string{"outcome", "source"})

	SignalEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_events_total",
		Help:      "Signal events appended by type",
	}, []string{"event_type"})

	PollerClaimedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poller_claimed_signals",
		Help:      "Signals claimed in the last poll cycle",
	})

	PriceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_requests_total",
		Help:      "Price lookups by source and result",
	}, []string{"source", "result"})

	PriceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "price_request_duration_seconds",
		Help:      "Latency of price source calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts by result",
	}, []string{"result"})

	WebhookQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_queue_dropped_total",
		Help:      "Webhook jobs dropped because the queue was full",
	})

	WebhookCircuitTrips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_circuit_trips_total",
		Help:      "Webhook configs disabled by the circuit breaker",
	})

	StatsRecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stats_recompute_duration_seconds",
		Help:      "Duration of a provider stats recompute run",
		Buckets:   prometheus.DefBuckets,
	})
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordPriceRequest records one price source call.
func RecordPriceRequest(source string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PriceRequestsTotal.WithLabelValues(source, result).Inc()
	PriceLatency.WithLabelValues(source).Observe(d.Seconds())
}
