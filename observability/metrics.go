// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for Herald.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "herald"

// Metrics holds Herald's Prometheus collectors.
type Metrics struct {
	EventsEmitted     *prometheus.CounterVec
	DeliveriesCreated prometheus.Counter
	Attempts          *prometheus.CounterVec
	AttemptLatency    prometheus.Histogram
	Inflight          prometheus.Gauge
	DispatchRejected  prometheus.Counter
	Redriven          prometheus.Counter
	RateLimited       *prometheus.CounterVec
	IngestMessages    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events emitted, by kind.",
		}, []string{"kind"}),
		DeliveriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Delivery records created by fan-out.",
		}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "HTTP delivery attempts, by outcome (success, retry, failed).",
		}, []string{"outcome"}),
		AttemptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Latency of delivery HTTP requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deliveries_inflight",
			Help:      "Deliveries queued, sending or waiting for a retry.",
		}),
		DispatchRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_rejected_total",
			Help:      "Deliveries left pending because the worker queue was full.",
		}),
		Redriven: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_redriven_total",
			Help:      "Stale pending deliveries re-dispatched by the sweep.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejected_total",
			Help:      "Requests rejected by the inbound rate limiter, by route.",
		}, []string{"route"}),
		IngestMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Kafka messages consumed, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsEmitted,
			m.DeliveriesCreated,
			m.Attempts,
			m.AttemptLatency,
			m.Inflight,
			m.DispatchRejected,
			m.Redriven,
			m.RateLimited,
			m.IngestMessages,
		)
	}

	return m
}

// RecordAttempt counts one delivery attempt and its latency.
func (m *Metrics) RecordAttempt(outcome string, latencySeconds float64) {
	m.Attempts.WithLabelValues(outcome).Inc()
	m.AttemptLatency.Observe(latencySeconds)
}
