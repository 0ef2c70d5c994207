// Package metrics registers the wallet's prometheus collectors. All Metrics
// methods accept a nil receiver so components can run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	EntriesApplied   *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	MutationLatency  *prometheus.HistogramVec
	EventsPublished  *prometheus.CounterVec
	MovementsHandled *prometheus.CounterVec
	RequestCount     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EntriesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_entries_applied_total",
				Help: "Ledger entries committed, by kind. Replays are counted separately.",
			},
			[]string{"kind", "replay"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_mutation_rejections_total",
				Help: "Rejected balance mutations by operation and reason.",
			},
			[]string{"op", "reason"},
		),
		MutationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_mutation_duration_seconds",
				Help:    "Duration of balance mutations in seconds, lock wait included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_events_published_total",
				Help: "Entry events handed to the outbound sink.",
			},
			[]string{"status"},
		),
		MovementsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_movements_handled_total",
				Help: "Deposit and withdrawal movements consumed, by outcome.",
			},
			[]string{"outcome"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	registry.MustRegister(m.EntriesApplied, m.Rejections, m.MutationLatency, m.EventsPublished,
		m.MovementsHandled, m.RequestCount, m.RequestDuration)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMutation(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.MutationLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) EntryApplied(kind string, replay bool) {
	if m == nil {
		return
	}
	m.EntriesApplied.WithLabelValues(kind, strconv.FormatBool(replay)).Inc()
}

func (m *Metrics) Rejected(op, reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) EventPublished(status string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(status).Inc()
}

func (m *Metrics) MovementHandled(outcome string) {
	if m == nil {
		return
	}
	m.MovementsHandled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.RequestCount.WithLabelValues(method, path, code).Inc()
	m.RequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
}
