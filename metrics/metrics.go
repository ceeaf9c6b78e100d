package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's Prometheus registry.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	commits   *prometheus.CounterVec
	points    *prometheus.CounterVec
	outbox    *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loyalty",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "commits_total",
			Help:      "Hold commits by outcome.",
		}, []string{"result"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "points_total",
			Help:      "Points moved by the ledger, by movement type.",
		}, []string{"type"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "outbox_events_total",
			Help:      "Outbox events relayed to the broker, by outcome.",
		}, []string{"result"}),
	}
	registry.MustRegister(m.requests, m.durations, m.commits, m.points, m.outbox)
	return m
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCommit(alreadyCommitted bool) {
	result := "committed"
	if alreadyCommitted {
		result = "already_committed"
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) AddPoints(kind string, amount int64) {
	if amount <= 0 {
		return
	}
	m.points.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) ObserveOutbox(result string, n int) {
	if n <= 0 {
		return
	}
	m.outbox.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
