package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements ports.Metrics on its own registry.
type Prometheus struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	events       *prometheus.CounterVec
	period       prometheus.Gauge
	phase        *prometheus.GaugeVec
	members      prometheus.Gauge
	ended        prometheus.Gauge
	cacheLookups *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

var phases = []string{"BIDDING", "COLLECTING", "SETTLED"}

func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "hui"
	}
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation latency including commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Committed ledger events by type.",
		}, []string{"event_type"}),
		period: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_current_period",
			Help:      "Current period index, 1-based.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_phase",
			Help:      "1 for the phase the pool is in, 0 otherwise.",
		}, []string{"phase"}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_members",
			Help:      "Number of joined members.",
		}),
		ended: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_ended",
			Help:      "1 once the final period has settled.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_lookups_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status class.",
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(
		m.operations, m.latency, m.events, m.period, m.phase, m.members, m.ended, m.cacheLookups, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Prometheus) ObserveEvents(eventType string, count int) {
	m.events.WithLabelValues(eventType).Add(float64(count))
}

func (m *Prometheus) SetPoolState(period int, phase string, members int, ended bool) {
	m.period.Set(float64(period))
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(p).Set(v)
	}
	m.members.Set(float64(members))
	if ended {
		m.ended.Set(1)
	} else {
		m.ended.Set(0)
	}
}

func (m *Prometheus) ObserveCache(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Prometheus) ObserveHTTP(route, method string, status int) {
	m.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (m *Prometheus) Registry() *prometheus.Registry { return m.registry }

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
