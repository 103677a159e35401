package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "locshare"

// Metrics is the daemon's collector set.
type Metrics struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	serviceStartFailed prometheus.Counter
	probes             *prometheus.CounterVec
	fixes              *prometheus.CounterVec
	refreshes          *prometheus.CounterVec
	refreshDuration    prometheus.Histogram
	nearby             prometheus.Gauge
	radius             prometheus.Gauge
	sharingOn          prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	wsClients          prometheus.Gauge
}

// New creates a Metrics with a fresh registry. Go runtime and process
// collectors are registered alongside the locshare collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sharing",
			Name:      "transitions_total",
			Help:      "Sharing state transitions by source and target state.",
		}, []string{"from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sharing",
			Name:      "rejections_total",
			Help:      "Refused toggle-on requests by reason.",
		}, []string{"reason"}),
		serviceStartFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sharing",
			Name:      "service_start_failures_total",
			Help:      "Background reporting service start failures.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sysloc",
			Name:      "probes_total",
			Help:      "Location availability probes by outcome.",
		}, []string{"outcome"}),
		fixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "fixes_total",
			Help:      "Position fixes delivered by event kind.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proximity",
			Name:      "refreshes_total",
			Help:      "Nearby queries by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proximity",
			Name:      "refresh_duration_seconds",
			Help:      "Nearby query latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		nearby: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proximity",
			Name:      "nearby_entities",
			Help:      "Entities returned by the last successful nearby query.",
		}),
		radius: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proximity",
			Name:      "radius_meters",
			Help:      "Currently selected search radius.",
		}),
		sharingOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sharing",
			Name:      "on",
			Help:      "1 while location sharing is on.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.rejections,
		m.serviceStartFailed,
		m.probes,
		m.fixes,
		m.refreshes,
		m.refreshDuration,
		m.nearby,
		m.radius,
		m.sharingOn,
		m.httpRequests,
		m.httpDuration,
		m.wsClients,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Transition records a settled state change.
func (m *Metrics) Transition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
	if to == "on" {
		m.sharingOn.Set(1)
	} else {
		m.sharingOn.Set(0)
	}
}

// Rejected records a refused toggle-on.
func (m *Metrics) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// ServiceStartFailed records a reporting service start failure.
func (m *Metrics) ServiceStartFailed() {
	m.serviceStartFailed.Inc()
}

// Probe records an availability probe outcome.
func (m *Metrics) Probe(outcome string) {
	m.probes.WithLabelValues(outcome).Inc()
}

// Fix records a position stream event.
func (m *Metrics) Fix(kind string) {
	m.fixes.WithLabelValues(kind).Inc()
}

// Refresh records a nearby query. The nearby gauge only moves on success.
func (m *Metrics) Refresh(radiusMeters, count int, took time.Duration, err error) {
	m.refreshDuration.Observe(took.Seconds())
	m.radius.Set(float64(radiusMeters))
	if err != nil {
		m.refreshes.WithLabelValues("error").Inc()
		return
	}
	m.refreshes.WithLabelValues("ok").Inc()
	m.nearby.Set(float64(count))
}

// ObserveHTTP records a completed API request.
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(took.Seconds())
}

// SetWebSocketClients sets the connected client gauge.
func (m *Metrics) SetWebSocketClients(n int) {
	m.wsClients.Set(float64(n))
}
