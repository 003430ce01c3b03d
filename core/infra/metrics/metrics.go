package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for reconciliation invocations.
type Metrics interface {
	IncEventsReceived(source string)
	IncMutations(kind string)
	IncFatal(reason string)
	ObserveInvocation(direction, status string, durationSeconds float64)
}

// HTTPMetrics captures request metrics for the invoke API.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics and HTTPMetrics without emitting anything.
type Noop struct{}

func (Noop) IncEventsReceived(string)                       {}
func (Noop) IncMutations(string)                            {}
func (Noop) IncFatal(string)                                {}
func (Noop) ObserveInvocation(string, string, float64)      {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	eventsReceived *prometheus.CounterVec
	mutations      *prometheus.CounterVec
	fatal          *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Invocation events received by source",
		}, []string{"source"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_mutations_total",
			Help:      "Backend mutation calls by kind",
		}, []string{"kind"}),
		fatal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_errors_total",
			Help:      "Invocations terminated without an outcome, by reason",
		}, []string{"reason"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations by direction and status",
		}, []string{"direction", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Invocation duration seconds by direction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.eventsReceived, p.mutations, p.fatal, p.invocations, p.duration)
	})
}

func (p *Prom) IncEventsReceived(source string) {
	p.eventsReceived.WithLabelValues(source).Inc()
}

func (p *Prom) IncMutations(kind string) {
	p.mutations.WithLabelValues(kind).Inc()
}

func (p *Prom) IncFatal(reason string) {
	p.fatal.WithLabelValues(reason).Inc()
}

func (p *Prom) ObserveInvocation(direction, status string, durationSeconds float64) {
	p.invocations.WithLabelValues(direction, status).Inc()
	p.duration.WithLabelValues(direction).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP metrics (invoke API) ---

type httpProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewHTTPProm constructs HTTPMetrics with counters/histograms.
func NewHTTPProm(namespace string) HTTPMetrics {
	g := &httpProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *httpProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
