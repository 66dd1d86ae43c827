package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the session gateway.
type Metrics struct {
	SessionOperations  *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec
	ActiveSessions     prometheus.Gauge
	RequestDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "p3am_session_operations_total",
			Help: "Session manager operations by outcome",
		}, []string{"operation", "outcome"}),
		RemoteCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "p3am_remote_call_duration_seconds",
			Help:    "Latency of calls to the backend API and the phone verification provider",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service", "call"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "p3am_active_sessions",
			Help: "Browser sessions currently held in memory by the gateway",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "p3am_http_request_duration_seconds",
			Help:    "Latency of HTTP requests served, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) IncrementOperation(operation, outcome string) {
	m.SessionOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveRemoteCall(service, call string, d time.Duration) {
	m.RemoteCallDuration.WithLabelValues(service, call).Observe(d.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
