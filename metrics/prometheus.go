package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Subscription states reported through SetSubscriptionState.
var subscriptionStates = []string{
	"unsubscribed", "subscribing", "subscribed", "unsubscribing", "disconnected",
}

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	connected         prometheus.Gauge
	calls             *prometheus.CounterVec
	callErrors        *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	notifications     *prometheus.CounterVec
	handlerErrors     prometheus.Counter
	subscriptionState *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_connected",
				Help:      "1 while the IPC session is connected",
			},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of remote calls issued",
			},
			[]string{"interface", "method"},
		),
		callErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_errors_total",
				Help:      "Total number of remote call failures",
			},
			[]string{"interface", "method", "kind"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Remote call round-trip latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"interface", "method"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of chain notifications received",
			},
			[]string{"kind"},
		),
		handlerErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of notification handler failures",
			},
		),
		subscriptionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscription_state",
				Help:      "1 for the current subscription state, 0 otherwise",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.connected,
		m.calls,
		m.callErrors,
		m.callDuration,
		m.notifications,
		m.handlerErrors,
		m.subscriptionState,
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *PrometheusMetrics) IncCalls(iface, method string) {
	m.calls.WithLabelValues(iface, method).Inc()
}

func (m *PrometheusMetrics) IncCallErrors(iface, method, kind string) {
	m.callErrors.WithLabelValues(iface, method, kind).Inc()
}

func (m *PrometheusMetrics) ObserveCallDuration(iface, method string, d time.Duration) {
	m.callDuration.WithLabelValues(iface, method).Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncNotifications(kind string) {
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) IncHandlerErrors() {
	m.handlerErrors.Inc()
}

func (m *PrometheusMetrics) SetSubscriptionState(state string) {
	for _, s := range subscriptionStates {
		if s == state {
			m.subscriptionState.WithLabelValues(s).Set(1)
		} else {
			m.subscriptionState.WithLabelValues(s).Set(0)
		}
	}
}

// Ensure PrometheusMetrics implements Metrics.
var _ Metrics = (*PrometheusMetrics)(nil)
