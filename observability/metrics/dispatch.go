package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type DispatchMetrics struct {
	dispatched      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	discoveries     *prometheus.CounterVec
	webhookFailures *prometheus.CounterVec
}

var (
	dispatchOnce     sync.Once
	dispatchRegistry *DispatchMetrics
)

// Dispatch returns the registry tracking downstream action dispatches and
// webhook deliveries.
func Dispatch() *DispatchMetrics {
	dispatchOnce.Do(func() {
		dispatchRegistry = &DispatchMetrics{
			dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "zkescrow_action_dispatched_total",
				Help: "Count of environment action dispatches by environment and status.",
			}, []string{"environment", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "zkescrow_action_dispatch_seconds",
				Help:    "Latency distribution for environment action dispatches.",
				Buckets: prometheus.DefBuckets,
			}, []string{"environment"}),
			discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "zkescrow_action_endpoint_discoveries_total",
				Help: "Count of DNS endpoint discoveries by environment and outcome.",
			}, []string{"environment", "outcome"}),
			webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "zkescrow_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by destination.",
			}, []string{"destination"}),
		}
		prometheus.MustRegister(
			dispatchRegistry.dispatched,
			dispatchRegistry.latency,
			dispatchRegistry.discoveries,
			dispatchRegistry.webhookFailures,
		)
	})
	return dispatchRegistry
}

// RecordDispatch counts one dispatch attempt with its terminal status.
func (m *DispatchMetrics) RecordDispatch(environment, status string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(labelEnvironment(environment), labelOrUnknown(status)).Inc()
}

// ObserveDispatch records dispatch latency in seconds.
func (m *DispatchMetrics) ObserveDispatch(environment string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(labelEnvironment(environment)).Observe(seconds)
}

// RecordDiscovery counts one DNS endpoint discovery attempt.
func (m *DispatchMetrics) RecordDiscovery(environment string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.discoveries.WithLabelValues(labelEnvironment(environment), outcome).Inc()
}

// RecordWebhookFailure counts one failed webhook delivery attempt.
func (m *DispatchMetrics) RecordWebhookFailure(destination string) {
	if m == nil {
		return
	}
	m.webhookFailures.WithLabelValues(labelOrUnknown(destination)).Inc()
}

func labelEnvironment(environment string) string {
	trimmed := strings.ToLower(strings.TrimSpace(environment))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
