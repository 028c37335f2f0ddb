package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	proofMetricsOnce sync.Once
	proofRegistry    *ProofMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkescrow",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkescrow",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkescrow",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkescrow",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "auth_failed" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EscrowMetrics wraps collectors tracking escrow lifecycle health.
type EscrowMetrics struct {
	transitions *prometheus.CounterVec
	lockedValue prometheus.Gauge
	settleTime  *prometheus.HistogramVec
}

// Escrow exposes the metrics registry for the escrow engine.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkescrow",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Count of escrow status transitions segmented by target status.",
			}, []string{"status"}),
			lockedValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkescrow",
				Subsystem: "escrow",
				Name:      "locked_value",
				Help:      "Total value currently locked across active escrows in base units.",
			}),
			settleTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkescrow",
				Subsystem: "escrow",
				Name:      "settle_duration_seconds",
				Help:      "Latency distribution for release and refund settlement.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.lockedValue,
			escrowRegistry.settleTime,
		)
	})
	return escrowRegistry
}

// RecordTransition increments the transition counter for the target status.
func (m *EscrowMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	if status = strings.TrimSpace(status); status == "" {
		status = "unknown"
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordLockedValue updates the locked value gauge.
func (m *EscrowMetrics) RecordLockedValue(total *big.Int) {
	if m == nil {
		return
	}
	m.lockedValue.Set(bigToFloat(total))
}

// ObserveSettle records the settlement latency for a release or refund.
func (m *EscrowMetrics) ObserveSettle(operation string, d time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	m.settleTime.WithLabelValues(op).Observe(d.Seconds())
}

// ProofMetrics bundles collectors for attestation generation and verification.
type ProofMetrics struct {
	generated     *prometheus.CounterVec
	verifications *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// Proofs returns the metrics registry for the proof service.
func Proofs() *ProofMetrics {
	proofMetricsOnce.Do(func() {
		proofRegistry = &ProofMetrics{
			generated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkescrow",
				Subsystem: "proof",
				Name:      "generated_total",
				Help:      "Count of attestation generations segmented by outcome.",
			}, []string{"outcome"}),
			verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkescrow",
				Subsystem: "proof",
				Name:      "verifications_total",
				Help:      "Count of attestation verifications segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkescrow",
				Subsystem: "proof",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for proof operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			proofRegistry.generated,
			proofRegistry.verifications,
			proofRegistry.latency,
		)
	})
	return proofRegistry
}

// RecordGenerate tracks one attestation generation.
func (m *ProofMetrics) RecordGenerate(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.generated.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues("generate").Observe(d.Seconds())
}

// RecordVerify tracks one attestation verification.
func (m *ProofMetrics) RecordVerify(valid bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.verifications.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues("verify").Observe(d.Seconds())
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
