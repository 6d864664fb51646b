// Package metrics is a Prometheus admin surface exposing breaker state and
// WAL ring depth (sampled by RunSampler); its guardrail denial, breaker
// failure, upstream request and cursor lag series are registered but not
// updated by the gateway. Grounded on
// other_examples/f2ad1af0_3xpluto-go-api-gateway's main.go
// (prometheus.NewRegistry + promhttp.HandlerFor + a per-guardrail
// instrumentation struct), built on github.com/prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every counter/gauge the gateway exports.
type Registry struct {
	reg *prometheus.Registry

	GuardrailDenials   *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BreakerFailures    *prometheus.CounterVec
	WALRingDepth       prometheus.Gauge
	WALCursorLagEvents prometheus.Gauge
	WALDispatchAttempt prometheus.Gauge
	UpstreamRequests   *prometheus.CounterVec
}

// New constructs and registers every metric against a fresh registry,
// built at boot and handed to promhttp.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		GuardrailDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge_gateway",
			Name:      "guardrail_denials_total",
			Help:      "Requests denied by a guardrail, by guardrail name and reason.",
		}, []string{"guardrail", "reason"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edge_gateway",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per segment (0=closed,1=half_open,2=open).",
		}, []string{"segment"}),
		BreakerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge_gateway",
			Name:      "circuit_breaker_failures_total",
			Help:      "Upstream failures observed by the circuit breaker per segment.",
		}, []string{"segment"}),
		WALRingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge_gateway",
			Name:      "audit_wal_ring_depth",
			Help:      "Number of audit events currently buffered in the in-memory ring.",
		}),
		WALCursorLagEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge_gateway",
			Name:      "audit_wal_cursor_lag_events",
			Help:      "Estimated number of enqueued events not yet acked by the sink.",
		}),
		WALDispatchAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge_gateway",
			Name:      "audit_wal_dispatch_attempt",
			Help:      "Current consecutive retry attempt count of the WAL dispatcher (0 when healthy).",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge_gateway",
			Name:      "upstream_requests_total",
			Help:      "Forwarded requests by upstream slug and outcome.",
		}, []string{"slug", "outcome"}),
	}

	reg.MustRegister(
		r.GuardrailDenials,
		r.BreakerState,
		r.BreakerFailures,
		r.WALRingDepth,
		r.WALCursorLagEvents,
		r.WALDispatchAttempt,
		r.UpstreamRequests,
	)
	return r
}

// Gatherer exposes the underlying registry to promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

const (
	BreakerStateClosed   = 0
	BreakerStateHalfOpen = 1
	BreakerStateOpen     = 2
)
