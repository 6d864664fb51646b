package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/nv/edge-gateway/internal/auditwal"
	"github.com/nv/edge-gateway/internal/guardrail"
	dto "github.com/prometheus/client_model/go"
)

type nopDispatcher struct{}

func (nopDispatcher) Send(ctx context.Context, batch []auditwal.AuditEvent) error { return nil }

func TestRegistry_GuardrailDenialsIncrement(t *testing.T) {
	r := New()
	r.GuardrailDenials.WithLabelValues("rate_limit", "global").Inc()

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "edge_gateway_guardrail_denials_total") {
		t.Fatalf("expected guardrail_denials_total to be registered")
	}
}

func TestSample_PopulatesBreakerAndWALGauges(t *testing.T) {
	r := New()
	b := guardrail.NewBreaker(func(segment string) guardrail.BreakerConfig {
		return guardrail.BreakerConfig{FailureThreshold: 1, HalfOpenAfterMs: 10_000}
	})
	b.Allow("acts")
	b.RecordResult("acts", false)

	dir := t.TempDir()
	wal := auditwal.New(auditwal.Config{Dir: dir, BatchSize: 100, FlushInterval: time.Hour}, nopDispatcher{}, nil)
	if err := wal.Start(context.Background()); err != nil {
		t.Fatalf("wal start: %v", err)
	}
	defer wal.Shutdown()
	wal.Enqueue(auditwal.AuditEvent{RequestID: "r1", Phase: auditwal.PhaseBegin})

	Sample(r, b, wal)

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "edge_gateway_circuit_breaker_state") {
		t.Fatalf("expected circuit_breaker_state to be registered")
	}
	if !hasMetric(families, "edge_gateway_audit_wal_ring_depth") {
		t.Fatalf("expected audit_wal_ring_depth to be registered")
	}
}

func hasMetric(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}
