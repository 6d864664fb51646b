package metrics

import (
	"context"
	"time"

	"github.com/nv/edge-gateway/internal/auditwal"
	"github.com/nv/edge-gateway/internal/guardrail"
)

// Sample pulls a point-in-time reading from the breaker registry and WAL
// into the Prometheus gauges. GuardrailDenials, BreakerFailures,
// UpstreamRequests and WALCursorLagEvents are not set here, and no other
// gateway code updates them either.
func Sample(r *Registry, breaker *guardrail.Breaker, wal *auditwal.WAL) {
	if breaker != nil {
		for _, s := range breaker.AllStats() {
			r.BreakerState.WithLabelValues(s.Segment).Set(breakerStateValue(s.State))
		}
	}
	if wal != nil {
		snap := wal.Snapshot()
		r.WALRingDepth.Set(float64(snap.RingSize))
		r.WALDispatchAttempt.Set(float64(snap.Attempt))
	}
}

func breakerStateValue(s guardrail.BreakerState) float64 {
	switch s {
	case guardrail.StateOpen:
		return BreakerStateOpen
	case guardrail.StateHalfOpen:
		return BreakerStateHalfOpen
	default:
		return BreakerStateClosed
	}
}

// RunSampler samples on a fixed interval until ctx is cancelled, mirroring
// the background-task shape used by ConfigMirror's poll loop and the WAL's
// flush loop.
func RunSampler(ctx context.Context, r *Registry, breaker *guardrail.Breaker, wal *auditwal.WAL, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Sample(r, breaker, wal)
		}
	}
}
