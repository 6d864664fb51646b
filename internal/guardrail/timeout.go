package guardrail

import (
	"context"
	"net/http"
	"time"

	"github.com/nv/edge-gateway/internal/problem"
)

// TimeoutConfig carries the edge SLO timer.
type TimeoutConfig struct {
	GatewayMs int
}

// Timeout enforces the single request-scoped edge SLO timer: a
// context.WithTimeout derived from the request context is handed down
// the chain so the forwarder's own (shorter) downstream timeout fires
// first in the common case; if the gateway timer fires first, a 504
// problem+json is written (guarded by the exactly-once-write check) and
// a SECURITY event is emitted. The timer is implicitly cleared on normal
// completion via the deferred cancel.
func Timeout(cfg TimeoutConfig, sec SecurityEmitter) func(http.Handler) http.Handler {
	d := time.Duration(cfg.GatewayMs) * time.Millisecond
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			rec := Recorder(w)
			done := make(chan struct{})
			go func() {
				next.ServeHTTP(rec, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if !rec.HeadersSent() {
					if sec != nil {
						sec.Emit("timeout/gateway_slo_exceeded", RequestID(r), map[string]any{"path": r.URL.Path})
					}
					problem.GatewayTimeout(rec, "gateway SLO exceeded", RequestID(r))
				}
				<-done // let the handler goroutine observe cancellation and exit
			}
		})
	}
}
