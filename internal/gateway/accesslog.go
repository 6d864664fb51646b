package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nv/edge-gateway/internal/guardrail"
)

// httpLogger is the access-log middleware, mounted right after requestId so
// every subsequent guardrail decision is correlated by the same
// x-request-id. Grounded on the ambient log/slog stack used throughout
// internal/guardrail and internal/auditwal, rather than a bespoke logger.
func httpLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "access-log")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := guardrail.Recorder(w)
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"requestId", guardrail.RequestID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.Status(),
				"durationMs", time.Since(start).Milliseconds(),
			)
		})
	}
}
