package guardrail

import (
	"net/http"
	"strings"

	"github.com/nv/edge-gateway/internal/problem"
)

// FirstSegment extracts the first path segment, e.g. "/api/act.v1/acts/42"
// → "api". Kept as the breaker key's fallback for paths keyFunc can't
// parse into a service slug (mux's PathPrefix match leaves it on the
// request untouched, so it is always present); not used as the primary
// key, since every request under /api/ shares that one literal segment.
func FirstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// CircuitBreakerMiddleware fast-fails 503 while the request's breaker
// segment is open, and records the final response status against that
// breaker (failure = status ≥ 500) once the wrapped handler completes.
// keyFunc derives the per-upstream-service breaker key from the request —
// callers pass the forwarder's parsed route slug so each backend is
// isolated independently; FirstSegment is used when keyFunc is nil or
// returns an empty string.
func CircuitBreakerMiddleware(b *Breaker, keyFunc func(*http.Request) string, sec SecurityEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			segment := ""
			if keyFunc != nil {
				segment = keyFunc(r)
			}
			if segment == "" {
				segment = FirstSegment(r.URL.Path)
			}

			if !b.Allow(segment) {
				if sec != nil {
					sec.Emit("circuit_open", RequestID(r), map[string]any{"segment": segment})
				}
				problem.ServiceUnavailable(w, "upstream segment circuit is open", RequestID(r))
				return
			}

			rec := Recorder(w)
			next.ServeHTTP(rec, r)
			b.RecordResult(segment, rec.status < 500)
		})
	}
}
