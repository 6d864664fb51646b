package auditwal

import (
	"net/http"
	"time"

	"github.com/nv/edge-gateway/internal/forwarder"
	"github.com/nv/edge-gateway/internal/guardrail"
)

// safeHeaderAllowlist lists the request headers mirrored into an
// AuditEvent's SafeHeaders; Authorization is never included — headers
// are stripped before persistence.
var safeHeaderAllowlist = []string{"user-agent", "content-type", "x-nv-api-version", "accept"}

// Middleware enqueues a begin event before calling next and an end event
// after: audit-begin -> route-policy -> forwarder -> audit-end. Mounted
// on the /api/:slug.V<d>/* subtree only, after the client auth gate.
func (w *WAL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requestID := guardrail.RequestID(r)
		service := r.URL.Path
		if route, err := forwarder.ParseRoute(r.URL.Path); err == nil {
			service = route.Slug
		}

		w.Enqueue(AuditEvent{
			RequestID:   requestID,
			Phase:       PhaseBegin,
			Service:     service,
			TimeMs:      time.Now().UnixMilli(),
			Method:      r.Method,
			URL:         r.URL.String(),
			IP:          clientIP(r),
			SafeHeaders: safeHeaders(r.Header),
		})

		rec := guardrail.Recorder(rw)
		next.ServeHTTP(rec, r)

		status := rec.Status()
		w.Enqueue(AuditEvent{
			RequestID: requestID,
			Phase:     PhaseEnd,
			Service:   service,
			TimeMs:    time.Now().UnixMilli(),
			Method:    r.Method,
			URL:       r.URL.String(),
			Status:    &status,
		})
	})
}

func safeHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(safeHeaderAllowlist))
	for _, k := range safeHeaderAllowlist {
		if v := h.Values(k); len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		return host[:idx]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
