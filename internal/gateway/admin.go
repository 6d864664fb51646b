package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/nv/edge-gateway/internal/auditwal"
	"github.com/nv/edge-gateway/internal/configmirror"
	"github.com/nv/edge-gateway/internal/guardrail"
)

// requireAdminKey gates /admin/* the way
// other_examples/f2ad1af0_3xpluto-go-api-gateway's RequireAdminKey does: a
// shared-secret header, compared directly since these are operator-only
// diagnostics, not a cryptographic boundary. An empty adminKey disables the
// endpoints entirely (returned as 404 rather than open, fail-closed).
func requireAdminKey(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" || r.Header.Get("x-gateway-admin-key") != adminKey {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAdminJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func adminMirrorHandler(mirror *configmirror.Mirror) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, mirror.Readiness())
	}
}

func adminWALHandler(wal *auditwal.WAL) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, wal.Snapshot())
	}
}

func adminBreakersHandler(breaker *guardrail.Breaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, breaker.AllStats())
	}
}
