package gateway

import (
	"net/http"

	"github.com/nv/edge-gateway/internal/guardrail"
	"github.com/nv/edge-gateway/internal/problem"
)

// jwksHandler serves the gateway's own /jwks and /.well-known/jwks.json.
// Per the decision recorded in DESIGN.md, this is a cached mirror of the
// client-JWKS URL configured for client-token verification — the gateway
// has no client-facing signing key of its own, so there is nothing else
// for this endpoint to serve.
func jwksHandler(client *guardrail.JWKSClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client == nil {
			problem.ServiceUnavailable(w, "client auth is bypassed; no JWKS configured", guardrail.RequestID(r))
			return
		}
		raw, err := client.Raw()
		if err != nil {
			problem.ServiceUnavailable(w, "upstream JWKS unreachable", guardrail.RequestID(r))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(raw)
	}
}
