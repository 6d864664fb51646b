package gateway

import "net/http"

// corsAllowedHeaders must include x-nv-api-version and x-nv-user-assertion
// , on top of the usual request headers.
var corsAllowedHeaders = "Authorization, Content-Type, x-request-id, x-nv-api-version, x-nv-user-assertion"

// cors is grounded on internal/api/server.go's CORS middleware, generalized
// from a hardcoded "*"/"Content-Type" pair to the headers SPEC_FULL.md's
// versioned/asserted routes need, and extended to short-circuit preflight.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		w.Header().Set("Access-Control-Expose-Headers", "x-request-id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
