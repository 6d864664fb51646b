package guardrail

import "net/http"

// HTTPSOnly permanent-redirects (308) any non-HTTPS request when enabled,
// honoring x-forwarded-proto the way a process behind a TLS-terminating
// load balancer must — TLS termination itself happens upstream of this
// process, not here.
func HTTPSOnly(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHTTPS(r) {
				next.ServeHTTP(w, r)
				return
			}
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
		})
	}
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("x-forwarded-proto") == "https"
}
