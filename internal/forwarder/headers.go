package forwarder

import (
	"net/http"
	"net/url"
	"strings"
)

// hopByHop is the RFC 7230 hop-by-hop header set, plus "host" (an
// upstream proxy must not forward the inbound Host header verbatim).
// Grounded on other_examples/c750f9c1_go-core-stack-mcp-auth-proxy's
// proxy.go hopHeaders map, which is missing "host"; added here.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
}

// copyHeaders copies src into dst, skipping hop-by-hop headers and the
// client's own Authorization — the client's bearer never reaches the
// upstream; only the minted S2S bearer does.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		lk := strings.ToLower(k)
		if _, skip := hopByHop[lk]; skip {
			continue
		}
		if lk == "authorization" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// stripUpstreamHopByHop removes hop-by-hop headers from an upstream
// response before mirroring it to the client.
func stripUpstreamHopByHop(h http.Header) {
	for k := range h {
		if _, skip := hopByHop[strings.ToLower(k)]; skip {
			h.Del(k)
		}
	}
}

// singleJoiningURL safely joins baseURL + outboundApiPrefix + "/" +
// restPath without producing a double slash, preserving the query string
// verbatim. Grounded on
// other_examples/c750f9c1_go-core-stack-mcp-auth-proxy's singleJoiningURL,
// which resolves a request path against a base URL via ResolveReference.
func singleJoiningURL(baseURL, outboundPrefix, restPath, rawQuery string) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	joined := strings.TrimSuffix(outboundPrefix, "/") + "/" + strings.TrimPrefix(restPath, "/")
	for strings.Contains(joined, "//") {
		joined = strings.ReplaceAll(joined, "//", "/")
	}

	ref := &url.URL{Path: joined, RawQuery: rawQuery}
	return base.ResolveReference(ref), nil
}

// appendForwardedFor appends the client IP to any existing
// X-Forwarded-For chain, per the Open Question decision recorded in
// DESIGN.md (append, don't sanitize).
func appendForwardedFor(h http.Header, clientIP string) {
	if clientIP == "" {
		return
	}
	if existing := h.Get("X-Forwarded-For"); existing != "" {
		h.Set("X-Forwarded-For", existing+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
}
