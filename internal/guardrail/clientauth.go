package guardrail

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nv/edge-gateway/internal/problem"
)

// ClientClaims is the verified client token's claim set.
type ClientClaims struct {
	jwt.RegisteredClaims
}

type principalKey int

const clientPrincipalKey principalKey = iota

// ClientPrincipal retrieves the verified claims injected by ClientAuthGate,
// if a token was present and verified for this request.
func ClientPrincipal(r *http.Request) (*ClientClaims, bool) {
	v, ok := r.Context().Value(clientPrincipalKey).(*ClientClaims)
	return v, ok
}

// WithClientPrincipal injects claims the way ClientAuthGate does, exported
// for downstream packages (e.g. routepolicy) to exercise in tests
// without standing up a full gate + JWKS server.
func WithClientPrincipal(ctx context.Context, claims *ClientClaims) context.Context {
	return context.WithValue(ctx, clientPrincipalKey, claims)
}

// ClientAuthConfig mirrors internal/gwconfig.ClientAuthConfig, copied in
// rather than imported to keep this package free of a gwconfig dependency.
type ClientAuthConfig struct {
	Issuers            []string
	Audience           string
	ClockSkew          time.Duration
	Bypass             bool
	ReadOnly           bool
	PublicPrefixes     []string
	ProtectedGetPrefix []string
	ExemptMutatePaths  []string
}

// ClientAuthGate enforces client authentication: public-prefix and
// protected-GET-prefix lists control whether a route needs a client
// token; GETs are public unless explicitly protected, non-GETs require
// auth unless under a public prefix. Verification is via remote JWKS
// (ES256), grounded on Mindburn-Labs-helm/core/pkg/auth/middleware.go's
// Bearer-extraction + jwt.ParseWithClaims + context-principal-injection
// flow, generalized from ed25519/HelmClaims to ES256/ClientClaims.
type ClientAuthGate struct {
	cfg   ClientAuthConfig
	jwks  *JWKSClient
	sec   SecurityEmitter
}

// NewClientAuthGate constructs the gate. jwks may be nil only if
// cfg.Bypass is true.
func NewClientAuthGate(cfg ClientAuthConfig, jwks *JWKSClient, sec SecurityEmitter) *ClientAuthGate {
	return &ClientAuthGate{cfg: cfg, jwks: jwks, sec: sec}
}

func (g *ClientAuthGate) hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// requiresAuth applies the GET-is-public-unless-protected /
// non-GET-requires-auth-unless-public-prefix rule.
func (g *ClientAuthGate) requiresAuth(method, path string) bool {
	if g.hasPrefix(path, g.cfg.PublicPrefixes) {
		return false
	}
	if method == http.MethodGet {
		return g.hasPrefix(path, g.cfg.ProtectedGetPrefix)
	}
	return true
}

func issuerAllowed(allowlist []string, v string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, a := range allowlist {
		if a == v {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Middleware enforces the gate. Configuration errors (e.g. JWKS
// unreachable when a token must be verified) return 503, never 500 —
// an auth-infrastructure outage is not the caller's fault.
func (g *ClientAuthGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.ReadOnly && isMutating(r.Method) && !g.hasPrefix(r.URL.Path, g.cfg.ExemptMutatePaths) {
			problem.Forbidden(w, "gateway is in read-only mode", RequestID(r))
			return
		}

		if g.cfg.Bypass {
			next.ServeHTTP(w, withSyntheticPrincipal(r))
			return
		}

		needsAuth := g.requiresAuth(r.Method, r.URL.Path)
		claims, present, err := g.verify(r)

		if err != nil {
			problem.ServiceUnavailable(w, "client auth is misconfigured", RequestID(r))
			return
		}

		if !present {
			if needsAuth {
				problem.Unauthorized(w, "missing bearer token", RequestID(r))
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if claims == nil {
			problem.Unauthorized(w, "invalid bearer token", RequestID(r))
			return
		}

		ctx := context.WithValue(r.Context(), clientPrincipalKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify extracts and validates the bearer token if present. The three
// return states are: (claims, true, nil) verified; (nil, false, nil) no
// token supplied; (nil, true, nil) token supplied but invalid; (nil,
// false, err) JWKS itself is unreachable (a config error, not an auth
// failure — mapped to 503 by the caller).
func (g *ClientAuthGate) verify(r *http.Request) (*ClientClaims, bool, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return nil, false, nil
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, true, nil
	}
	tokenStr := parts[1]

	var claims ClientClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return g.jwks.Lookup(kid)
	},
		jwt.WithValidMethods([]string{"ES256"}),
		jwt.WithAudience(g.cfg.Audience),
		jwt.WithLeeway(g.cfg.ClockSkew),
	)
	if err != nil {
		if _, jwksErr := g.jwks.Raw(); jwksErr != nil {
			return nil, false, jwksErr
		}
		return nil, true, nil
	}
	if !token.Valid || !issuerAllowed(g.cfg.Issuers, claims.Issuer) {
		return nil, true, nil
	}
	return &claims, true, nil
}

// withSyntheticPrincipal injects a fixed bypass identity, used when
// ClientAuthConfig.Bypass short-circuits verification entirely (e.g. local
// development or a trusted internal caller path).
func withSyntheticPrincipal(r *http.Request) *http.Request {
	synthetic := &ClientClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bypass"}}
	ctx := context.WithValue(r.Context(), clientPrincipalKey, synthetic)
	return r.WithContext(ctx)
}
