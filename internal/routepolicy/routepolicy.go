// Package routepolicy enforces the per-route userAssertion rule:
// post-auth, pre-forward, it matches the request against the service's
// configured RouteRule list and requires/allows/forbids a verified
// client principal accordingly.
package routepolicy

import (
	"net/http"
	"strings"

	"github.com/nv/edge-gateway/internal/configmirror"
	"github.com/nv/edge-gateway/internal/forwarder"
	"github.com/nv/edge-gateway/internal/guardrail"
	"github.com/nv/edge-gateway/internal/problem"
)

// PolicyResolver is the subset of *configmirror.Mirror needed to look up a
// service's Policy by slug/version.
type PolicyResolver interface {
	Lookup(slug string, version int) (configmirror.ServiceConfig, bool)
}

// Enforcer applies RouteRule.UserAssertion ahead of the forwarder.
type Enforcer struct {
	resolver PolicyResolver
}

// New constructs an Enforcer.
func New(resolver PolicyResolver) *Enforcer {
	return &Enforcer{resolver: resolver}
}

// healthPrefixes bypass policy entirely.
var healthPrefixes = []string{"/health", "/healthz", "/readyz"}

// Middleware wraps the forwarder's mount point. It is mounted on the same
// /api/:slug.V<d>/* subtree as the forwarder, after the client auth gate.
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := guardrail.RequestID(r)

		if isHealthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		route, err := forwarder.ParseRoute(r.URL.Path)
		if err != nil {
			problem.NotFound(w, err.Error(), requestID)
			return
		}

		sc, ok := e.resolver.Lookup(route.Slug, route.Version)
		if !ok {
			problem.NotFound(w, "Service '"+route.Slug+"' unavailable (unknown or disabled).", requestID)
			return
		}

		assertion := configmirror.AssertionRequired
		if rule, matched := sc.Policy.MatchRule(r.Method, route.RestPath); matched {
			assertion = rule.UserAssertion
		}

		_, present := guardrail.ClientPrincipal(r)

		switch assertion {
		case configmirror.AssertionRequired:
			if !present {
				problem.Unauthorized(w, "this route requires a verified client token", requestID)
				return
			}
		case configmirror.AssertionForbidden:
			if present {
				problem.Forbidden(w, "this route does not accept a client token", requestID)
				return
			}
		case configmirror.AssertionOptional:
			// Already verified-if-present by the client auth gate upstream;
			// nothing further to enforce here.
		}

		next.ServeHTTP(w, r)
	})
}

func isHealthPath(path string) bool {
	for _, p := range healthPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
