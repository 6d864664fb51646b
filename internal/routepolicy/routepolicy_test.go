package routepolicy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nv/edge-gateway/internal/configmirror"
	"github.com/nv/edge-gateway/internal/guardrail"
)

type stubResolver struct {
	services map[string]configmirror.ServiceConfig
}

func (s stubResolver) Lookup(slug string, version int) (configmirror.ServiceConfig, bool) {
	sc, ok := s.services[slug]
	if !ok || sc.Version != version {
		return configmirror.ServiceConfig{}, false
	}
	return sc, ok
}

func withPrincipal(r *http.Request) *http.Request {
	claims := &guardrail.ClientClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	return r.WithContext(guardrail.WithClientPrincipal(r.Context(), claims))
}

func passHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestEnforcer_RequiredWithoutPrincipal401(t *testing.T) {
	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {
			Slug: "acts", Version: 1, Enabled: true, AllowProxy: true,
			Policy: configmirror.Policy{Rules: []configmirror.RouteRule{
				{Method: "GET", Path: "acts/:id", UserAssertion: configmirror.AssertionRequired},
			}},
		},
	}}
	e := New(resolver)
	req := httptest.NewRequest(http.MethodGet, "/api/acts.V1/acts/42", nil)
	rec := httptest.NewRecorder()
	e.Middleware(passHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEnforcer_ForbiddenWithPrincipal403(t *testing.T) {
	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {
			Slug: "acts", Version: 1, Enabled: true, AllowProxy: true,
			Policy: configmirror.Policy{Rules: []configmirror.RouteRule{
				{Method: "GET", Path: "acts/:id", UserAssertion: configmirror.AssertionForbidden},
			}},
		},
	}}
	e := New(resolver)
	req := httptest.NewRequest(http.MethodGet, "/api/acts.V1/acts/42", nil)
	req = withPrincipal(req)
	rec := httptest.NewRecorder()
	e.Middleware(passHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestEnforcer_HealthBypassesPolicy(t *testing.T) {
	e := New(stubResolver{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.Middleware(passHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health path to bypass policy, got %d", rec.Code)
	}
}

func TestEnforcer_UnknownServiceNotFound(t *testing.T) {
	e := New(stubResolver{})
	req := httptest.NewRequest(http.MethodGet, "/api/zzz.V1/x", nil)
	rec := httptest.NewRecorder()
	e.Middleware(passHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
