package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nv/edge-gateway/internal/configmirror"
)

type stubResolver struct {
	services map[string]configmirror.ServiceConfig
}

func (s stubResolver) Lookup(slug string, version int) (configmirror.ServiceConfig, bool) {
	sc, ok := s.services[slug]
	if !ok || sc.Version != version {
		return configmirror.ServiceConfig{}, false
	}
	return sc, true
}

type stubMinter struct{}

func (stubMinter) Mint(ctx context.Context, callerSlug string, ttlSec int) (string, error) {
	return "stub-token", nil
}

func TestForwarder_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stub-token" {
			t.Errorf("expected S2S bearer, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("x-forwarded-host") == "" {
			t.Errorf("expected x-forwarded-host to be set")
		}
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {
			Slug: "acts", Version: 1, Enabled: true, AllowProxy: true,
			BaseURL: upstream.URL, OutboundAPIPrefix: "/api",
		},
	}}
	fw := New(resolver, stubMinter{}, 2*time.Second, "gateway")

	req := httptest.NewRequest(http.MethodGet, "/api/acts.V1/acts/42", nil)
	req.Header.Set("x-request-id", "req-1")
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestForwarder_MalformedRoute404(t *testing.T) {
	fw := New(stubResolver{}, stubMinter{}, time.Second, "gateway")
	req := httptest.NewRequest(http.MethodGet, "/api/noversion", nil)
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed route, got %d", rec.Code)
	}
}

func TestForwarder_UnknownServiceDisabled404(t *testing.T) {
	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {Slug: "acts", Version: 1, Enabled: false, AllowProxy: true, BaseURL: "http://example.com"},
	}}
	fw := New(resolver, stubMinter{}, time.Second, "gateway")
	req := httptest.NewRequest(http.MethodGet, "/api/acts.V1/x", nil)
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for disabled service, got %d", rec.Code)
	}
}

func TestForwarder_UpstreamTimeout504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {
			Slug: "acts", Version: 1, Enabled: true, AllowProxy: true,
			BaseURL: upstream.URL, OutboundAPIPrefix: "/api",
			Overrides: configmirror.Overrides{TimeoutMs: 10},
		},
	}}
	fw := New(resolver, stubMinter{}, 5*time.Second, "gateway")

	req := httptest.NewRequest(http.MethodGet, "/api/acts.V1/x", nil)
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on downstream timeout, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestForwarder_UpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"invalid act id"}`))
	}))
	defer upstream.Close()

	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {
			Slug: "acts", Version: 1, Enabled: true, AllowProxy: true,
			BaseURL: upstream.URL, OutboundAPIPrefix: "/api",
		},
	}}
	fw := New(resolver, stubMinter{}, time.Second, "gateway")

	req := httptest.NewRequest(http.MethodGet, "/api/acts.V1/x", nil)
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 passthrough, got %d", rec.Code)
	}
}
