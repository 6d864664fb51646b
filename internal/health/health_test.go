package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/nv/edge-gateway/internal/configmirror"
)

type stubResolver struct {
	services map[string]configmirror.ServiceConfig
}

func (s stubResolver) LookupAnyVersion(slug string) (configmirror.ServiceConfig, bool) {
	sc, ok := s.services[slug]
	return sc, ok
}

func TestLivenessHandler_AlwaysOK(t *testing.T) {
	c := NewChecker(stubResolver{}, nil, time.Second)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.LivenessHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadinessHandler_AllUpOK(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {Slug: "acts", Enabled: true, BaseURL: upstream.URL, HealthPath: "/health"},
	}}
	c := NewChecker(resolver, []string{"acts"}, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c.ReadinessHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReadinessHandler_OneDownFails(t *testing.T) {
	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {Slug: "acts", Enabled: true, BaseURL: "http://127.0.0.1:1", HealthPath: "/health"},
	}}
	c := NewChecker(resolver, []string{"acts"}, 200*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c.ReadinessHandler(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSlugHealthProxy_ProxiesToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/ready" {
			t.Errorf("expected /health/ready, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	resolver := stubResolver{services: map[string]configmirror.ServiceConfig{
		"acts": {Slug: "acts", Enabled: true, ExposeHealth: true, BaseURL: upstream.URL, HealthPath: "/health"},
	}}

	router := mux.NewRouter()
	router.HandleFunc("/{slug}/health/{kind}", SlugHealthProxy(resolver, nil)).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/acts/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSlugHealthProxy_InvalidKind404(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/{slug}/health/{kind}", SlugHealthProxy(stubResolver{}, nil)).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/acts/health/bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
