package configmirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubMinter struct{}

func (stubMinter) Mint(ctx context.Context, callerSlug string, ttlSec int) (string, error) {
	return "stub-token", nil
}

func TestMirror_RefreshAndLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v:1"`)
		json.NewEncoder(w).Encode(registryPayload{
			Version:   "1",
			UpdatedAt: time.Now().UnixMilli(),
			Services: map[string]ServiceConfig{
				"act": {
					Slug: "act", Version: 1, Enabled: true, AllowProxy: true,
					BaseURL: "http://act:4002",
				},
			},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := New(Config{
		RegistryBaseURL: srv.URL,
		InternalPath:    "/internal/registry",
		LKGPath:         filepath.Join(dir, "lkg.json"),
		PollInterval:    10 * time.Second,
		ServiceName:     "edge-gateway",
	}, stubMinter{})

	if err := m.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	sc, ok := m.Lookup("act", 1)
	if !ok {
		t.Fatal("expected act@1 to resolve")
	}
	if sc.BaseURL != "http://act:4002" {
		t.Errorf("baseUrl = %q", sc.BaseURL)
	}

	r := m.Readiness()
	if !r.OK || r.Source != sourceCache {
		t.Errorf("readiness = %+v", r)
	}

	if _, err := os.Stat(filepath.Join(dir, "lkg.json")); err != nil {
		t.Errorf("expected LKG file to be written: %v", err)
	}
}

func TestMirror_304DoesNotRefreshUpdatedAt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("ETag", `"v:1"`)
			json.NewEncoder(w).Encode(registryPayload{
				Version: "1", UpdatedAt: 1000,
				Services: map[string]ServiceConfig{"act": {Slug: "act", Version: 1}},
			})
			return
		}
		if r.Header.Get("If-None-Match") != `"v:1"` {
			t.Errorf("expected If-None-Match on second request")
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	m := New(Config{RegistryBaseURL: srv.URL, InternalPath: "/x", ServiceName: "edge-gateway"}, stubMinter{})
	if err := m.refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := m.Snapshot().UpdatedAt
	if err := m.refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := m.Snapshot().UpdatedAt
	if before != after {
		t.Errorf("304 must not change updatedAt: before=%d after=%d", before, after)
	}
}

func TestServiceConfig_Normalize(t *testing.T) {
	sc := ServiceConfig{Slug: "ACT", BaseURL: "http://act:4002/"}
	sc.Normalize()
	if sc.Slug != "act" {
		t.Errorf("slug = %q", sc.Slug)
	}
	if sc.BaseURL != "http://act:4002" {
		t.Errorf("baseUrl = %q", sc.BaseURL)
	}
	if sc.OutboundAPIPrefix != "/api" || sc.HealthPath != "/health" {
		t.Errorf("defaults not applied: %+v", sc)
	}
}

func TestPolicy_MatchRule(t *testing.T) {
	p := Policy{Rules: []RouteRule{
		{Method: "GET", Path: "/acts/:id", UserAssertion: AssertionOptional},
		{Method: "GET", Path: "/acts/mine", UserAssertion: AssertionRequired},
		{Method: "*", Path: "*", UserAssertion: AssertionRequired},
	}}

	rule, ok := p.MatchRule("GET", "/acts/mine")
	if !ok || rule.UserAssertion != AssertionRequired || rule.Path != "/acts/mine" {
		t.Errorf("expected exact match to win over :param, got %+v ok=%v", rule, ok)
	}

	rule, ok = p.MatchRule("GET", "/acts/42")
	if !ok || rule.Path != "/acts/:id" {
		t.Errorf("expected :param match, got %+v ok=%v", rule, ok)
	}

	rule, ok = p.MatchRule("POST", "/anything")
	if !ok || rule.Path != "*" {
		t.Errorf("expected wildcard fallback, got %+v ok=%v", rule, ok)
	}
}

func TestMirrorSnapshot_Diff(t *testing.T) {
	old := &MirrorSnapshot{Services: map[string]ServiceConfig{
		"act@1": {Slug: "act", Version: 1, BaseURL: "http://a"},
		"gone@1": {Slug: "gone", Version: 1},
	}}
	next := &MirrorSnapshot{Services: map[string]ServiceConfig{
		"act@1": {Slug: "act", Version: 1, BaseURL: "http://b"},
		"new@1":  {Slug: "new", Version: 1},
	}}

	d := next.Diff(old)
	if len(d.Added) != 1 || d.Added[0] != "new@1" {
		t.Errorf("added = %v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "gone@1" {
		t.Errorf("removed = %v", d.Removed)
	}
	if len(d.Changed) != 1 || d.Changed[0] != "act@1" {
		t.Errorf("changed = %v", d.Changed)
	}
}
