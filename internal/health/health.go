// Package health implements unversioned liveness/readiness endpoints and
// the per-slug health passthrough proxy. Built on gorilla/mux route and
// handler shapes, generalized to a configuration-driven fan-out probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nv/edge-gateway/internal/configmirror"
)

// ServiceResolver is the subset of *configmirror.Mirror needed to resolve a
// slug's base URL and health path. Health checks are not version-scoped
// ("/:slug/health/:kind" carries no version segment).
type ServiceResolver interface {
	LookupAnyVersion(slug string) (configmirror.ServiceConfig, bool)
}

// Checker answers /health, /healthz, /readyz.
type Checker struct {
	resolver      ServiceResolver
	requiredSlugs []string
	probeTimeout  time.Duration
	client        *http.Client
}

// NewChecker constructs a Checker. requiredSlugs names the services whose
// /health/ready must all succeed for readiness to report ok — an
// operator-configured list of required upstream slugs, fanned out to
// each one's /health/ready.
func NewChecker(resolver ServiceResolver, requiredSlugs []string, probeTimeout time.Duration) *Checker {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Checker{
		resolver:      resolver,
		requiredSlugs: requiredSlugs,
		probeTimeout:  probeTimeout,
		client:        &http.Client{Timeout: probeTimeout},
	}
}

// LivenessHandler always reports ok; liveness never depends on upstream
// state.
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type probeResult struct {
	Slug string `json:"slug"`
	OK   bool   `json:"ok"`
}

// ReadinessHandler fans out one probe per required slug, each bounded by
// probeTimeout, and reports ok iff every probe succeeds.
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := make([]probeResult, len(c.requiredSlugs))
	var wg sync.WaitGroup
	for i, slug := range c.requiredSlugs {
		wg.Add(1)
		go func(i int, slug string) {
			defer wg.Done()
			results[i] = probeResult{Slug: slug, OK: c.probeSlug(r.Context(), slug)}
		}(i, slug)
	}
	wg.Wait()

	allOK := true
	for _, res := range results {
		if !res.OK {
			allOK = false
			break
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": allOK, "services": results})
}

func (c *Checker) probeSlug(ctx context.Context, slug string) bool {
	sc, ok := c.resolver.LookupAnyVersion(slug)
	if !ok || !sc.Enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.BaseURL+sc.HealthPath+"/ready", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SlugHealthProxy implements "GET /:slug/health/:kind" (kind ∈
// {live,ready}): proxies to the resolved service's configured health
// endpoint, bypassing /api and the outbound API prefix, requiring neither
// auth nor audit. Mounted directly on the router, outside the guarded
// /api subtree.
func SlugHealthProxy(resolver ServiceResolver, client *http.Client) http.HandlerFunc {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		slug, kind := vars["slug"], vars["kind"]

		if kind != "live" && kind != "ready" {
			http.NotFound(w, r)
			return
		}

		sc, ok := resolver.LookupAnyVersion(slug)
		if !ok || !sc.Enabled || !sc.ExposeHealth {
			http.NotFound(w, r)
			return
		}

		target := sc.BaseURL + sc.HealthPath + "/" + kind
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
		if err != nil {
			http.Error(w, "bad upstream health target", http.StatusBadGateway)
			return
		}

		resp, err := client.Do(req)
		if err != nil {
			http.Error(w, "upstream health check unreachable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
			}
			if readErr != nil {
				break
			}
		}
	}
}
