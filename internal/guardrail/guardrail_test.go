package guardrail

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalRateLimiter_BurstDeny(t *testing.T) {
	rl := NewGlobalRateLimiter(RateLimitConfig{Points: 3, WindowMs: 1000}, nil)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/act.v1/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/act.v1/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewBreaker(func(segment string) BreakerConfig {
		return BreakerConfig{FailureThreshold: 3, HalfOpenAfterMs: 50}
	})

	require.True(t, b.Allow("api"))
	for i := 0; i < 3; i++ {
		b.RecordResult("api", false)
	}
	assert.False(t, b.Allow("api"), "breaker should be open after 3 consecutive failures")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.Allow("api"), "breaker should allow a half-open probe after halfOpenAfterMs")

	b.RecordResult("api", true)
	assert.True(t, b.Allow("api"))
}

func TestCircuitBreakerMiddleware_FastFails503(t *testing.T) {
	b := NewBreaker(func(segment string) BreakerConfig {
		return BreakerConfig{FailureThreshold: 1, HalfOpenAfterMs: 10_000}
	})
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	handler := CircuitBreakerMiddleware(b, nil, nil)(upstream)

	req := httptest.NewRequest(http.MethodGet, "/api/act.v1/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code, "second request should fast-fail once breaker opens")
}

func TestCircuitBreakerMiddleware_KeyFuncIsolatesSegments(t *testing.T) {
	b := NewBreaker(func(segment string) BreakerConfig {
		return BreakerConfig{FailureThreshold: 1, HalfOpenAfterMs: 10_000}
	})
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	keyFunc := func(r *http.Request) string {
		if r.URL.Path == "/api/acts.V1/x" {
			return "acts"
		}
		return "widgets"
	}
	handler := CircuitBreakerMiddleware(b, keyFunc, nil)(upstream)

	actsReq := httptest.NewRequest(http.MethodGet, "/api/acts.V1/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, actsReq)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, actsReq)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code, "acts breaker should be open after its own failure")

	widgetsReq := httptest.NewRequest(http.MethodGet, "/api/widgets.V1/x", nil)
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, widgetsReq)
	assert.Equal(t, http.StatusInternalServerError, rec3.Code, "widgets should be unaffected by the acts breaker tripping")
}

func TestFirstSegment(t *testing.T) {
	assert.Equal(t, "api", FirstSegment("/api/act.v1/acts/42"))
	assert.Equal(t, "health", FirstSegment("/health"))
}

func TestHTTPSOnly_RedirectsPlainHTTP(t *testing.T) {
	handler := HTTPSOnly(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
}

func TestTimeout_FiresGatewaySLO(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	handler := Timeout(TimeoutConfig{GatewayMs: 20}, nil)(slow)

	req := httptest.NewRequest(http.MethodGet, "/api/act.v1/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
