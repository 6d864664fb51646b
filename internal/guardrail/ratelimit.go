package guardrail

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nv/edge-gateway/internal/problem"
)

// RateLimitConfig is a fixed-window {points, windowMs} limit.
type RateLimitConfig struct {
	Points   int
	WindowMs int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// GlobalRateLimiter is a fixed-window limiter keyed by (ip, method, path).
type GlobalRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     RateLimitConfig
	sec     SecurityEmitter
}

// SecurityEmitter is the minimal interface guardrails need from
// internal/seclog.Logger, kept local to avoid an import cycle.
type SecurityEmitter interface {
	Emit(eventType, requestID string, data map[string]any)
}

// NewGlobalRateLimiter constructs a limiter and starts cleanup() in a
// background goroutine: a bucket whose window has passed is reset on its
// next access, and the periodic sweep deletes idle expired buckets to
// bound memory under high key churn.
func NewGlobalRateLimiter(cfg RateLimitConfig, sec SecurityEmitter) *GlobalRateLimiter {
	if cfg.WindowMs < 250 {
		cfg.WindowMs = 250
	}
	if cfg.Points < 1 {
		cfg.Points = 1
	}
	g := &GlobalRateLimiter{buckets: make(map[string]*bucket), cfg: cfg, sec: sec}
	go g.cleanup()
	return g
}

func (g *GlobalRateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		g.mu.Lock()
		for k, b := range g.buckets {
			if now.After(b.resetAt.Add(2 * time.Minute)) {
				delete(g.buckets, k)
			}
		}
		g.mu.Unlock()
	}
}

// allow reports whether the call is within budget and, if not, the number
// of seconds until the window resets (for Retry-After).
func (g *GlobalRateLimiter) allow(key string) (ok bool, retryAfterSec int) {
	now := time.Now()
	window := time.Duration(g.cfg.WindowMs) * time.Millisecond

	g.mu.Lock()
	defer g.mu.Unlock()

	b, exists := g.buckets[key]
	if !exists || now.After(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(window)}
		g.buckets[key] = b
	}
	if b.count >= g.cfg.Points {
		retry := int(time.Until(b.resetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}
	b.count++
	return true, 0
}

// Middleware enforces the per-(ip,method,path) fixed window. Fail-open is
// structural here: any internal error would have to come from allow()
// itself, which cannot fail — there is no external call on this path.
func (g *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r) + "|" + r.Method + "|" + r.URL.Path
		ok, retryAfter := g.allow(key)
		if !ok {
			if g.sec != nil {
				g.sec.Emit("rate_limit/global_backstop_exceeded", RequestID(r), map[string]any{
					"ip": clientIP(r), "method": r.Method, "path": r.URL.Path,
				})
			}
			problem.TooManyRequests(w, "rate limit exceeded", RequestID(r), retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
