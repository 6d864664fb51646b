package guardrail

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nv/edge-gateway/internal/problem"
	"github.com/redis/go-redis/v9"
)

// CounterStore is the external atomic-counter contract the sensitive
// limiter needs: INCR + EXPIRE on first increment. Satisfied by
// RedisCounterStore; a limiter built with a nil store fails open.
type CounterStore interface {
	// Incr increments key and returns the post-increment count. If this is
	// the first increment (count==1), the caller should have set a TTL of
	// window; RedisCounterStore does this atomically with the increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounterStore implements CounterStore against Redis, following a
// go-redis/v9 client wrapper with a connect-or-report-error-to-caller
// pattern so the caller can decide whether to fall back.
type RedisCounterStore struct {
	rdb *redis.Client
}

// NewRedisCounterStore connects to addr and verifies connectivity with a
// PING. On error, cmd/gateway builds the sensitive limiter with a nil
// store, so it fails open.
func NewRedisCounterStore(addr, password string, db int) (*RedisCounterStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCounterStore{rdb: rdb}, nil
}

// Incr implements a Redis-style INCR+EXPIRE: an INCR followed by an
// EXPIRE that only takes effect on the very first increment of the
// window, run as one Lua script so both happen atomically.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	const incrExpire = `local n = redis.call("INCR", KEYS[1])
if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end
return n`
	return s.rdb.Eval(ctx, incrExpire, []string{key}, window.Milliseconds()).Int64()
}

func (s *RedisCounterStore) Close() error { return s.rdb.Close() }

// SensitiveLimiter is a per-ip limiter scoped to a configured set of
// sensitive path prefixes, tighter than the global rate limit.
type SensitiveLimiter struct {
	cfg      RateLimitConfig
	prefixes []string
	store    CounterStore
	sec      SecurityEmitter
}

// NewSensitiveLimiter constructs the limiter. store may be nil, in which
// case the limiter always fail-opens (treated identically to a store
// error at request time).
func NewSensitiveLimiter(cfg RateLimitConfig, prefixes []string, store CounterStore, sec SecurityEmitter) *SensitiveLimiter {
	return &SensitiveLimiter{cfg: cfg, prefixes: prefixes, store: store, sec: sec}
}

func (s *SensitiveLimiter) matches(path string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware fail-opens whenever the counter store errors.
func (s *SensitiveLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || !s.matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := "sensitive:" + clientIP(r)
		window := time.Duration(s.cfg.WindowMs) * time.Millisecond
		count, err := s.store.Incr(r.Context(), key, window)
		if err != nil {
			next.ServeHTTP(w, r) // fail-open
			return
		}
		if int(count) > s.cfg.Points {
			if s.sec != nil {
				s.sec.Emit("rate_limit/sensitive_path_exceeded", RequestID(r), map[string]any{
					"ip": clientIP(r), "path": r.URL.Path,
				})
			}
			problem.TooManyRequests(w, "sensitive path rate limit exceeded", RequestID(r), s.cfg.WindowMs/1000)
			return
		}
		next.ServeHTTP(w, r)
	})
}
