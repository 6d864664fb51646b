// Package guardrail implements the ordered chain of request-path
// guardrails: https-enforce, request-id, rate-limit (global + sensitive),
// timeout, circuit breaker, and the client-auth gate. Each guardrail is a
// net/http middleware constructor, composed in internal/gateway in the
// order that keeps cheap rejections outside the expensive ones.
package guardrail

import (
	"sync"
	"time"
)

// BreakerState is the externally-visible state of a segment's breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a single segment's breaker. Per-service overrides
// (configmirror.ServiceConfig.Overrides.Breaker) are resolved by the
// caller before Allow/RecordResult are invoked.
type BreakerConfig struct {
	FailureThreshold int
	HalfOpenAfterMs  int
	MinRttMs         int
}

// segmentBreaker is the per-first-path-segment state machine: closed,
// open, half-open, tracked by consecutive-failure counting and scoped to
// arbitrary path segments rather than a fixed service list.
type segmentBreaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker is a registry of per-segment breakers, created lazily on first
// use.
type Breaker struct {
	mu       sync.Mutex
	segments map[string]*segmentBreaker
	cfg      func(segment string) BreakerConfig
}

// NewBreaker constructs a breaker registry. cfgFn resolves the effective
// (possibly per-service-overridden) config for a given path segment at
// call time, so overrides take effect without re-registering breakers.
func NewBreaker(cfgFn func(segment string) BreakerConfig) *Breaker {
	return &Breaker{segments: make(map[string]*segmentBreaker), cfg: cfgFn}
}

func (b *Breaker) get(segment string) *segmentBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.segments[segment]
	if !ok {
		sb = &segmentBreaker{}
		b.segments[segment] = sb
	}
	return sb
}

// Allow reports whether a request to segment may proceed, transitioning
// OPEN → HALF_OPEN if halfOpenAfterMs has elapsed.
func (b *Breaker) Allow(segment string) bool {
	cfg := b.cfg(segment)
	sb := b.get(segment)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	switch sb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(sb.openedAt) >= time.Duration(cfg.HalfOpenAfterMs)*time.Millisecond {
			sb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordResult updates the segment's counters after a response. success is
// upstreamStatus < 500; a status ≥ 500 counts as a failure.
func (b *Breaker) RecordResult(segment string, success bool) {
	cfg := b.cfg(segment)
	sb := b.get(segment)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if success {
		sb.consecutiveFailures = 0
		sb.state = StateClosed
		return
	}

	sb.consecutiveFailures++
	switch sb.state {
	case StateHalfOpen:
		sb.state = StateOpen
		sb.openedAt = time.Now()
	case StateClosed:
		if sb.consecutiveFailures >= cfg.FailureThreshold {
			sb.state = StateOpen
			sb.openedAt = time.Now()
		}
	}
}

// Stats is a diagnostic snapshot of one segment, for /admin/breakers.
type Stats struct {
	Segment             string       `json:"segment"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
}

// AllStats returns a snapshot of every segment seen so far.
func (b *Breaker) AllStats() []Stats {
	b.mu.Lock()
	segments := make(map[string]*segmentBreaker, len(b.segments))
	for k, v := range b.segments {
		segments[k] = v
	}
	b.mu.Unlock()

	out := make([]Stats, 0, len(segments))
	for seg, sb := range segments {
		sb.mu.Lock()
		out = append(out, Stats{Segment: seg, State: sb.state, ConsecutiveFailures: sb.consecutiveFailures})
		sb.mu.Unlock()
	}
	return out
}
