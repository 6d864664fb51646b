package configmirror

import "time"

// UserAssertion controls whether a route requires a verified client token.
type UserAssertion string

const (
	AssertionRequired  UserAssertion = "required"
	AssertionOptional  UserAssertion = "optional"
	AssertionForbidden UserAssertion = "forbidden"
)

// RouteRule is one entry of a ServiceConfig's policy.rules list.
type RouteRule struct {
	Method        string        `json:"method"`
	Path          string        `json:"path"`
	Public        bool          `json:"public"`
	UserAssertion UserAssertion `json:"userAssertion"`
	OpID          string        `json:"opId,omitempty"`
}

// BreakerOverride is the per-service breaker tuning in ServiceConfig.overrides.
type BreakerOverride struct {
	FailureThreshold int `json:"failureThreshold,omitempty"`
	HalfOpenAfterMs  int `json:"halfOpenAfterMs,omitempty"`
	MinRttMs         int `json:"minRttMs,omitempty"`
}

// Overrides carries the optional per-service tuning knobs that win over
// the gateway-wide defaults. Merge semantics start from a copy of the
// base, and replace a sub-struct only when the override supplies a
// non-zero value for it.
type Overrides struct {
	TimeoutMs    int              `json:"timeoutMs,omitempty"`
	Breaker      *BreakerOverride `json:"breaker,omitempty"`
	RouteAliases map[string]string `json:"routeAliases,omitempty"`
}

// Policy wraps the ordered list of route rules for a service.
type Policy struct {
	Rules []RouteRule `json:"rules"`
}

// ServiceConfig is one record of the service registry, keyed by (slug,version).
type ServiceConfig struct {
	Slug              string    `json:"slug"`
	Version           int       `json:"version"`
	Enabled           bool      `json:"enabled"`
	AllowProxy        bool      `json:"allowProxy"`
	BaseURL           string    `json:"baseUrl"`
	OutboundAPIPrefix string    `json:"outboundApiPrefix"`
	HealthPath        string    `json:"healthPath"`
	ExposeHealth      bool      `json:"exposeHealth"`
	Policy            Policy    `json:"policy"`
	Overrides         Overrides `json:"overrides"`
}

// Normalize lowercases the slug, strips a trailing slash from BaseURL, and
// fills the documented per-record defaults.
func (s *ServiceConfig) Normalize() {
	s.Slug = lowerASCII(s.Slug)
	for len(s.BaseURL) > 0 && s.BaseURL[len(s.BaseURL)-1] == '/' {
		s.BaseURL = s.BaseURL[:len(s.BaseURL)-1]
	}
	if s.OutboundAPIPrefix == "" {
		s.OutboundAPIPrefix = "/api"
	}
	if s.HealthPath == "" {
		s.HealthPath = "/health"
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// MirrorSnapshot is the immutable, atomically-swapped replica of the
// registry. Once published it is never mutated in place.
type MirrorSnapshot struct {
	Version   string                   `json:"version"`
	UpdatedAt int64                    `json:"updatedAt"` // epoch-ms
	Services  map[string]ServiceConfig `json:"services"`
	ETag      string                   `json:"etag"`
}

// key builds the internal services map key for a (slug,version) pair.
func key(slug string, version int) string {
	return lowerASCII(slug) + "@" + itoa(version)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Lookup returns the ServiceConfig for (slug,version), or ok=false if absent.
func (m *MirrorSnapshot) Lookup(slug string, version int) (ServiceConfig, bool) {
	if m == nil || m.Services == nil {
		return ServiceConfig{}, false
	}
	sc, ok := m.Services[key(slug, version)]
	return sc, ok
}

// LookupAnyVersion resolves a slug without pinning a version, used by the
// health passthrough proxy ("GET /:slug/health/:kind" is not
// itself versioned). Prefers an enabled record when more than one version
// of the slug is registered.
func (m *MirrorSnapshot) LookupAnyVersion(slug string) (ServiceConfig, bool) {
	if m == nil || m.Services == nil {
		return ServiceConfig{}, false
	}
	slug = lowerASCII(slug)
	var fallback ServiceConfig
	found := false
	for _, sc := range m.Services {
		if sc.Slug != slug {
			continue
		}
		if sc.Enabled {
			return sc, true
		}
		if !found {
			fallback, found = sc, true
		}
	}
	return fallback, found
}

// registryPayload is the wire shape returned by the registry refresh
// endpoint: { version, updatedAt, services: { slug: ServiceConfig } }.
// The registry keys by bare slug; a service's declared Version field
// disambiguates when multiple versions share a slug namespace, which this
// mirror re-keys internally as slug@version.
type registryPayload struct {
	Version   string                   `json:"version"`
	UpdatedAt int64                    `json:"updatedAt"`
	Services  map[string]ServiceConfig `json:"services"`
}

func (p *registryPayload) toSnapshot(etag string) *MirrorSnapshot {
	services := make(map[string]ServiceConfig, len(p.Services))
	for slug, sc := range p.Services {
		sc.Slug = slug
		sc.Normalize()
		services[key(sc.Slug, sc.Version)] = sc
	}
	return &MirrorSnapshot{
		Version:   p.Version,
		UpdatedAt: p.UpdatedAt,
		Services:  services,
		ETag:      etag,
	}
}

// Readiness is the shape returned by Mirror.Readiness().
type Readiness struct {
	OK       bool     `json:"ok"`
	Source   string   `json:"source"` // cache | lkg | empty
	Version  string   `json:"version"`
	AgeMs    int64    `json:"ageMs"`
	Services []string `json:"services"`
}

const (
	sourceCache = "cache"
	sourceLKG   = "lkg"
	sourceEmpty = "empty"
)

func ageMs(updatedAt int64, now time.Time) int64 {
	if updatedAt == 0 {
		return 0
	}
	return now.UnixMilli() - updatedAt
}
