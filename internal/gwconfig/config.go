// Package gwconfig loads and resolves the gateway's boot configuration:
// identity, registry pointer, S2S minting, guardrail thresholds, client
// auth, the sensitive-path limiter, the audit WAL, and the audit sink.
package gwconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the full boot configuration tree, loaded from YAML and then
// overridden field-by-field from the environment.
type Config struct {
	Identity     IdentityConfig     `yaml:"identity"`
	Registry     RegistryConfig     `yaml:"registry"`
	S2S          S2SConfig          `yaml:"s2s"`
	Guardrails   GuardrailsConfig   `yaml:"guardrails"`
	ClientAuth   ClientAuthConfig   `yaml:"client_auth"`
	Sensitive    SensitiveConfig    `yaml:"sensitive_limiter"`
	WAL          WALConfig          `yaml:"wal"`
	Sink         SinkConfig         `yaml:"sink"`
	Health       HealthConfig       `yaml:"health"`
	AdminKey     string             `yaml:"admin_key"`
}

type IdentityConfig struct {
	ServiceName string `yaml:"service_name"`
	Env         string `yaml:"env"`
	Port        string `yaml:"port"`
	Bind        string `yaml:"bind"`
}

type RegistryConfig struct {
	BaseURL      string `yaml:"base_url"`
	InternalPath string `yaml:"internal_path"`
	PubSubTopic  string `yaml:"pubsub_topic"` // optional change-hint channel
	GCPProjectID string `yaml:"gcp_project_id"`
	LKGPath      string `yaml:"lkg_path"`
	PollMs       int    `yaml:"poll_ms"`
}

type S2SConfig struct {
	Secret          string   `yaml:"secret"`
	PreviousSecret  string   `yaml:"previous_secret"`
	RotationGraceMs int      `yaml:"rotation_grace_ms"`
	Issuer          string   `yaml:"issuer"`
	Audience        string   `yaml:"audience"`
	TTLSec          int      `yaml:"ttl_sec"`
	MaxTTLSec       int      `yaml:"max_ttl_sec"`
	AllowedIssuers  []string `yaml:"allowed_issuers"`
	AllowedCallers  []string `yaml:"allowed_callers"`
}

type GuardrailsConfig struct {
	HTTPSEnforced          bool `yaml:"https_enforced"`
	RateLimitWindowMs      int  `yaml:"rate_limit_window_ms"`
	RateLimitPoints        int  `yaml:"rate_limit_points"`
	TimeoutGatewayMs       int  `yaml:"timeout_gateway_ms"`
	DownstreamTimeoutMs    int  `yaml:"downstream_timeout_ms"`
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerHalfOpenAfterMs int  `yaml:"breaker_halfopen_after_ms"`
	BreakerMinRttMs        int  `yaml:"breaker_min_rtt_ms"`
}

type ClientAuthConfig struct {
	JWKSURL            string   `yaml:"jwks_url"`
	Issuers            []string `yaml:"issuers"`
	Audience           string   `yaml:"audience"`
	ClockSkewSec       int      `yaml:"clock_skew_sec"`
	Required           bool     `yaml:"required"`
	Bypass             bool     `yaml:"bypass"`
	ReadOnly           bool     `yaml:"read_only"`
	PublicPrefixes     []string `yaml:"public_prefixes"`
	ProtectedGetPrefix []string `yaml:"protected_get_prefixes"`
	ExemptMutatePaths  []string `yaml:"exempt_mutate_paths"`
	JWKSCacheTTLSec    int      `yaml:"jwks_cache_ttl_sec"`
}

type SensitiveConfig struct {
	Prefixes   []string `yaml:"prefixes"`
	WindowMs   int      `yaml:"window_ms"`
	Max        int      `yaml:"max"`
	StoreURL   string   `yaml:"store_url"` // redis addr
	StorePass  string   `yaml:"store_password"`
	StoreDB    int      `yaml:"store_db"`
}

type WALConfig struct {
	Dir            string `yaml:"dir"`
	FileMaxMB      int    `yaml:"file_max_mb"`
	RetentionDays  int    `yaml:"retention_days"`
	RingMaxEvents  int    `yaml:"ring_max_events"`
	BatchSize      int    `yaml:"batch_size"`
	FlushMs        int    `yaml:"flush_ms"`
	MaxRetryMs     int    `yaml:"max_retry_ms"`
	PostgresDSN    string `yaml:"postgres_dsn"` // optional: internal/pgstore copy of the ConfigMirror LKG snapshot
}

// HealthConfig names the upstream slugs readiness fans out to — an
// operator-configured list, not one derived implicitly from the registry.
type HealthConfig struct {
	RequiredSlugs []string `yaml:"required_slugs"`
	ProbeTimeoutMs int     `yaml:"probe_timeout_ms"`
}

type SinkConfig struct {
	Slug        string `yaml:"slug"`
	Version     int    `yaml:"version"`
	OverrideURL string `yaml:"override_url"`
	Path        string `yaml:"path"`
	TimeoutMs   int    `yaml:"timeout_ms"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton configuration, loading it on
// first call via sync.Once.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("GATEWAY_CONFIG_PATH", "gateway.yaml"))
		if err != nil {
			slog.Warn("gwconfig: failed to load config file, using defaults + env", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads a YAML config file from disk without applying env
// overrides or defaults; callers that need a fully resolved config should
// call applyEnvOverrides or just use Get().
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Identity.ServiceName = getEnv("GATEWAY_SERVICE_NAME", c.Identity.ServiceName)
	c.Identity.Env = getEnv("GATEWAY_ENV", c.Identity.Env)
	c.Identity.Port = getEnv("PORT", c.Identity.Port)
	c.Identity.Bind = getEnv("GATEWAY_BIND", c.Identity.Bind)

	c.Registry.BaseURL = getEnv("REGISTRY_BASE_URL", c.Registry.BaseURL)
	c.Registry.InternalPath = getEnv("REGISTRY_INTERNAL_PATH", c.Registry.InternalPath)
	c.Registry.PubSubTopic = getEnv("REGISTRY_PUBSUB_TOPIC", c.Registry.PubSubTopic)
	c.Registry.GCPProjectID = getEnv("GCP_PROJECT_ID", c.Registry.GCPProjectID)
	c.Registry.LKGPath = getEnv("REGISTRY_LKG_PATH", c.Registry.LKGPath)
	if v := getEnvInt("REGISTRY_POLL_MS", 0); v > 0 {
		c.Registry.PollMs = v
	}

	c.S2S.Secret = getEnv("S2S_SECRET", c.S2S.Secret)
	c.S2S.PreviousSecret = getEnv("S2S_PREVIOUS_SECRET", c.S2S.PreviousSecret)
	if v := getEnvInt("S2S_ROTATION_GRACE_MS", 0); v > 0 {
		c.S2S.RotationGraceMs = v
	}
	c.S2S.Issuer = getEnv("S2S_ISSUER", c.S2S.Issuer)
	c.S2S.Audience = getEnv("S2S_AUDIENCE", c.S2S.Audience)
	if v := getEnvInt("S2S_TTL_SEC", 0); v > 0 {
		c.S2S.TTLSec = v
	}
	if v := getEnvInt("S2S_MAX_TTL_SEC", 0); v > 0 {
		c.S2S.MaxTTLSec = v
	}
	if v := getEnv("S2S_ALLOWED_ISSUERS", ""); v != "" {
		c.S2S.AllowedIssuers = splitCSV(v)
	}
	if v := getEnv("S2S_ALLOWED_CALLERS", ""); v != "" {
		c.S2S.AllowedCallers = splitCSV(v)
	}

	c.Guardrails.HTTPSEnforced = getEnvBool("HTTPS_ENFORCED", c.Guardrails.HTTPSEnforced)
	if v := getEnvInt("RATE_LIMIT_WINDOW_MS", 0); v > 0 {
		c.Guardrails.RateLimitWindowMs = v
	}
	if v := getEnvInt("RATE_LIMIT_POINTS", 0); v > 0 {
		c.Guardrails.RateLimitPoints = v
	}
	if v := getEnvInt("TIMEOUT_GATEWAY_MS", 0); v > 0 {
		c.Guardrails.TimeoutGatewayMs = v
	}
	if v := getEnvInt("DOWNSTREAM_TIMEOUT_MS", 0); v > 0 {
		c.Guardrails.DownstreamTimeoutMs = v
	}
	if v := getEnvInt("BREAKER_FAILURE_THRESHOLD", 0); v > 0 {
		c.Guardrails.BreakerFailureThreshold = v
	}
	if v := getEnvInt("BREAKER_HALFOPEN_AFTER_MS", 0); v > 0 {
		c.Guardrails.BreakerHalfOpenAfterMs = v
	}
	if v := getEnvInt("BREAKER_MIN_RTT_MS", 0); v > 0 {
		c.Guardrails.BreakerMinRttMs = v
	}

	c.ClientAuth.JWKSURL = getEnv("CLIENT_AUTH_JWKS_URL", c.ClientAuth.JWKSURL)
	if v := getEnv("CLIENT_AUTH_ISSUERS", ""); v != "" {
		c.ClientAuth.Issuers = splitCSV(v)
	}
	c.ClientAuth.Audience = getEnv("CLIENT_AUTH_AUDIENCE", c.ClientAuth.Audience)
	if v := getEnvInt("CLIENT_AUTH_CLOCK_SKEW_SEC", 0); v > 0 {
		c.ClientAuth.ClockSkewSec = v
	}
	c.ClientAuth.Required = getEnvBool("CLIENT_AUTH_REQUIRED", c.ClientAuth.Required)
	c.ClientAuth.Bypass = getEnvBool("CLIENT_AUTH_BYPASS", c.ClientAuth.Bypass)
	c.ClientAuth.ReadOnly = getEnvBool("CLIENT_AUTH_READ_ONLY", c.ClientAuth.ReadOnly)
	if v := getEnv("CLIENT_AUTH_PUBLIC_PREFIXES", ""); v != "" {
		c.ClientAuth.PublicPrefixes = splitCSV(v)
	}
	if v := getEnv("CLIENT_AUTH_PROTECTED_GET_PREFIXES", ""); v != "" {
		c.ClientAuth.ProtectedGetPrefix = splitCSV(v)
	}
	if v := getEnv("CLIENT_AUTH_EXEMPT_MUTATE_PATHS", ""); v != "" {
		c.ClientAuth.ExemptMutatePaths = splitCSV(v)
	}
	if v := getEnvInt("CLIENT_AUTH_JWKS_CACHE_TTL_SEC", 0); v > 0 {
		c.ClientAuth.JWKSCacheTTLSec = v
	}

	if v := getEnv("SENSITIVE_PREFIXES", ""); v != "" {
		c.Sensitive.Prefixes = splitCSV(v)
	}
	if v := getEnvInt("SENSITIVE_WINDOW_MS", 0); v > 0 {
		c.Sensitive.WindowMs = v
	}
	if v := getEnvInt("SENSITIVE_MAX", 0); v > 0 {
		c.Sensitive.Max = v
	}
	c.Sensitive.StoreURL = getEnv("SENSITIVE_STORE_URL", c.Sensitive.StoreURL)
	c.Sensitive.StorePass = getEnv("SENSITIVE_STORE_PASSWORD", c.Sensitive.StorePass)
	if v := getEnvInt("SENSITIVE_STORE_DB", -1); v >= 0 {
		c.Sensitive.StoreDB = v
	}

	c.WAL.Dir = getEnv("WAL_DIR", c.WAL.Dir)
	if v := getEnvInt("WAL_FILE_MAX_MB", 0); v > 0 {
		c.WAL.FileMaxMB = v
	}
	if v := getEnvInt("WAL_RETENTION_DAYS", 0); v > 0 {
		c.WAL.RetentionDays = v
	}
	if v := getEnvInt("WAL_RING_MAX_EVENTS", 0); v > 0 {
		c.WAL.RingMaxEvents = v
	}
	if v := getEnvInt("WAL_BATCH_SIZE", 0); v > 0 {
		c.WAL.BatchSize = v
	}
	if v := getEnvInt("WAL_FLUSH_MS", 0); v > 0 {
		c.WAL.FlushMs = v
	}
	if v := getEnvInt("WAL_MAX_RETRY_MS", 0); v > 0 {
		c.WAL.MaxRetryMs = v
	}
	c.WAL.PostgresDSN = getEnv("WAL_POSTGRES_DSN", c.WAL.PostgresDSN)

	c.Sink.Slug = getEnv("SINK_SLUG", c.Sink.Slug)
	if v := getEnvInt("SINK_VERSION", 0); v > 0 {
		c.Sink.Version = v
	}
	c.Sink.OverrideURL = getEnv("SINK_OVERRIDE_URL", c.Sink.OverrideURL)
	c.Sink.Path = getEnv("SINK_PATH", c.Sink.Path)
	if v := getEnvInt("SINK_TIMEOUT_MS", 0); v > 0 {
		c.Sink.TimeoutMs = v
	}

	if v := getEnv("HEALTH_REQUIRED_SLUGS", ""); v != "" {
		c.Health.RequiredSlugs = splitCSV(v)
	}
	if v := getEnvInt("HEALTH_PROBE_TIMEOUT_MS", 0); v > 0 {
		c.Health.ProbeTimeoutMs = v
	}

	c.AdminKey = getEnv("GATEWAY_ADMIN_KEY", c.AdminKey)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Identity.ServiceName == "" {
		c.Identity.ServiceName = "edge-gateway"
	}
	if c.Identity.Env == "" {
		c.Identity.Env = "development"
	}
	if c.Identity.Port == "" {
		c.Identity.Port = "8080"
	}
	if c.Identity.Bind == "" {
		c.Identity.Bind = "0.0.0.0"
	}
	if c.Registry.InternalPath == "" {
		c.Registry.InternalPath = "/internal/registry"
	}
	if c.Registry.LKGPath == "" {
		c.Registry.LKGPath = "./data/registry.lkg.json"
	}
	if c.Registry.PollMs == 0 {
		c.Registry.PollMs = 30_000
	}
	if c.Registry.PollMs < 10_000 {
		c.Registry.PollMs = 10_000 // floor per spec
	}
	if c.S2S.Issuer == "" {
		c.S2S.Issuer = c.Identity.ServiceName
	}
	if c.S2S.Audience == "" {
		c.S2S.Audience = "internal-fleet"
	}
	if c.S2S.TTLSec == 0 {
		c.S2S.TTLSec = 300
	}
	if c.S2S.MaxTTLSec == 0 {
		c.S2S.MaxTTLSec = 900
	}
	if len(c.S2S.AllowedIssuers) == 0 {
		c.S2S.AllowedIssuers = []string{c.S2S.Issuer}
	}
	if c.Guardrails.RateLimitWindowMs == 0 {
		c.Guardrails.RateLimitWindowMs = 1000
	}
	if c.Guardrails.RateLimitWindowMs < 250 {
		c.Guardrails.RateLimitWindowMs = 250
	}
	if c.Guardrails.RateLimitPoints == 0 {
		c.Guardrails.RateLimitPoints = 50
	}
	if c.Guardrails.TimeoutGatewayMs == 0 {
		c.Guardrails.TimeoutGatewayMs = 10_000
	}
	if c.Guardrails.DownstreamTimeoutMs == 0 {
		c.Guardrails.DownstreamTimeoutMs = c.Guardrails.TimeoutGatewayMs * 8 / 10
	}
	if c.Guardrails.BreakerFailureThreshold == 0 {
		c.Guardrails.BreakerFailureThreshold = 5
	}
	if c.Guardrails.BreakerHalfOpenAfterMs == 0 {
		c.Guardrails.BreakerHalfOpenAfterMs = 30_000
	}
	if c.Guardrails.BreakerMinRttMs == 0 {
		c.Guardrails.BreakerMinRttMs = 0
	}
	if c.ClientAuth.ClockSkewSec == 0 {
		c.ClientAuth.ClockSkewSec = 30
	}
	if c.ClientAuth.JWKSCacheTTLSec == 0 {
		c.ClientAuth.JWKSCacheTTLSec = 300
	}
	if c.Sensitive.WindowMs == 0 {
		c.Sensitive.WindowMs = 60_000
	}
	if c.Sensitive.Max == 0 {
		c.Sensitive.Max = 10
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.WAL.FileMaxMB == 0 {
		c.WAL.FileMaxMB = 64
	}
	if c.WAL.RetentionDays == 0 {
		c.WAL.RetentionDays = 14
	}
	if c.WAL.RingMaxEvents == 0 {
		c.WAL.RingMaxEvents = 50_000
	}
	if c.WAL.BatchSize == 0 {
		c.WAL.BatchSize = 200
	}
	if c.WAL.FlushMs == 0 {
		c.WAL.FlushMs = 2_000
	}
	if c.WAL.MaxRetryMs == 0 {
		c.WAL.MaxRetryMs = 30_000
	}
	if c.Sink.Path == "" {
		c.Sink.Path = "/events"
	}
	if c.Sink.TimeoutMs == 0 {
		c.Sink.TimeoutMs = 5_000
	}
	if c.Health.ProbeTimeoutMs == 0 {
		c.Health.ProbeTimeoutMs = 2_000
	}
}

// Validate fails fast at boot if required fields are missing.
func (c *Config) Validate() error {
	var missing []string
	if c.Identity.ServiceName == "" {
		missing = append(missing, "identity.service_name")
	}
	if c.Registry.BaseURL == "" {
		missing = append(missing, "registry.base_url")
	}
	if c.S2S.Secret == "" {
		missing = append(missing, "s2s.secret")
	}
	if !c.ClientAuth.Bypass && c.ClientAuth.JWKSURL == "" {
		missing = append(missing, "client_auth.jwks_url")
	}
	if c.Sink.Slug == "" && c.Sink.OverrideURL == "" {
		missing = append(missing, "sink.slug or sink.override_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("gwconfig: missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
