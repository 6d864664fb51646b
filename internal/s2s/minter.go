// Package s2s mints and verifies short-lived service-to-service bearer
// tokens. Signing follows github.com/golang-jwt/jwt/v5's pattern (as seen
// in Mindburn-Labs-helm/core/pkg/identity/keyset.go); the TTL cap,
// issuer/audience allowlist checks, and key-rotation grace window follow
// the same shape as a token-broker component issuing short-lived
// service credentials with a rotation grace window.
package s2s

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT claim set minted for S2S calls: a fixed subject "s2s"
// plus the calling service's slug under "svc".
type Claims struct {
	jwt.RegisteredClaims
	Svc string `json:"svc"`
}

// Config controls minting and verification policy.
type Config struct {
	Secret          string
	PreviousSecret  string        // accepted during the rotation grace window
	RotationGrace   time.Duration // how long PreviousSecret remains valid after New
	Issuer          string
	Audience        string
	DefaultTTL      time.Duration
	MaxTTL          time.Duration
	AllowedIssuers  []string
	AllowedCallers  []string
}

// MintOptions parameterizes a single Mint call.
type MintOptions struct {
	TTLSec     int // 0 uses Config.DefaultTTL; capped at Config.MaxTTL
	CallerSlug string
}

// Minter issues and verifies HS256 S2S bearer tokens.
type Minter struct {
	mu         sync.RWMutex
	cfg        Config
	secret     []byte
	prevSecret []byte
	graceUntil time.Time
}

// New constructs a Minter from Config. Secret must be non-empty (fails
// fast at boot, enforced by internal/gwconfig.Validate).
func New(cfg Config) *Minter {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 300 * time.Second
	}
	if cfg.MaxTTL == 0 {
		cfg.MaxTTL = 900 * time.Second
	}
	m := &Minter{cfg: cfg, secret: []byte(cfg.Secret)}
	if cfg.PreviousSecret != "" {
		m.prevSecret = []byte(cfg.PreviousSecret)
		m.graceUntil = time.Now().Add(cfg.RotationGrace)
	}
	return m
}

// Mint produces a bearer token string, satisfying configmirror.TokenMinter
// and forwarder.TokenMinter.
func (m *Minter) Mint(ctx context.Context, callerSlug string, ttlSec int) (string, error) {
	return m.MintWithOptions(MintOptions{TTLSec: ttlSec, CallerSlug: callerSlug})
}

// MintWithOptions mints a bearer with an explicit TTL and caller slug,
// clamped to Config.MaxTTL.
func (m *Minter) MintWithOptions(opts MintOptions) (string, error) {
	m.mu.RLock()
	cfg := m.cfg
	secret := m.secret
	m.mu.RUnlock()

	ttl := time.Duration(opts.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}
	if ttl > cfg.MaxTTL {
		ttl = cfg.MaxTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "s2s",
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Svc: opts.CallerSlug,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify checks signature, expiry, audience, issuer allowlist, and caller
// (svc) allowlist, accepting the previous secret during its rotation grace
// window.
func (m *Minter) Verify(tokenStr string) (*Claims, error) {
	m.mu.RLock()
	cfg := m.cfg
	secret := m.secret
	prevSecret := m.prevSecret
	graceUntil := m.graceUntil
	m.mu.RUnlock()

	var claims Claims
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}

	token, err := jwt.ParseWithClaims(tokenStr, &claims, keyFunc,
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuer(cfg.Issuer))
	if err != nil || !token.Valid {
		if prevSecret != nil && time.Now().Before(graceUntil) {
			token, err = jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
				return prevSecret, nil
			}, jwt.WithAudience(cfg.Audience), jwt.WithIssuer(cfg.Issuer))
			if err != nil || !token.Valid {
				return nil, fmt.Errorf("s2s: token invalid under current and previous secret: %w", err)
			}
		} else {
			return nil, fmt.Errorf("s2s: token invalid: %w", err)
		}
	}

	if !issuerAllowed(cfg.AllowedIssuers, claims.Issuer) {
		return nil, fmt.Errorf("s2s: issuer %q not in allowlist", claims.Issuer)
	}
	if len(cfg.AllowedCallers) > 0 && !issuerAllowed(cfg.AllowedCallers, claims.Svc) {
		return nil, fmt.Errorf("s2s: caller %q not in allowlist", claims.Svc)
	}

	return &claims, nil
}

func issuerAllowed(allowlist []string, v string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, a := range allowlist {
		if a == v {
			return true
		}
	}
	return false
}

// RotateKey replaces the active secret, keeping the old one acceptable
// for a grace window so in-flight tokens signed before rotation still
// verify.
func (m *Minter) RotateKey(newSecret string, grace time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prevSecret = m.secret
	m.secret = []byte(newSecret)
	m.graceUntil = time.Now().Add(grace)
}
