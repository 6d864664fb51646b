package s2s

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Secret:         "test-secret",
		Issuer:         "edge-gateway",
		Audience:       "internal-fleet",
		DefaultTTL:     300 * time.Second,
		MaxTTL:         900 * time.Second,
		AllowedIssuers: []string{"edge-gateway"},
	}
}

func TestMinter_MintAndVerify(t *testing.T) {
	m := New(testConfig())

	tok, err := m.Mint(context.Background(), "forwarder", 60)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Svc != "forwarder" {
		t.Errorf("svc = %q", claims.Svc)
	}
	if claims.Subject != "s2s" {
		t.Errorf("sub = %q", claims.Subject)
	}
}

func TestMinter_TTLCappedAtMax(t *testing.T) {
	m := New(testConfig())
	tok, err := m.MintWithOptions(MintOptions{TTLSec: 10_000, CallerSlug: "x"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	ttl := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)
	if ttl > 900*time.Second+time.Second {
		t.Errorf("ttl = %v, want capped at 900s", ttl)
	}
}

func TestMinter_RejectsWrongAudience(t *testing.T) {
	m := New(testConfig())
	tok, err := m.Mint(context.Background(), "x", 60)
	if err != nil {
		t.Fatal(err)
	}

	other := New(Config{Secret: "test-secret", Issuer: "edge-gateway", Audience: "some-other-audience"})
	if _, err := other.Verify(tok); err == nil {
		t.Error("expected verification to fail on audience mismatch")
	}
}

func TestMinter_RotateKeyGracePeriod(t *testing.T) {
	m := New(testConfig())
	tok, err := m.Mint(context.Background(), "x", 60)
	if err != nil {
		t.Fatal(err)
	}

	m.RotateKey("new-secret", time.Minute)

	if _, err := m.Verify(tok); err != nil {
		t.Errorf("expected old token to verify during grace window: %v", err)
	}
}

func TestMinter_CallerAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedCallers = []string{"forwarder"}
	m := New(cfg)

	tok, err := m.Mint(context.Background(), "untrusted-caller", 60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(tok); err == nil {
		t.Error("expected caller allowlist rejection")
	}
}
