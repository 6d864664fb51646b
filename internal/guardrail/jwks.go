package guardrail

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwk is a single JSON Web Key, ES256 (P-256) shaped: client tokens are
// verified against a remote JWKS.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// JWKSClient fetches and caches a remote JWKS, exposing both a
// jwt.Keyfunc-compatible lookup (for client-token verification) and the
// raw cached document bytes (for the gateway's own /jwks mirror endpoint).
type JWKSClient struct {
	url        string
	httpClient *http.Client
	cacheTTL   time.Duration

	mu        sync.RWMutex
	keys      map[string]*ecdsa.PublicKey
	raw       []byte
	fetchedAt time.Time
}

// NewJWKSClient constructs a client for the given JWKS URL.
func NewJWKSClient(url string, cacheTTL time.Duration) *JWKSClient {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &JWKSClient{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   cacheTTL,
		keys:       make(map[string]*ecdsa.PublicKey),
	}
}

func (c *JWKSClient) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.fetchedAt) > c.cacheTTL
}

func (c *JWKSClient) refresh() error {
	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	keys := make(map[string]*ecdsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "EC" || k.Crv != "P-256" {
			continue
		}
		pub, err := ecPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.raw = raw
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Lookup resolves the ECDSA public key for kid, refreshing the cache if
// stale or the key is unknown (handles key rotation on the signer side).
func (c *JWKSClient) Lookup(kid string) (*ecdsa.PublicKey, error) {
	if c.stale() {
		if err := c.refresh(); err != nil {
			return nil, err
		}
	}
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}
	// Key not found in cache: force one refresh in case of rotation before
	// giving up.
	if err := c.refresh(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("jwks: unknown kid %q", kid)
	}
	return key, nil
}

// Raw returns the last-fetched JWKS document bytes, refreshing first if
// stale, for the gateway's own mirrored /jwks endpoint.
func (c *JWKSClient) Raw() ([]byte, error) {
	if c.stale() {
		if err := c.refresh(); err != nil {
			c.mu.RLock()
			defer c.mu.RUnlock()
			if c.raw != nil {
				return c.raw, nil // serve stale cache rather than fail the endpoint
			}
			return nil, err
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.raw, nil
}

func ecPublicKeyFromJWK(k jwk) (*ecdsa.PublicKey, error) {
	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
