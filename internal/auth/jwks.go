package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

const (
	jwksTTL     = time.Hour
	maxJWKSSize = 1 << 20
)

var errUnknownKey = errors.New("unknown signing key")

// JWKS is a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is one JSON Web Key. Only RSA signing keys are used.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j JWK) rsaKey() (*rsa.PublicKey, error) {
	if j.Kty != "RSA" {
		return nil, fmt.Errorf("key type %s is not RSA", j.Kty)
	}
	n, err := decodeBigInt(j.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := decodeBigInt(j.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func decodeBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	return new(big.Int).SetBytes(b), nil
}

// keySet caches the issuer's signing keys by kid
type keySet struct {
	url    string
	client *http.Client
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

func (s *keySet) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := s.cached(kid); key != nil {
		return key, nil
	}
	// An unknown kid forces a refresh so rotated keys are picked up.
	// Concurrent misses share one fetch.
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	if key := s.cached(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
}

func (s *keySet) cached(kid string) *rsa.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if time.Now().After(s.expires) {
		return nil
	}
	return s.keys[kid]
}

func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("building JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching JWKS: status %d", resp.StatusCode)
	}

	var set JWKS
	if err := gojson.NewDecoder(io.LimitReader(resp.Body, maxJWKSSize)).Decode(&set); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		key, err := k.rsaKey()
		if err != nil {
			s.logger.Warn("skipping JWK", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = key
	}

	s.mu.Lock()
	s.keys = keys
	s.expires = time.Now().Add(jwksTTL)
	s.mu.Unlock()

	s.logger.Debug("JWKS refreshed", "url", s.url, "keys", len(keys))
	return nil
}
