package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/metriport/ihe-gateway/internal/config"
)

const (
	testIssuer   = "https://auth.example.com"
	testAudience = "ihe-gateway"
)

type testIdP struct {
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	jwks := JWKS{Keys: []JWK{{
		Kid: "key-1",
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)
	return &testIdP{key: key, server: srv}
}

func (p *testIdP) config(scope string) config.OAuth2Config {
	return config.OAuth2Config{
		Issuer:   testIssuer,
		Audience: testAudience,
		JWKSUrl:  p.server.URL,
		Scope:    scope,
	}
}

func (p *testIdP) token(t *testing.T, kid string, mutate func(*Claims)) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "internal-api",
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: "gateway/outbound gateway/results",
	}
	if mutate != nil {
		mutate(&claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(p.key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestAuthenticator_ValidateRequest(t *testing.T) {
	idp := newTestIdP(t)
	auth := NewAuthenticator(idp.config("gateway/outbound"), nil)

	if !auth.IsEnabled() {
		t.Fatal("expected auth to be enabled")
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:  "valid token",
			token: idp.token(t, "key-1", nil),
		},
		{
			name:    "expired",
			token:   idp.token(t, "key-1", func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) }),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong issuer",
			token:   idp.token(t, "key-1", func(c *Claims) { c.Issuer = "https://other.example.com" }),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong audience",
			token:   idp.token(t, "key-1", func(c *Claims) { c.Audience = jwt.ClaimStrings{"someone-else"} }),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "unknown key",
			token:   idp.token(t, "key-2", nil),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing scope",
			token:   idp.token(t, "key-1", func(c *Claims) { c.Scope = "gateway/results" }),
			wantErr: ErrMissingScope,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/outbound/patient-discovery", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)

			claims, err := auth.ValidateRequest(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.Subject != "internal-api" {
				t.Errorf("expected subject internal-api, got %q", claims.Subject)
			}
		})
	}
}

func TestAuthenticator_NoToken(t *testing.T) {
	idp := newTestIdP(t)
	auth := NewAuthenticator(idp.config(""), nil)

	req := httptest.NewRequest(http.MethodGet, "/outbound/results/abc", nil)
	if _, err := auth.ValidateRequest(req); err != ErrNoToken {
		t.Errorf("expected ErrNoToken, got %v", err)
	}

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, err := auth.ValidateRequest(req); err != ErrNoToken {
		t.Errorf("expected ErrNoToken for basic auth, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	idp := newTestIdP(t)
	auth := NewAuthenticator(idp.config(""), nil)

	var seen *Claims
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/outbound/document-query", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}

	req.Header.Set("Authorization", "Bearer "+idp.token(t, "key-1", nil))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 with token, got %d", rec.Code)
	}
	if seen == nil || seen.Subject != "internal-api" {
		t.Errorf("expected claims in context, got %+v", seen)
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	auth := NewAuthenticator(config.OAuth2Config{}, nil)
	if auth.IsEnabled() {
		t.Fatal("expected auth to be disabled without issuer")
	}

	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outbound/results/abc", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestClaims_HasScope(t *testing.T) {
	tests := []struct {
		name     string
		scope    string
		want     string
		expected bool
	}{
		{"single", "gateway/outbound", "gateway/outbound", true},
		{"among several", "openid gateway/outbound profile", "gateway/outbound", true},
		{"prefix only", "gateway/outbound-read", "gateway/outbound", false},
		{"empty", "", "gateway/outbound", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Claims{Scope: tt.scope}
			if got := c.HasScope(tt.want); got != tt.expected {
				t.Errorf("HasScope(%q) = %v, want %v", tt.want, got, tt.expected)
			}
		})
	}
}

func TestJWK_RSAKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	n := base64.RawURLEncoding.EncodeToString(key.N.Bytes())

	pub, err := JWK{Kty: "RSA", N: n, E: "AQAB"}.rsaKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Error("decoded key does not match")
	}

	bad := []JWK{
		{Kty: "EC", N: n, E: "AQAB"},
		{Kty: "RSA", N: "", E: "AQAB"},
		{Kty: "RSA", N: n, E: "AQ"},
		{Kty: "RSA", N: "!!", E: "AQAB"},
	}
	for _, k := range bad {
		if _, err := k.rsaKey(); err == nil {
			t.Errorf("expected error for %+v", k)
		}
	}
}
