// Package auth authenticates callers of the outbound API.
//
// The internal API tier calls the gateway with an OAuth2 bearer token. The
// token is a JWT signed with a key published in the issuer's JWKS; issuer,
// audience and optionally a scope are checked. When no issuer is configured
// authentication is disabled and every request passes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/metriport/ihe-gateway/internal/config"
)

// Sentinel errors for authentication failures
var (
	// ErrNoToken means the request carries no Bearer Authorization header
	ErrNoToken = errors.New("no authorization token provided")

	// ErrInvalidToken covers malformed, badly signed and expired tokens
	ErrInvalidToken = errors.New("invalid authorization token")

	// ErrMissingScope means the token does not grant the configured scope
	ErrMissingScope = errors.New("token lacks required scope")
)

// Claims are the token claims the gateway reads
type Claims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// HasScope checks if the space separated scope claim contains scope
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// Authenticator validates bearer tokens against the issuer's keys
type Authenticator struct {
	config config.OAuth2Config
	logger *slog.Logger
	parser *jwt.Parser
	keys   *keySet
}

// NewAuthenticator creates an authenticator for cfg
func NewAuthenticator(cfg config.OAuth2Config, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(cfg.Issuer),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		config: cfg,
		logger: logger,
		parser: jwt.NewParser(opts...),
		keys: &keySet{
			url:    cfg.JWKSUrl,
			client: &http.Client{Timeout: 10 * time.Second},
			logger: logger,
		},
	}
}

// IsEnabled reports whether an issuer is configured
func (a *Authenticator) IsEnabled() bool {
	return a.config.Issuer != ""
}

// ValidateRequest validates the bearer token of r
func (a *Authenticator) ValidateRequest(r *http.Request) (*Claims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, ErrNoToken
	}
	return a.ValidateToken(r.Context(), token)
}

// ValidateToken checks signature, expiry, issuer, audience and scope
func (a *Authenticator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	claims := new(Claims)
	_, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.lookup(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if a.config.Scope != "" && !claims.HasScope(a.config.Scope) {
		return nil, ErrMissingScope
	}
	return claims, nil
}

// Middleware rejects requests without a valid token. It passes every
// request through when authentication is disabled.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.IsEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.ValidateRequest(r)
		if err != nil {
			a.logger.Info("request rejected", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="ihe-gateway"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims Middleware stored, or nil
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// ContextWithClaims stores claims in ctx
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}
