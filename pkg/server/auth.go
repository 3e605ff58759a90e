package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/reeceomahoney/locodiff/pkg/config"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// Claims are the validated token claims attached to a request.
type Claims struct {
	Subject string
	Email   string
	Role    string
}

// JWTValidator validates bearer tokens against a JWKS endpoint. The key set
// is cached and refreshed in the background so provider key rotation does
// not interrupt the server.
type JWTValidator struct {
	cfg   *config.AuthConfig
	cache *jwk.Cache
}

// NewJWTValidator registers the JWKS URL for periodic refresh and fetches
// the key set once to fail fast on a bad configuration. The background
// refresh stops when ctx is cancelled.
func NewJWTValidator(ctx context.Context, cfg *config.AuthConfig) (*JWTValidator, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("auth is not enabled")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{cfg: cfg, cache: cache}, nil
}

// ValidateToken verifies the token signature against the cached key set
// along with its expiration, issuer, and audience, and returns the claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{Subject: token.Subject()}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}

	return claims, nil
}

// Middleware enforces bearer authentication on every route except the
// configured excluded paths. When require_auth is false, requests without
// a token pass through; a token that is present is still validated.
func (v *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range v.cfg.ExcludedPaths {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
		}

		required := v.cfg.RequireAuth == nil || *v.cfg.RequireAuth

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if !required {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, `{"error":"Missing Authorization header"}`, http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, `{"error":"Invalid Authorization format, expected: Bearer <token>"}`, http.StatusUnauthorized)
			return
		}

		claims, err := v.ValidateToken(r.Context(), tokenString)
		if err != nil {
			http.Error(w, `{"error":"Unauthorized: `+err.Error()+`"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims returns the claims attached to an authenticated request, or nil.
func GetClaims(r *http.Request) *Claims {
	if claims, ok := r.Context().Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}
