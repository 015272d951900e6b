// Package middleware provides HTTP middleware for authentication and
// rate limiting.
package middleware

import (
	"context"
	"net/http"

	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// PrincipalLoader resolves verified token claims against current records.
// A token whose subject no longer exists, or whose device has been
// deactivated, must be rejected here; the principal always reflects the
// row's current state, not the claims at issue time.
type PrincipalLoader interface {
	LoadUserPrincipal(ctx context.Context, userID int64) (*auth.Principal, error)
	LoadDevicePrincipal(ctx context.Context, deviceID int64) (*auth.Principal, error)
}

// Authenticator verifies Authorization headers and attaches the resulting
// principal to the request context.
type Authenticator struct {
	tokens   *auth.TokenManager
	loader   PrincipalLoader
	optional bool
}

// NewAuthenticator creates authentication middleware. When optional is
// true, requests without a credential pass through unauthenticated.
func NewAuthenticator(tokens *auth.TokenManager, loader PrincipalLoader, optional bool) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		loader:   loader,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if a.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		token, err := auth.ExtractToken(header)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := a.tokens.VerifyToken(token)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		principal, err := a.loadPrincipal(r.Context(), claims)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("rejected token for unknown principal")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) loadPrincipal(ctx context.Context, claims *auth.Claims) (*auth.Principal, error) {
	if claims.Type == string(auth.KindDevice) {
		return a.loader.LoadDevicePrincipal(ctx, claims.ID)
	}
	return a.loader.LoadUserPrincipal(ctx, claims.ID)
}

// RequireUser rejects requests not authenticated as a user
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !p.IsUser() {
			httputil.WriteForbidden(w, "user credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireDevice rejects requests not authenticated as a device
func RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !p.IsDevice() {
			httputil.WriteForbidden(w, "device credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny rejects unauthenticated requests but accepts either kind
// of principal
func RequireAny(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
