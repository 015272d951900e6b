// Package auth provides JWT token issuing and verification, password
// hashing, and the principal types carried through request contexts.
package auth

import (
	"context"

	"github.com/cacophony-project/cacophony-api/pkg/contextkeys"
)

// PrincipalKind distinguishes user tokens from device tokens
type PrincipalKind string

const (
	KindUser   PrincipalKind = "user"
	KindDevice PrincipalKind = "device"
)

// Principal is the authenticated caller of a request, either a user
// or a device.
type Principal struct {
	Kind PrincipalKind

	// User fields (Kind == KindUser)
	UserID   int64
	Username string

	// Device fields (Kind == KindDevice)
	DeviceID   int64
	DeviceName string
	GroupID    int64
}

// IsUser reports whether the principal is an authenticated user
func (p *Principal) IsUser() bool {
	return p != nil && p.Kind == KindUser
}

// IsDevice reports whether the principal is an authenticated device
func (p *Principal) IsDevice() bool {
	return p != nil && p.Kind == KindDevice
}

// Authorization captures a user's resolved access scope. It is computed
// once when the token is verified and reused for all checks in the request.
type Authorization struct {
	UserID      int64
	GlobalRead  bool
	GlobalWrite bool
}

// CanReadAll reports whether the caller may bypass visibility filtering
func (a Authorization) CanReadAll() bool {
	return a.GlobalRead || a.GlobalWrite
}

// WithPrincipal stores the authenticated principal in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext retrieves the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
