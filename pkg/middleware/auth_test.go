package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

type fakeLoader struct {
	users   map[int64]*auth.Principal
	devices map[int64]*auth.Principal
}

func (f *fakeLoader) LoadUserPrincipal(_ context.Context, userID int64) (*auth.Principal, error) {
	if p, ok := f.users[userID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("user %d not found", userID)
}

func (f *fakeLoader) LoadDevicePrincipal(_ context.Context, deviceID int64) (*auth.Principal, error) {
	if p, ok := f.devices[deviceID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("device %d not found", deviceID)
}

func newTestAuthenticator(t *testing.T, optional bool) (*Authenticator, *auth.TokenManager) {
	t.Helper()
	tokens, err := auth.NewTokenManager("test-secret", time.Hour, 0)
	require.NoError(t, err)

	loader := &fakeLoader{
		users: map[int64]*auth.Principal{
			1: {Kind: auth.KindUser, UserID: 1, Username: "ruru"},
		},
		devices: map[int64]*auth.Principal{
			5: {Kind: auth.KindDevice, DeviceID: 5, DeviceName: "trap-cam", GroupID: 2},
		},
	}
	return NewAuthenticator(tokens, loader, optional), tokens
}

func TestAuthenticator(t *testing.T) {
	t.Run("rejects request without authorization header", func(t *testing.T) {
		a, _ := newTestAuthenticator(t, false)
		handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("allows unauthenticated request when optional", func(t *testing.T) {
		a, _ := newTestAuthenticator(t, true)
		called := false
		handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.True(t, called)
	})

	t.Run("attaches user principal for valid JWT header", func(t *testing.T) {
		a, tokens := newTestAuthenticator(t, false)
		token, err := tokens.IssueUserToken(1, "ruru")
		require.NoError(t, err)

		var got *auth.Principal
		handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = auth.PrincipalFromContext(r.Context())
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "JWT "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.NotNil(t, got)
		assert.True(t, got.IsUser())
		assert.Equal(t, int64(1), got.UserID)
	})

	t.Run("attaches device principal for device token", func(t *testing.T) {
		a, tokens := newTestAuthenticator(t, false)
		token, err := tokens.IssueDeviceToken(5, "trap-cam", 2)
		require.NoError(t, err)

		var got *auth.Principal
		handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = auth.PrincipalFromContext(r.Context())
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "JWT "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.NotNil(t, got)
		assert.True(t, got.IsDevice())
		assert.Equal(t, int64(5), got.DeviceID)
	})

	t.Run("rejects token for a principal that no longer exists", func(t *testing.T) {
		a, tokens := newTestAuthenticator(t, false)
		token, err := tokens.IssueDeviceToken(99, "retired-cam", 2)
		require.NoError(t, err)

		handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "JWT "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects malformed scheme", func(t *testing.T) {
		a, _ := newTestAuthenticator(t, false)
		handler := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireHelpers(t *testing.T) {
	userCtx := auth.WithPrincipal(context.Background(), &auth.Principal{Kind: auth.KindUser, UserID: 1})
	deviceCtx := auth.WithPrincipal(context.Background(), &auth.Principal{Kind: auth.KindDevice, DeviceID: 5})

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		mw      func(http.Handler) http.Handler
		ctx     context.Context
		want    int
	}{
		{"RequireUser accepts user", RequireUser, userCtx, http.StatusOK},
		{"RequireUser rejects device", RequireUser, deviceCtx, http.StatusForbidden},
		{"RequireUser rejects anonymous", RequireUser, context.Background(), http.StatusUnauthorized},
		{"RequireDevice accepts device", RequireDevice, deviceCtx, http.StatusOK},
		{"RequireDevice rejects user", RequireDevice, userCtx, http.StatusForbidden},
		{"RequireAny accepts user", RequireAny, userCtx, http.StatusOK},
		{"RequireAny accepts device", RequireAny, deviceCtx, http.StatusOK},
		{"RequireAny rejects anonymous", RequireAny, context.Background(), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil).WithContext(tt.ctx)
			w := httptest.NewRecorder()
			tt.mw(ok).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
