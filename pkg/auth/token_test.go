package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("test-secret", time.Hour, 0)
	require.NoError(t, err)
	return m
}

func TestNewTokenManager(t *testing.T) {
	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := NewTokenManager("", time.Hour, 0)
		assert.Error(t, err)
	})

	t.Run("accepts valid secret", func(t *testing.T) {
		m, err := NewTokenManager("secret", time.Hour, 0)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})
}

func TestUserTokenRoundTrip(t *testing.T) {
	m := newTestTokenManager(t)

	token, err := m.IssueUserToken(42, "kakapo")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user", claims.Type)
	assert.Equal(t, int64(42), claims.ID)
	assert.Equal(t, "kakapo", claims.Username)
	assert.NotNil(t, claims.ExpiresAt)
}

func TestDeviceTokenRoundTrip(t *testing.T) {
	m := newTestTokenManager(t)

	token, err := m.IssueDeviceToken(7, "trap-cam-01", 3)
	require.NoError(t, err)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "device", claims.Type)
	assert.Equal(t, int64(7), claims.ID)
	assert.Equal(t, "trap-cam-01", claims.DeviceName)
	assert.Equal(t, int64(3), claims.GroupID)
	// device tokens have no expiry by default
	assert.Nil(t, claims.ExpiresAt)
}

func TestVerifyToken(t *testing.T) {
	m := newTestTokenManager(t)

	t.Run("rejects empty token", func(t *testing.T) {
		_, err := m.VerifyToken("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := m.VerifyToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects token signed with different secret", func(t *testing.T) {
		other, err := NewTokenManager("other-secret", time.Hour, 0)
		require.NoError(t, err)

		token, err := other.IssueUserToken(1, "intruder")
		require.NoError(t, err)

		_, err = m.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		short, err := NewTokenManager("test-secret", -time.Minute, 0)
		require.NoError(t, err)

		token, err := short.IssueUserToken(1, "late")
		require.NoError(t, err)

		_, err = m.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"JWT scheme", "JWT abc.def.ghi", "abc.def.ghi", false},
		{"Bearer scheme", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"case insensitive scheme", "jwt abc.def.ghi", "abc.def.ghi", false},
		{"empty header", "", "", true},
		{"scheme without token", "JWT ", "", true},
		{"unknown scheme", "Basic dXNlcjpwYXNz", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPasswordPolicy(t *testing.T) {
	policy := NewPasswordPolicy(8)

	t.Run("rejects short password", func(t *testing.T) {
		_, err := policy.Hash("short")
		assert.Error(t, err)
	})

	t.Run("hash and compare round trip", func(t *testing.T) {
		hash, err := policy.Hash("correct horse battery")
		require.NoError(t, err)

		assert.NoError(t, policy.Compare(hash, "correct horse battery"))
		assert.ErrorIs(t, policy.Compare(hash, "wrong password!!"), ErrWrongPassword)
	})
}
