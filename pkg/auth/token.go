package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a malformed, forged, or expired token
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingToken indicates no credential was supplied
	ErrMissingToken = errors.New("missing token")
)

// Claims are the JWT claims carried by issued tokens. The _type claim
// distinguishes user tokens from device tokens.
type Claims struct {
	Type       string `json:"_type"`
	ID         int64  `json:"id"`
	Username   string `json:"username,omitempty"`
	DeviceName string `json:"devicename,omitempty"`
	GroupID    int64  `json:"groupId,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256-signed tokens
type TokenManager struct {
	secret         []byte
	userTokenTTL   time.Duration
	deviceTokenTTL time.Duration
}

// NewTokenManager creates a token manager. A zero device TTL issues
// device tokens without an expiry claim.
func NewTokenManager(secret string, userTokenTTL, deviceTokenTTL time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &TokenManager{
		secret:         []byte(secret),
		userTokenTTL:   userTokenTTL,
		deviceTokenTTL: deviceTokenTTL,
	}, nil
}

// IssueUserToken creates a signed token for an authenticated user
func (m *TokenManager) IssueUserToken(userID int64, username string) (string, error) {
	claims := Claims{
		Type:     string(KindUser),
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if m.userTokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(m.userTokenTTL))
	}
	return m.sign(claims)
}

// IssueDeviceToken creates a signed token for a registered device. Only
// the device id binds the token to a row; the name and group claims are
// informational, and the effective identity is re-resolved from the
// devices table on every request.
func (m *TokenManager) IssueDeviceToken(deviceID int64, deviceName string, groupID int64) (string, error) {
	claims := Claims{
		Type:       string(KindDevice),
		ID:         deviceID,
		DeviceName: deviceName,
		GroupID:    groupID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if m.deviceTokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(m.deviceTokenTTL))
	}
	return m.sign(claims)
}

func (m *TokenManager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a signed token and returns its claims
func (m *TokenManager) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != string(KindUser) && claims.Type != string(KindDevice) {
		return nil, fmt.Errorf("%w: unknown token type %q", ErrInvalidToken, claims.Type)
	}
	if claims.ID <= 0 {
		return nil, fmt.Errorf("%w: missing subject id", ErrInvalidToken)
	}
	return claims, nil
}

// ExtractToken pulls the raw token out of an Authorization header value.
// Both the "JWT " scheme and the conventional "Bearer " scheme are
// accepted.
func ExtractToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	for _, scheme := range []string{"JWT ", "Bearer "} {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			token := strings.TrimSpace(header[len(scheme):])
			if token == "" {
				return "", ErrMissingToken
			}
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidToken)
}
