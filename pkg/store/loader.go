package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

// LoadUserPrincipal resolves a verified user token against the current
// users table. A token for a deleted account is rejected.
func (s *Store) LoadUserPrincipal(ctx context.Context, userID int64) (*auth.Principal, error) {
	start := time.Now()

	var username string
	err := s.db.QueryRowContext(ctx,
		"SELECT username FROM users WHERE id = $1", userID,
	).Scan(&username)
	s.observe("load_principal", "user", start, err)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d no longer exists", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user principal: %w", err)
	}

	return &auth.Principal{
		Kind:     auth.KindUser,
		UserID:   userID,
		Username: username,
	}, nil
}

// LoadDevicePrincipal resolves a verified device token against the
// current devices table. The token binds only the device id, so a token
// issued before a re-registration keeps authenticating and picks up the
// row's current name and group. The active filter rejects tokens for
// devices an operator has decommissioned; the API itself never clears
// the flag.
func (s *Store) LoadDevicePrincipal(ctx context.Context, deviceID int64) (*auth.Principal, error) {
	start := time.Now()

	var deviceName string
	var groupID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT device_name, group_id FROM devices WHERE id = $1 AND active",
		deviceID,
	).Scan(&deviceName, &groupID)
	s.observe("load_principal", "device", start, err)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("device %d is not an active registration", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device principal: %w", err)
	}

	return &auth.Principal{
		Kind:       auth.KindDevice,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		GroupID:    groupID,
	}, nil
}
