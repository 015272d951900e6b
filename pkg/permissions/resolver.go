package permissions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

// Resolver computes effective access from association rows
type Resolver struct {
	db *sql.DB
}

// NewResolver creates a permission resolver over a database handle
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Authorize resolves a user's global flags into an Authorization value.
// Handlers resolve this once per request and pass it down.
func (r *Resolver) Authorize(ctx context.Context, userID int64) (auth.Authorization, error) {
	var globalRead, globalWrite bool
	err := r.db.QueryRowContext(ctx,
		"SELECT global_read, global_write FROM users WHERE id = $1",
		userID,
	).Scan(&globalRead, &globalWrite)
	if err == sql.ErrNoRows {
		return auth.Authorization{}, fmt.Errorf("user %d not found", userID)
	}
	if err != nil {
		return auth.Authorization{}, fmt.Errorf("failed to resolve authorization: %w", err)
	}
	return auth.Authorization{
		UserID:      userID,
		GlobalRead:  globalRead,
		GlobalWrite: globalWrite,
	}, nil
}

// GroupAccess returns the user's standing on a group. Global-write
// holders are treated as admins everywhere; global-read grants at least
// member-level visibility.
func (r *Resolver) GroupAccess(ctx context.Context, authz auth.Authorization, groupID int64) (AccessLevel, error) {
	if authz.GlobalWrite {
		return Admin, nil
	}

	var admin bool
	err := r.db.QueryRowContext(ctx,
		"SELECT admin FROM group_users WHERE group_id = $1 AND user_id = $2",
		groupID, authz.UserID,
	).Scan(&admin)
	if err == sql.ErrNoRows {
		if authz.GlobalRead {
			return Member, nil
		}
		return NoAccess, nil
	}
	if err != nil {
		return NoAccess, fmt.Errorf("failed to look up group membership: %w", err)
	}
	if admin {
		return Admin, nil
	}
	return Member, nil
}

// DeviceAccess returns the user's standing on a device, considering both
// direct device associations and membership in the device's group.
func (r *Resolver) DeviceAccess(ctx context.Context, authz auth.Authorization, deviceID int64) (AccessLevel, error) {
	if authz.GlobalWrite {
		return Admin, nil
	}

	var admin bool
	err := r.db.QueryRowContext(ctx,
		"SELECT admin FROM device_users WHERE device_id = $1 AND user_id = $2",
		deviceID, authz.UserID,
	).Scan(&admin)
	if err == nil {
		if admin {
			return Admin, nil
		}
		return Member, nil
	}
	if err != sql.ErrNoRows {
		return NoAccess, fmt.Errorf("failed to look up device association: %w", err)
	}

	// No direct association: fall back to the owning group's membership
	err = r.db.QueryRowContext(ctx,
		`SELECT gu.admin
		 FROM group_users gu
		 JOIN devices d ON d.group_id = gu.group_id
		 WHERE d.id = $1 AND gu.user_id = $2`,
		deviceID, authz.UserID,
	).Scan(&admin)
	if err == sql.ErrNoRows {
		if authz.GlobalRead {
			return Member, nil
		}
		return NoAccess, nil
	}
	if err != nil {
		return NoAccess, fmt.Errorf("failed to look up group membership for device: %w", err)
	}
	if admin {
		return Admin, nil
	}
	return Member, nil
}

// GroupCapabilities returns the membership-management capability set for
// a user on a group. Absence of permission is not an error; it yields an
// all-false set that callers turn into an authorization failure.
func (r *Resolver) GroupCapabilities(ctx context.Context, authz auth.Authorization, groupID int64) (Capabilities, error) {
	level, err := r.GroupAccess(ctx, authz, groupID)
	if err != nil {
		return NoCapabilities(), err
	}
	if level == Admin {
		return AllCapabilities(), nil
	}
	return NoCapabilities(), nil
}

// DeviceCapabilities returns the membership-management capability set for
// a user on a device.
func (r *Resolver) DeviceCapabilities(ctx context.Context, authz auth.Authorization, deviceID int64) (Capabilities, error) {
	level, err := r.DeviceAccess(ctx, authz, deviceID)
	if err != nil {
		return NoCapabilities(), err
	}
	if level == Admin {
		return AllCapabilities(), nil
	}
	return NoCapabilities(), nil
}
