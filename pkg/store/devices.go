package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/api"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

const deviceColumns = "d.id, d.device_name, d.group_id, g.name, d.active, d.last_connection_at, d.created_at, d.updated_at"

func scanDevice(scanner interface {
	Scan(dest ...interface{}) error
}) (*api.Device, error) {
	var d api.Device
	var lastConn sql.NullTime
	err := scanner.Scan(&d.ID, &d.Name, &d.GroupID, &d.GroupName,
		&d.Active, &lastConn, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastConn.Valid {
		d.LastConnectionAt = &lastConn.Time
	}
	return &d, nil
}

// RegisterDevice creates a device row in a single transaction. A name
// already in use among active devices yields a conflict error and no row;
// a missing group yields a not-found error.
func (s *Store) RegisterDevice(ctx context.Context, newDevice *api.NewDevice) (*api.Device, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var groupName string
	err = tx.QueryRowContext(ctx,
		"SELECT name FROM groups WHERE id = $1", newDevice.GroupID,
	).Scan(&groupName)
	if err == sql.ErrNoRows {
		s.observe("register", "device", start, err)
		return nil, api.NewNotFoundError("group %d not found", newDevice.GroupID)
	}
	if err != nil {
		s.observe("register", "device", start, err)
		return nil, fmt.Errorf("failed to check group: %w", err)
	}

	var device api.Device
	err = tx.QueryRowContext(ctx,
		`INSERT INTO devices (device_name, group_id, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, device_name, group_id, active, created_at, updated_at`,
		newDevice.Name, newDevice.GroupID, newDevice.PasswordHash,
	).Scan(&device.ID, &device.Name, &device.GroupID, &device.Active,
		&device.CreatedAt, &device.UpdatedAt)
	if err != nil {
		s.observe("register", "device", start, err)
		if isUniqueViolation(err) {
			return nil, api.NewConflictError("device name %q is already in use", newDevice.Name)
		}
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	device.GroupName = groupName

	if err := tx.Commit(); err != nil {
		s.observe("register", "device", start, err)
		return nil, fmt.Errorf("failed to commit device registration: %w", err)
	}

	s.observe("register", "device", start, nil)
	return &device, nil
}

// ReregisterDevice updates a device's name, group, and credential in
// place, atomically. The id stays stable; callers must re-resolve by id
// since names are not stable across re-registration.
func (s *Store) ReregisterDevice(ctx context.Context, rereg *api.Reregistration) (*api.Device, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var groupName string
	err = tx.QueryRowContext(ctx,
		"SELECT name FROM groups WHERE id = $1", rereg.NewGroupID,
	).Scan(&groupName)
	if err == sql.ErrNoRows {
		s.observe("reregister", "device", start, err)
		return nil, api.NewNotFoundError("group %d not found", rereg.NewGroupID)
	}
	if err != nil {
		s.observe("reregister", "device", start, err)
		return nil, fmt.Errorf("failed to check group: %w", err)
	}

	var device api.Device
	var lastConn sql.NullTime
	err = tx.QueryRowContext(ctx,
		`UPDATE devices
		 SET device_name = $1, group_id = $2, password_hash = $3, updated_at = NOW()
		 WHERE id = $4 AND active
		 RETURNING id, device_name, group_id, active, last_connection_at, created_at, updated_at`,
		rereg.NewName, rereg.NewGroupID, rereg.PasswordHash, rereg.DeviceID,
	).Scan(&device.ID, &device.Name, &device.GroupID, &device.Active,
		&lastConn, &device.CreatedAt, &device.UpdatedAt)
	if err == sql.ErrNoRows {
		s.observe("reregister", "device", start, err)
		return nil, api.NewNotFoundError("device %d not found", rereg.DeviceID)
	}
	if err != nil {
		s.observe("reregister", "device", start, err)
		if isUniqueViolation(err) {
			return nil, api.NewConflictError("device name %q is already in use", rereg.NewName)
		}
		return nil, fmt.Errorf("failed to reregister device: %w", err)
	}
	if lastConn.Valid {
		device.LastConnectionAt = &lastConn.Time
	}
	device.GroupName = groupName

	if err := tx.Commit(); err != nil {
		s.observe("reregister", "device", start, err)
		return nil, fmt.Errorf("failed to commit device reregistration: %w", err)
	}

	s.observe("reregister", "device", start, nil)
	return &device, nil
}

// GetDeviceByID fetches a device by id
func (s *Store) GetDeviceByID(ctx context.Context, id int64) (*api.Device, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+`
		 FROM devices d JOIN groups g ON g.id = d.group_id
		 WHERE d.id = $1`, id)

	device, err := scanDevice(row)
	s.observe("get", "device", start, err)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("device %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// GetActiveDeviceByName fetches the active device with the given name.
// Used for device authentication; deactivated devices never match.
func (s *Store) GetActiveDeviceByName(ctx context.Context, name string) (*api.Device, error) {
	start := time.Now()

	var device api.Device
	var lastConn sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT d.id, d.device_name, d.group_id, g.name, d.active, d.last_connection_at,
		        d.created_at, d.updated_at, d.password_hash
		 FROM devices d JOIN groups g ON g.id = d.group_id
		 WHERE d.device_name = $1 AND d.active`, name,
	).Scan(&device.ID, &device.Name, &device.GroupID, &device.GroupName,
		&device.Active, &lastConn, &device.CreatedAt, &device.UpdatedAt,
		&device.PasswordHash)
	s.observe("get", "device", start, err)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("device %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if lastConn.Valid {
		device.LastConnectionAt = &lastConn.Time
	}
	return &device, nil
}

// QueryDevices returns devices visible to the caller plus a total count.
// Name and group-name sets are combined with the filter's operator.
func (s *Store) QueryDevices(ctx context.Context, authz auth.Authorization, filter api.DeviceFilter) ([]api.Device, int64, error) {
	start := time.Now()
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	where := []string{"d.active"}
	args := []interface{}{}

	visibility, visArgs := deviceVisibility("d", authz, len(args)+1)
	where = append(where, visibility)
	args = append(args, visArgs...)

	var nameClauses []string
	if len(filter.Names) > 0 {
		placeholders := make([]string, len(filter.Names))
		for i, name := range filter.Names {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, name)
		}
		nameClauses = append(nameClauses, fmt.Sprintf("d.device_name IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filter.GroupNames) > 0 {
		placeholders := make([]string, len(filter.GroupNames))
		for i, name := range filter.GroupNames {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, name)
		}
		nameClauses = append(nameClauses, fmt.Sprintf("g.name IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(nameClauses) == 2 && strings.EqualFold(filter.Operator, "or") {
		where = append(where, "("+strings.Join(nameClauses, " OR ")+")")
	} else {
		where = append(where, nameClauses...)
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices d JOIN groups g ON g.id = d.group_id WHERE `+whereClause,
		args...,
	).Scan(&total)
	if err != nil {
		s.observe("query", "device", start, err)
		return nil, 0, fmt.Errorf("failed to count devices: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM devices d JOIN groups g ON g.id = d.group_id
		 WHERE %s
		 ORDER BY d.device_name ASC
		 LIMIT $%d OFFSET $%d`,
		deviceColumns, whereClause, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.observe("query", "device", start, err)
		return nil, 0, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []api.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			s.observe("query", "device", start, err)
			return nil, 0, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		s.observe("query", "device", start, err)
		return nil, 0, fmt.Errorf("failed to iterate devices: %w", err)
	}

	s.observe("query", "device", start, nil)
	return devices, total, nil
}

// ListDeviceUsers returns the users directly associated with a device
func (s *Store) ListDeviceUsers(ctx context.Context, deviceID int64) ([]api.DeviceMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT du.user_id, u.username, du.admin
		 FROM device_users du
		 JOIN users u ON u.id = du.user_id
		 WHERE du.device_id = $1
		 ORDER BY u.username ASC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list device users: %w", err)
	}
	defer rows.Close()

	var members []api.DeviceMember
	for rows.Next() {
		var m api.DeviceMember
		if err := rows.Scan(&m.UserID, &m.Username, &m.IsAdmin); err != nil {
			return nil, fmt.Errorf("failed to scan device member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddUserToDevice creates or updates a direct device association
func (s *Store) AddUserToDevice(ctx context.Context, deviceID, userID int64, admin bool) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_users (device_id, user_id, admin)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (device_id, user_id) DO UPDATE SET admin = EXCLUDED.admin`,
		deviceID, userID, admin,
	)
	s.observe("add_user", "device", start, err)
	if err != nil {
		return fmt.Errorf("failed to add user to device: %w", err)
	}
	return nil
}

// RemoveUserFromDevice deletes a direct device association
func (s *Store) RemoveUserFromDevice(ctx context.Context, deviceID, userID int64) error {
	start := time.Now()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM device_users WHERE device_id = $1 AND user_id = $2",
		deviceID, userID,
	)
	s.observe("remove_user", "device", start, err)
	if err != nil {
		return fmt.Errorf("failed to remove user from device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("user %d is not associated with device %d", userID, deviceID)
	}
	return nil
}

// TouchDeviceConnection records the time a device last called in
func (s *Store) TouchDeviceConnection(ctx context.Context, deviceID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE devices SET last_connection_at = NOW() WHERE id = $1", deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device connection time: %w", err)
	}
	return nil
}
