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

// CreateGroup creates a group and makes the creator an admin member, in
// one transaction. An existing name yields a conflict error.
func (s *Store) CreateGroup(ctx context.Context, name string, creatorID int64) (*api.Group, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var group api.Group
	err = tx.QueryRowContext(ctx,
		`INSERT INTO groups (name) VALUES ($1)
		 RETURNING id, name, created_at, updated_at`,
		name,
	).Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		s.observe("create", "group", start, err)
		if isUniqueViolation(err) {
			return nil, api.NewConflictError("group name %q is already in use", name)
		}
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO group_users (group_id, user_id, admin) VALUES ($1, $2, TRUE)",
		group.ID, creatorID,
	); err != nil {
		s.observe("create", "group", start, err)
		return nil, fmt.Errorf("failed to add group creator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.observe("create", "group", start, err)
		return nil, fmt.Errorf("failed to commit group creation: %w", err)
	}

	s.observe("create", "group", start, nil)
	return &group, nil
}

// GetGroupByName fetches a group by its unique name
func (s *Store) GetGroupByName(ctx context.Context, name string) (*api.Group, error) {
	start := time.Now()

	var group api.Group
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM groups WHERE name = $1",
		name,
	).Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt)
	s.observe("get", "group", start, err)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("group %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// QueryGroups returns groups visible to the caller plus a total count.
// Each group's member list is enriched with per-user admin flags in a
// second pass.
func (s *Store) QueryGroups(ctx context.Context, authz auth.Authorization, filter api.GroupFilter) ([]api.GroupWithMembers, int64, error) {
	start := time.Now()
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	where := []string{}
	args := []interface{}{}

	visibility, visArgs := groupVisibility("g", authz, len(args)+1)
	where = append(where, visibility)
	args = append(args, visArgs...)

	if len(filter.Names) > 0 {
		placeholders := make([]string, len(filter.Names))
		for i, name := range filter.Names {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, name)
		}
		where = append(where, fmt.Sprintf("g.name IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM groups g WHERE "+whereClause, args...,
	).Scan(&total)
	if err != nil {
		s.observe("query", "group", start, err)
		return nil, 0, fmt.Errorf("failed to count groups: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT g.id, g.name, g.created_at, g.updated_at
		 FROM groups g
		 WHERE %s
		 ORDER BY g.name ASC
		 LIMIT $%d OFFSET $%d`,
		whereClause, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.observe("query", "group", start, err)
		return nil, 0, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []api.GroupWithMembers
	for rows.Next() {
		var g api.GroupWithMembers
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt, &g.UpdatedAt); err != nil {
			s.observe("query", "group", start, err)
			return nil, 0, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		s.observe("query", "group", start, err)
		return nil, 0, fmt.Errorf("failed to iterate groups: %w", err)
	}

	// enrichment pass: attach member lists with admin flags
	for i := range groups {
		members, err := s.ListGroupUsers(ctx, groups[i].ID)
		if err != nil {
			s.observe("query", "group", start, err)
			return nil, 0, err
		}
		groups[i].Members = members
	}

	s.observe("query", "group", start, nil)
	return groups, total, nil
}

// ListGroupUsers returns a group's members with their admin flags
func (s *Store) ListGroupUsers(ctx context.Context, groupID int64) ([]api.GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gu.user_id, u.username, gu.admin
		 FROM group_users gu
		 JOIN users u ON u.id = gu.user_id
		 WHERE gu.group_id = $1
		 ORDER BY u.username ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list group users: %w", err)
	}
	defer rows.Close()

	var members []api.GroupMember
	for rows.Next() {
		var m api.GroupMember
		if err := rows.Scan(&m.UserID, &m.Username, &m.IsAdmin); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddUserToGroup creates or updates a membership row
func (s *Store) AddUserToGroup(ctx context.Context, groupID, userID int64, admin bool) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_users (group_id, user_id, admin)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (group_id, user_id) DO UPDATE SET admin = EXCLUDED.admin`,
		groupID, userID, admin,
	)
	s.observe("add_user", "group", start, err)
	if err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}
	return nil
}

// RemoveUserFromGroup deletes a membership row. Removing a user who is
// not a member is a not-found error.
func (s *Store) RemoveUserFromGroup(ctx context.Context, groupID, userID int64) error {
	start := time.Now()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM group_users WHERE group_id = $1 AND user_id = $2",
		groupID, userID,
	)
	s.observe("remove_user", "group", start, err)
	if err != nil {
		return fmt.Errorf("failed to remove user from group: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("user %d is not a member of group %d", userID, groupID)
	}
	return nil
}
