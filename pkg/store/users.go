package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/api"
)

const userColumns = "id, username, COALESCE(email, ''), password_hash, global_read, global_write, created_at, updated_at"

func scanUser(row *sql.Row) (*api.User, error) {
	var u api.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.GlobalRead, &u.GlobalWrite, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser registers a new user account. A duplicate username yields a
// conflict error and no row.
func (s *Store) CreateUser(ctx context.Context, newUser *api.NewUser) (*api.User, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		newUser.Username, newUser.Email, newUser.PasswordHash,
	)

	user, err := scanUser(row)
	s.observe("create", "user", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, api.NewConflictError("username %q is already in use", newUser.Username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByID fetches a user by id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*api.User, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)

	user, err := scanUser(row)
	s.observe("get", "user", start, err)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByName fetches a user by username
func (s *Store) GetUserByName(ctx context.Context, username string) (*api.User, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username)

	user, err := scanUser(row)
	s.observe("get", "user", start, err)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("user %q not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
