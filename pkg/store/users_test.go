package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacophony-project/cacophony-api/pkg/api"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(db, nil), mock
}

func userRow(id int64, username string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash",
		"global_read", "global_write", "created_at", "updated_at",
	}).AddRow(id, username, "", []byte("hash"), false, false, now, now)
}

func TestCreateUser(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WithArgs("kea", "kea@example.org", []byte("hash")).
			WillReturnRows(userRow(1, "kea"))

		user, err := store.CreateUser(context.Background(), &api.NewUser{
			Username:     "kea",
			Email:        "kea@example.org",
			PasswordHash: []byte("hash"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		assert.Equal(t, "kea", user.Username)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := store.CreateUser(context.Background(), &api.NewUser{
			Username:     "kea",
			PasswordHash: []byte("hash"),
		})
		var conflict *api.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Contains(t, conflict.Error(), "kea")
	})
}

func TestGetUser(t *testing.T) {
	t.Run("by id", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(int64(7)).
			WillReturnRows(userRow(7, "ruru"))

		user, err := store.GetUserByID(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, "ruru", user.Username)
	})

	t.Run("by name", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
			WithArgs("ruru").
			WillReturnRows(userRow(7, "ruru"))

		user, err := store.GetUserByName(context.Background(), "ruru")
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetUserByID(context.Background(), 99)
		var notFound *api.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetUserByID(context.Background(), 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get user")
	})
}
