package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacophony-project/cacophony-api/pkg/api"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

func TestCreateGroup(t *testing.T) {
	t.Run("creator becomes admin in same transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO groups (name) VALUES ($1)")).
			WithArgs("possums").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
				AddRow(3, "possums", now, now))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO group_users")).
			WithArgs(int64(3), int64(1)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		group, err := store.CreateGroup(context.Background(), "possums", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), group.ID)
		assert.Equal(t, "possums", group.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate name is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO groups")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.CreateGroup(context.Background(), "possums", 1)
		var conflict *api.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Contains(t, conflict.Error(), "possums")
	})
}

func TestQueryGroups(t *testing.T) {
	t.Run("enriches member lists", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()
		authz := auth.Authorization{UserID: 1, GlobalRead: true}

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM groups g")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY g.name ASC")).
			WithArgs(100, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
				AddRow(3, "possums", now, now))
		mock.ExpectQuery(regexp.QuoteMeta("FROM group_users gu")).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "username", "admin"}).
				AddRow(1, "kea", true).
				AddRow(2, "ruru", false))

		groups, total, err := store.QueryGroups(context.Background(), authz, api.GroupFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, groups, 1)
		require.Len(t, groups[0].Members, 2)
		assert.True(t, groups[0].Members[0].IsAdmin)
		assert.Equal(t, "ruru", groups[0].Members[1].Username)
	})

	t.Run("member query scoped by user id", func(t *testing.T) {
		store, mock := newMockStore(t)
		authz := auth.Authorization{UserID: 9}

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM groups g")).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY g.name ASC")).
			WithArgs(int64(9), 100, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}))

		groups, total, err := store.QueryGroups(context.Background(), authz, api.GroupFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, groups)
	})
}

func TestGroupMembership(t *testing.T) {
	t.Run("add upserts admin flag", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (group_id, user_id) DO UPDATE SET admin = EXCLUDED.admin")).
			WithArgs(int64(3), int64(2), true).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := store.AddUserToGroup(context.Background(), 3, 2, true)
		assert.NoError(t, err)
	})

	t.Run("remove of non-member is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM group_users")).
			WithArgs(int64(3), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.RemoveUserFromGroup(context.Background(), 3, 2)
		var notFound *api.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}
