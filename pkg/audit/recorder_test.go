package audit

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRecorder(db, logger), mock
}

func TestRecorder_Write(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r, mock := newMockRecorder(t)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
			WithArgs(ActorUser, int64(1), ActionGroupUserAdd, "group", int64(2), []byte(`{"target":3}`)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := r.Write(context.Background(), Entry{
			ActorType:    ActorUser,
			ActorID:      1,
			Action:       ActionGroupUserAdd,
			ResourceType: "group",
			ResourceID:   2,
			Details:      []byte(`{"target":3}`),
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults empty details to an object", func(t *testing.T) {
		r, mock := newMockRecorder(t)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
			WithArgs(ActorDevice, int64(5), ActionDeviceReregister, "device", int64(5), []byte(`{}`)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := r.Write(context.Background(), Entry{
			ActorType:    ActorDevice,
			ActorID:      5,
			Action:       ActionDeviceReregister,
			ResourceType: "device",
			ResourceID:   5,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		r, mock := newMockRecorder(t)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
			WillReturnError(assert.AnError)

		err := r.Write(context.Background(), Entry{
			ActorType: ActorUser,
			ActorID:   1,
			Action:    ActionGroupCreate,
		})
		assert.Error(t, err)
	})
}

func TestRecorder_Search(t *testing.T) {
	t.Run("with action filter", func(t *testing.T) {
		r, mock := newMockRecorder(t)

		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "actor_type", "actor_id", "action", "resource_type", "resource_id", "details", "created_at"}).
			AddRow(1, "user", 1, "group.create", "group", 2, []byte(`{}`), now)

		mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log WHERE action = $1")).
			WithArgs(ActionGroupCreate).
			WillReturnRows(rows)

		entries, err := r.Search(context.Background(), ActionGroupCreate, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ActionGroupCreate, entries[0].Action)
		assert.Equal(t, int64(2), entries[0].ResourceID)
	})

	t.Run("scan error", func(t *testing.T) {
		r, mock := newMockRecorder(t)

		rows := sqlmock.NewRows([]string{"id"}).AddRow("bad")
		mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log")).WillReturnRows(rows)

		_, err := r.Search(context.Background(), "", 10)
		assert.Error(t, err)
	})
}

func TestRecorder_Cleanup(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log WHERE created_at < $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := r.Cleanup(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
