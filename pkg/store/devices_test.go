package store

import (
	"context"
	"database/sql"
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

func TestRegisterDevice(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM groups WHERE id = $1")).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("possums"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO devices")).
			WithArgs("trap-01", int64(3), []byte("hash")).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "device_name", "group_id", "active", "created_at", "updated_at",
			}).AddRow(5, "trap-01", 3, true, now, now))
		mock.ExpectCommit()

		device, err := store.RegisterDevice(context.Background(), &api.NewDevice{
			Name:         "trap-01",
			GroupID:      3,
			PasswordHash: []byte("hash"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), device.ID)
		assert.Equal(t, "possums", device.GroupName)
		assert.True(t, device.Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing group is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM groups WHERE id = $1")).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.RegisterDevice(context.Background(), &api.NewDevice{
			Name: "trap-01", GroupID: 99, PasswordHash: []byte("hash"),
		})
		var notFound *api.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("duplicate active name is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM groups WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("possums"))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO devices")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.RegisterDevice(context.Background(), &api.NewDevice{
			Name: "trap-01", GroupID: 3, PasswordHash: []byte("hash"),
		})
		var conflict *api.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Contains(t, conflict.Error(), "trap-01")
	})
}

func TestReregisterDevice(t *testing.T) {
	t.Run("updates identity in place", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM groups WHERE id = $1")).
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("stoats"))
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE devices")).
			WithArgs("trap-02", int64(4), []byte("newhash"), int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "device_name", "group_id", "active",
				"last_connection_at", "created_at", "updated_at",
			}).AddRow(5, "trap-02", 4, true, nil, now, now))
		mock.ExpectCommit()

		device, err := store.ReregisterDevice(context.Background(), &api.Reregistration{
			DeviceID:     5,
			NewName:      "trap-02",
			NewGroupID:   4,
			PasswordHash: []byte("newhash"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), device.ID)
		assert.Equal(t, "trap-02", device.Name)
		assert.Equal(t, "stoats", device.GroupName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive device is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM groups WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("stoats"))
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE devices")).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.ReregisterDevice(context.Background(), &api.Reregistration{
			DeviceID: 5, NewName: "trap-02", NewGroupID: 4, PasswordHash: []byte("h"),
		})
		var notFound *api.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("name taken in target group is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM groups WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("stoats"))
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE devices")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.ReregisterDevice(context.Background(), &api.Reregistration{
			DeviceID: 5, NewName: "trap-02", NewGroupID: 4, PasswordHash: []byte("h"),
		})
		var conflict *api.ConflictError
		assert.ErrorAs(t, err, &conflict)
	})
}

func TestQueryDevices(t *testing.T) {
	deviceRows := func() *sqlmock.Rows {
		now := time.Now()
		return sqlmock.NewRows([]string{
			"id", "device_name", "group_id", "name", "active",
			"last_connection_at", "created_at", "updated_at",
		}).AddRow(1, "trap-01", 3, "possums", true, nil, now, now)
	}

	t.Run("global read skips visibility predicate", func(t *testing.T) {
		store, mock := newMockStore(t)
		authz := auth.Authorization{UserID: 1, GlobalRead: true}

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM devices d")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY d.device_name ASC")).
			WithArgs(100, 0).
			WillReturnRows(deviceRows())

		devices, total, err := store.QueryDevices(context.Background(), authz, api.DeviceFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, devices, 1)
		assert.Equal(t, "trap-01", devices[0].Name)
	})

	t.Run("plain member carries visibility args", func(t *testing.T) {
		store, mock := newMockStore(t)
		authz := auth.Authorization{UserID: 9}

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM devices d")).
			WithArgs(int64(9), int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY d.device_name ASC")).
			WithArgs(int64(9), int64(9), 100, 0).
			WillReturnRows(deviceRows())

		_, total, err := store.QueryDevices(context.Background(), authz, api.DeviceFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("name and group filters combined with or", func(t *testing.T) {
		store, mock := newMockStore(t)
		authz := auth.Authorization{UserID: 1, GlobalRead: true}

		mock.ExpectQuery(regexp.QuoteMeta("(d.device_name IN ($1) OR g.name IN ($2))")).
			WithArgs("trap-01", "possums").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY d.device_name ASC")).
			WithArgs("trap-01", "possums", 100, 0).
			WillReturnRows(deviceRows())

		_, _, err := store.QueryDevices(context.Background(), authz, api.DeviceFilter{
			Names:      []string{"trap-01"},
			GroupNames: []string{"possums"},
			Operator:   "or",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRemoveUserFromDevice(t *testing.T) {
	t.Run("missing association is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM device_users")).
			WithArgs(int64(5), int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.RemoveUserFromDevice(context.Background(), 5, 9)
		var notFound *api.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}
