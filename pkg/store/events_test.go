package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacophony-project/cacophony-api/pkg/api"
)

func TestGetOrCreateDetailSnapshot(t *testing.T) {
	details := json.RawMessage(`{"recordingId": 42}`)

	t.Run("upserts and caches", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO detail_snapshots")).
			WithArgs("alert", []byte(details)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "type", "details"}).
				AddRow(11, "alert", []byte(details)))

		snapshot, err := store.GetOrCreateDetailSnapshot(context.Background(), "alert", details)
		require.NoError(t, err)
		assert.Equal(t, int64(11), snapshot.ID)

		// second call for the same payload is served from the cache; no
		// further query is expected on the mock
		cached, err := store.GetOrCreateDetailSnapshot(context.Background(), "alert", details)
		require.NoError(t, err)
		assert.Equal(t, int64(11), cached.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil details default to empty object", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO detail_snapshots")).
			WithArgs("powerOn", []byte("{}")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "type", "details"}).
				AddRow(12, "powerOn", []byte("{}")))

		snapshot, err := store.GetOrCreateDetailSnapshot(context.Background(), "powerOn", nil)
		require.NoError(t, err)
		assert.JSONEq(t, "{}", string(snapshot.Details))
	})
}

func TestAddEvents(t *testing.T) {
	t.Run("one row per timestamp", func(t *testing.T) {
		store, mock := newMockStore(t)
		t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		t2 := t1.Add(time.Minute)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events (device_id, detail_snapshot_id, timestamp) VALUES ($1, $2, $3), ($1, $2, $4)")).
			WithArgs(int64(5), int64(11), t1, t2).
			WillReturnResult(sqlmock.NewResult(0, 2))

		created, err := store.AddEvents(context.Background(), 5, 11, []time.Time{t1, t2})
		require.NoError(t, err)
		assert.Equal(t, 2, created)
	})

	t.Run("no timestamps is a validation error", func(t *testing.T) {
		store, _ := newMockStore(t)

		_, err := store.AddEvents(context.Background(), 5, 11, nil)
		var validation *api.ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}
