//go:build integration

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cacophony-project/cacophony-api/pkg/api"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/config"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
	"github.com/cacophony-project/cacophony-api/pkg/permissions"
	"github.com/cacophony-project/cacophony-api/pkg/reconcile"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "cacophony",
			"POSTGRES_PASSWORD": "cacophony",
			"POSTGRES_DB":       "cacophony_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		URL:             fmt.Sprintf("postgres://cacophony:cacophony@%s:%s/cacophony_test?sslmode=disable", host, port.Port()),
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  30 * time.Second,
	}

	store, err := NewStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, RunMigrations(ctx, store.DB(), logger))
	return store
}

func TestStore_Integration(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	resolver := permissions.NewResolver(store.DB())

	alice, err := store.CreateUser(ctx, &api.NewUser{Username: "alice", PasswordHash: []byte("hash-a")})
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, &api.NewUser{Username: "bob", PasswordHash: []byte("hash-b")})
	require.NoError(t, err)

	group, err := store.CreateGroup(ctx, "possum-survey", alice.ID)
	require.NoError(t, err)

	aliceAuthz, err := resolver.Authorize(ctx, alice.ID)
	require.NoError(t, err)
	bobAuthz, err := resolver.Authorize(ctx, bob.ID)
	require.NoError(t, err)

	t.Run("group creator becomes admin", func(t *testing.T) {
		members, err := store.ListGroupUsers(ctx, group.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "alice", members[0].Username)
		assert.True(t, members[0].IsAdmin)

		caps, err := resolver.GroupCapabilities(ctx, aliceAuthz, group.ID)
		require.NoError(t, err)
		assert.True(t, caps.CanAddUsers)
		assert.True(t, caps.CanAddStations)
	})

	t.Run("duplicate group name conflicts", func(t *testing.T) {
		_, err := store.CreateGroup(ctx, "possum-survey", alice.ID)
		var conflict *api.ConflictError
		require.ErrorAs(t, err, &conflict)
	})

	device, err := store.RegisterDevice(ctx, &api.NewDevice{
		Name:         "trap-01",
		GroupID:      group.ID,
		PasswordHash: []byte("device-hash"),
	})
	require.NoError(t, err)

	t.Run("membership scopes device visibility", func(t *testing.T) {
		visible, total, err := store.QueryDevices(ctx, aliceAuthz, api.DeviceFilter{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, visible, 1)
		assert.Equal(t, "trap-01", visible[0].Name)
		assert.Equal(t, "possum-survey", visible[0].GroupName)

		_, total, err = store.QueryDevices(ctx, bobAuthz, api.DeviceFilter{Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("reregistration updates the identity in place", func(t *testing.T) {
		updated, err := store.ReregisterDevice(ctx, &api.Reregistration{
			DeviceID:     device.ID,
			NewName:      "trap-01b",
			NewGroupID:   group.ID,
			PasswordHash: []byte("new-hash"),
		})
		require.NoError(t, err)
		assert.Equal(t, device.ID, updated.ID, "id is the stable identifier")
		assert.True(t, updated.Active)
		assert.Equal(t, "trap-01b", updated.Name)

		// Tokens bind the id, so the principal for the original id now
		// resolves to the updated identity.
		principal, err := store.LoadDevicePrincipal(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, "trap-01b", principal.DeviceName)
		assert.Equal(t, group.ID, principal.GroupID)

		// The old name is freed for reuse.
		_, err = store.GetActiveDeviceByName(ctx, "trap-01")
		var notFound *api.NotFoundError
		require.ErrorAs(t, err, &notFound)

		active, err := store.GetActiveDeviceByName(ctx, "trap-01b")
		require.NoError(t, err)
		assert.Equal(t, device.ID, active.ID)

		device = updated
	})

	t.Run("events deduplicate detail snapshots", func(t *testing.T) {
		details := json.RawMessage(`{"battery": 71}`)
		first, err := store.GetOrCreateDetailSnapshot(ctx, "systemStatus", details)
		require.NoError(t, err)
		second, err := store.GetOrCreateDetailSnapshot(ctx, "systemStatus", details)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		added, err := store.AddEvents(ctx, device.ID, first.ID, []time.Time{
			time.Now().Add(-2 * time.Hour),
			time.Now().Add(-1 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, added)

		events, total, err := store.QueryEvents(ctx, aliceAuthz, api.EventFilter{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.NotEmpty(t, events)
		assert.Equal(t, "systemStatus", events[0].Type)

		_, total, err = store.QueryEvents(ctx, bobAuthz, api.EventFilter{Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("station import plan round trip", func(t *testing.T) {
		logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
		applier := reconcile.NewApplier(store.DB(), logger)

		plan := reconcile.BuildPlan(nil, []reconcile.StationSpec{
			{Name: "north-ridge", Lat: -43.53, Lng: 172.62},
			{Name: "south-creek", Lat: -43.55, Lng: 172.60},
		})
		outcome, err := applier.Apply(ctx, group.ID, plan, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, outcome.Created)

		stations, err := store.ListStations(ctx, group.ID, false)
		require.NoError(t, err)
		require.Len(t, stations, 2)

		current := make([]reconcile.Station, 0, len(stations))
		for _, s := range stations {
			current = append(current, reconcile.Station{
				ID: s.ID, Name: s.Name, Lat: s.Lat, Lng: s.Lng, Retired: s.Retired(),
			})
		}
		plan = reconcile.BuildPlan(current, []reconcile.StationSpec{
			{Name: "north-ridge", Lat: -43.54, Lng: 172.62},
		})
		outcome, err = applier.Apply(ctx, group.ID, plan, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Updated)
		assert.Equal(t, 1, outcome.Retired)

		active, err := store.ListStations(ctx, group.ID, false)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "north-ridge", active[0].Name)
		assert.Equal(t, -43.54, active[0].Lat)

		all, err := store.ListStations(ctx, group.ID, true)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("recording access follows membership", func(t *testing.T) {
		created, err := store.CreateRecording(ctx, &api.NewRecording{
			DeviceID:        device.ID,
			ObjectKey:       "recordings/2024/05/01/test-object",
			DurationSeconds: 61.5,
			RecordedAt:      time.Now().Add(-30 * time.Minute),
			SizeBytes:       2048,
			MimeType:        "audio/mpeg",
		})
		require.NoError(t, err)

		got, err := store.GetRecording(ctx, aliceAuthz, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ObjectKey, got.ObjectKey)

		_, err = store.GetRecording(ctx, bobAuthz, created.ID)
		var notFound *api.NotFoundError
		require.ErrorAs(t, err, &notFound, "non-members must not learn the recording exists")

		_, total, err := store.QueryRecordings(ctx, bobAuthz, api.RecordingFilter{Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}
