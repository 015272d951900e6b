package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					password_hash BYTEA NOT NULL,
					global_read BOOLEAN NOT NULL DEFAULT FALSE,
					global_write BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_username ON users(username);
			`,
		},
		{
			Version:     2,
			Description: "Create groups and group_users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS group_users (
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (group_id, user_id)
				);

				CREATE INDEX idx_group_users_user_id ON group_users(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create devices and device_users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS devices (
					id BIGSERIAL PRIMARY KEY,
					device_name VARCHAR(255) NOT NULL,
					group_id BIGINT NOT NULL REFERENCES groups(id),
					password_hash BYTEA NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					last_connection_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_devices_active_name ON devices(device_name) WHERE active;
				CREATE INDEX idx_devices_group_id ON devices(group_id);

				CREATE TABLE IF NOT EXISTS device_users (
					device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (device_id, user_id)
				);

				CREATE INDEX idx_device_users_user_id ON device_users(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create stations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS stations (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					lat DOUBLE PRECISION NOT NULL,
					lng DOUBLE PRECISION NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					retired_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX idx_stations_group_active_name ON stations(group_id, name) WHERE retired_at IS NULL;
				CREATE INDEX idx_stations_group_id ON stations(group_id);
			`,
		},
		{
			Version:     5,
			Description: "Create detail_snapshots and events tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS detail_snapshots (
					id BIGSERIAL PRIMARY KEY,
					type VARCHAR(255) NOT NULL,
					details JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (type, details)
				);

				CREATE TABLE IF NOT EXISTS events (
					id BIGSERIAL PRIMARY KEY,
					device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
					detail_snapshot_id BIGINT NOT NULL REFERENCES detail_snapshots(id),
					timestamp TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_events_device_id ON events(device_id);
				CREATE INDEX idx_events_timestamp ON events(timestamp);
			`,
		},
		{
			Version:     6,
			Description: "Create recordings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS recordings (
					id BIGSERIAL PRIMARY KEY,
					device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
					station_id BIGINT REFERENCES stations(id) ON DELETE SET NULL,
					object_key VARCHAR(255) NOT NULL UNIQUE,
					duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
					recorded_at TIMESTAMPTZ NOT NULL,
					size_bytes BIGINT NOT NULL DEFAULT 0,
					mime_type VARCHAR(255) NOT NULL DEFAULT 'application/octet-stream',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_recordings_device_id ON recordings(device_id);
				CREATE INDEX idx_recordings_recorded_at ON recordings(recorded_at);
				CREATE INDEX idx_recordings_station_id ON recordings(station_id);
			`,
		},
		{
			Version:     7,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id BIGSERIAL PRIMARY KEY,
					actor_type VARCHAR(32) NOT NULL,
					actor_id BIGINT NOT NULL,
					action VARCHAR(64) NOT NULL,
					resource_type VARCHAR(64) NOT NULL,
					resource_id BIGINT NOT NULL DEFAULT 0,
					details JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_log_action ON audit_log(action);
				CREATE INDEX idx_audit_log_created_at ON audit_log(created_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", migration.Version, migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
