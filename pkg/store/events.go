package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/api"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

func snapshotCacheKey(eventType string, details json.RawMessage) string {
	sum := sha256.Sum256(details)
	return eventType + ":" + hex.EncodeToString(sum[:])
}

// GetOrCreateDetailSnapshot deduplicates event descriptions: identical
// (type, details) pairs share one snapshot row. An expirable LRU keeps
// hot snapshot IDs in memory so repeated descriptions skip the upsert.
func (s *Store) GetOrCreateDetailSnapshot(ctx context.Context, eventType string, details json.RawMessage) (*api.DetailSnapshot, error) {
	start := time.Now()

	if details == nil {
		details = json.RawMessage("{}")
	}

	key := snapshotCacheKey(eventType, details)
	if id, ok := s.snapshotCache.Get(key); ok {
		if s.metrics != nil {
			s.metrics.SnapshotCacheHitsTotal.Inc()
		}
		return &api.DetailSnapshot{ID: id, Type: eventType, Details: details}, nil
	}
	if s.metrics != nil {
		s.metrics.SnapshotCacheMissesTotal.Inc()
	}

	var snapshot api.DetailSnapshot
	var stored []byte
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO detail_snapshots (type, details)
		 VALUES ($1, $2)
		 ON CONFLICT (type, details) DO UPDATE SET type = EXCLUDED.type
		 RETURNING id, type, details`,
		eventType, []byte(details),
	).Scan(&snapshot.ID, &snapshot.Type, &stored)
	s.observe("upsert", "detail_snapshot", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert detail snapshot: %w", err)
	}
	snapshot.Details = json.RawMessage(stored)

	s.snapshotCache.Add(key, snapshot.ID)
	return &snapshot, nil
}

// GetDetailSnapshot fetches a snapshot by id
func (s *Store) GetDetailSnapshot(ctx context.Context, id int64) (*api.DetailSnapshot, error) {
	start := time.Now()

	var snapshot api.DetailSnapshot
	var stored []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT id, type, details FROM detail_snapshots WHERE id = $1", id,
	).Scan(&snapshot.ID, &snapshot.Type, &stored)
	s.observe("get", "detail_snapshot", start, err)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("event detail %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detail snapshot: %w", err)
	}
	snapshot.Details = json.RawMessage(stored)
	return &snapshot, nil
}

// AddEvents records one event per timestamp against a snapshot and
// returns the number created.
func (s *Store) AddEvents(ctx context.Context, deviceID, detailSnapshotID int64, timestamps []time.Time) (int, error) {
	start := time.Now()

	if len(timestamps) == 0 {
		return 0, api.NewValidationError("at least one timestamp is required")
	}

	values := make([]string, len(timestamps))
	args := make([]interface{}, 0, len(timestamps)+2)
	args = append(args, deviceID, detailSnapshotID)
	for i, ts := range timestamps {
		values[i] = fmt.Sprintf("($1, $2, $%d)", len(args)+1)
		args = append(args, ts)
	}

	query := "INSERT INTO events (device_id, detail_snapshot_id, timestamp) VALUES " +
		strings.Join(values, ", ")

	result, err := s.db.ExecContext(ctx, query, args...)
	s.observe("create", "event", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to add events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return len(timestamps), nil
	}
	if s.metrics != nil {
		s.metrics.EventsTotal.Add(float64(affected))
	}
	return int(affected), nil
}

// QueryEvents returns events visible to the caller plus a total count,
// ordered by timestamp ascending.
func (s *Store) QueryEvents(ctx context.Context, authz auth.Authorization, filter api.EventFilter) ([]api.Event, int64, error) {
	start := time.Now()
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	where := []string{}
	args := []interface{}{}

	visibility, visArgs := deviceVisibility("d", authz, len(args)+1)
	where = append(where, visibility)
	args = append(args, visArgs...)

	if filter.DeviceID != nil {
		where = append(where, fmt.Sprintf("e.device_id = $%d", len(args)+1))
		args = append(args, *filter.DeviceID)
	}
	if filter.StartTime != nil {
		where = append(where, fmt.Sprintf("e.timestamp >= $%d", len(args)+1))
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		where = append(where, fmt.Sprintf("e.timestamp <= $%d", len(args)+1))
		args = append(args, *filter.EndTime)
	}

	whereClause := strings.Join(where, " AND ")
	fromClause := `FROM events e
	 JOIN devices d ON d.id = e.device_id
	 JOIN detail_snapshots ds ON ds.id = e.detail_snapshot_id`

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) "+fromClause+" WHERE "+whereClause, args...,
	).Scan(&total)
	if err != nil {
		s.observe("query", "event", start, err)
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT e.id, e.device_id, e.detail_snapshot_id, ds.type, ds.details, e.timestamp
		 %s
		 WHERE %s
		 ORDER BY e.timestamp ASC
		 LIMIT $%d OFFSET $%d`,
		fromClause, whereClause, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.observe("query", "event", start, err)
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []api.Event
	for rows.Next() {
		var e api.Event
		var details []byte
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DetailSnapshotID,
			&e.Type, &details, &e.Timestamp); err != nil {
			s.observe("query", "event", start, err)
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		s.observe("query", "event", start, err)
		return nil, 0, fmt.Errorf("failed to iterate events: %w", err)
	}

	s.observe("query", "event", start, nil)
	return events, total, nil
}
