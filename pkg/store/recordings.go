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

const recordingColumns = `r.id, r.device_id, r.station_id, r.object_key,
	r.duration_seconds, r.recorded_at, r.size_bytes, r.mime_type, r.created_at`

func scanRecording(scanner interface {
	Scan(dest ...interface{}) error
}) (*api.Recording, error) {
	var rec api.Recording
	var stationID sql.NullInt64
	err := scanner.Scan(&rec.ID, &rec.DeviceID, &stationID, &rec.ObjectKey,
		&rec.DurationSeconds, &rec.RecordedAt, &rec.SizeBytes, &rec.MimeType, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if stationID.Valid {
		rec.StationID = &stationID.Int64
	}
	return &rec, nil
}

// CreateRecording persists recording metadata
func (s *Store) CreateRecording(ctx context.Context, newRecording *api.NewRecording) (*api.Recording, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO recordings (device_id, station_id, object_key, duration_seconds, recorded_at, size_bytes, mime_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, device_id, station_id, object_key, duration_seconds, recorded_at, size_bytes, mime_type, created_at`,
		newRecording.DeviceID, newRecording.StationID, newRecording.ObjectKey,
		newRecording.DurationSeconds, newRecording.RecordedAt,
		newRecording.SizeBytes, newRecording.MimeType,
	)

	rec, err := scanRecording(row)
	s.observe("create", "recording", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordingsTotal.Inc()
	}
	return rec, nil
}

// GetRecording fetches a recording the caller is allowed to see
func (s *Store) GetRecording(ctx context.Context, authz auth.Authorization, id int64) (*api.Recording, error) {
	start := time.Now()

	visibility, visArgs := deviceVisibility("d", authz, 2)
	args := append([]interface{}{id}, visArgs...)

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(
			`SELECT %s
			 FROM recordings r JOIN devices d ON d.id = r.device_id
			 WHERE r.id = $1 AND %s`,
			recordingColumns, visibility,
		), args...)

	rec, err := scanRecording(row)
	s.observe("get", "recording", start, err)
	if err == sql.ErrNoRows {
		// hidden rows look identical to absent rows
		return nil, api.NewNotFoundError("recording %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return rec, nil
}

// QueryRecordings returns recordings visible to the caller plus a total
// count, ordered by recording time ascending.
func (s *Store) QueryRecordings(ctx context.Context, authz auth.Authorization, filter api.RecordingFilter) ([]api.Recording, int64, error) {
	start := time.Now()
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	where := []string{}
	args := []interface{}{}

	visibility, visArgs := deviceVisibility("d", authz, len(args)+1)
	where = append(where, visibility)
	args = append(args, visArgs...)

	if filter.DeviceID != nil {
		where = append(where, fmt.Sprintf("r.device_id = $%d", len(args)+1))
		args = append(args, *filter.DeviceID)
	}
	if filter.StartTime != nil {
		where = append(where, fmt.Sprintf("r.recorded_at >= $%d", len(args)+1))
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		where = append(where, fmt.Sprintf("r.recorded_at <= $%d", len(args)+1))
		args = append(args, *filter.EndTime)
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recordings r JOIN devices d ON d.id = r.device_id WHERE "+whereClause,
		args...,
	).Scan(&total)
	if err != nil {
		s.observe("query", "recording", start, err)
		return nil, 0, fmt.Errorf("failed to count recordings: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM recordings r JOIN devices d ON d.id = r.device_id
		 WHERE %s
		 ORDER BY r.recorded_at ASC
		 LIMIT $%d OFFSET $%d`,
		recordingColumns, whereClause, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.observe("query", "recording", start, err)
		return nil, 0, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	var recordings []api.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			s.observe("query", "recording", start, err)
			return nil, 0, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, *rec)
	}
	if err := rows.Err(); err != nil {
		s.observe("query", "recording", start, err)
		return nil, 0, fmt.Errorf("failed to iterate recordings: %w", err)
	}

	s.observe("query", "recording", start, nil)
	return recordings, total, nil
}
