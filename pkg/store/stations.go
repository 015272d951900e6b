package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/api"
)

// ListStations returns a group's stations, oldest first. Retired
// stations are excluded unless requested.
func (s *Store) ListStations(ctx context.Context, groupID int64, includeRetired bool) ([]api.Station, error) {
	start := time.Now()

	query := `SELECT id, group_id, name, lat, lng, created_at, retired_at
	          FROM stations WHERE group_id = $1`
	if !includeRetired {
		query += " AND retired_at IS NULL"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		s.observe("list", "station", start, err)
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	defer rows.Close()

	var stations []api.Station
	for rows.Next() {
		var st api.Station
		if err := rows.Scan(&st.ID, &st.GroupID, &st.Name, &st.Lat, &st.Lng,
			&st.CreatedAt, &st.RetiredAt); err != nil {
			s.observe("list", "station", start, err)
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		s.observe("list", "station", start, err)
		return nil, fmt.Errorf("failed to iterate stations: %w", err)
	}

	s.observe("list", "station", start, nil)
	return stations, nil
}
