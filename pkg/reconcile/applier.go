package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// Outcome summarizes an applied plan
type Outcome struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Retired    int `json:"retired"`
	Reassigned int `json:"reassigned"`
}

// Applier runs station plans against the database
type Applier struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewApplier creates a plan applier
func NewApplier(db *sql.DB, logger *observability.Logger) *Applier {
	return &Applier{db: db, logger: logger}
}

// Apply runs the whole plan in one transaction. When fromDate is set,
// recordings taken after it whose station was retired are reassigned to
// the active station with the same name, if one exists; recordings with
// no name match are left untouched.
func (a *Applier) Apply(ctx context.Context, groupID int64, plan Plan, fromDate *time.Time) (Outcome, error) {
	var outcome Outcome

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return outcome, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, update := range plan.ToUpdate {
		if _, err := tx.ExecContext(ctx,
			"UPDATE stations SET lat = $1, lng = $2 WHERE id = $3",
			update.Lat, update.Lng, update.StationID,
		); err != nil {
			return outcome, fmt.Errorf("failed to move station %q: %w", update.Name, err)
		}
		outcome.Updated++
	}

	for _, station := range plan.ToRetire {
		if _, err := tx.ExecContext(ctx,
			"UPDATE stations SET retired_at = NOW() WHERE id = $1 AND retired_at IS NULL",
			station.ID,
		); err != nil {
			return outcome, fmt.Errorf("failed to retire station %q: %w", station.Name, err)
		}
		outcome.Retired++
	}

	// retire before create so a reused name does not trip the active
	// uniqueness constraint
	for _, spec := range plan.ToCreate {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO stations (group_id, name, lat, lng) VALUES ($1, $2, $3, $4)",
			groupID, spec.Name, spec.Lat, spec.Lng,
		); err != nil {
			return outcome, fmt.Errorf("failed to create station %q: %w", spec.Name, err)
		}
		outcome.Created++
	}

	if fromDate != nil {
		reassigned, err := a.reassignRecordings(ctx, tx, groupID, *fromDate)
		if err != nil {
			return outcome, err
		}
		outcome.Reassigned = reassigned
	}

	if err := tx.Commit(); err != nil {
		return outcome, fmt.Errorf("failed to commit station plan: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"group_id":   groupID,
		"created":    outcome.Created,
		"updated":    outcome.Updated,
		"retired":    outcome.Retired,
		"reassigned": outcome.Reassigned,
	}).Info("applied station import plan")

	return outcome, nil
}

// reassignRecordings points post-cutoff recordings at the active station
// carrying the same name as their retired assignment
func (a *Applier) reassignRecordings(ctx context.Context, tx *sql.Tx, groupID int64, fromDate time.Time) (int, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE recordings r
		 SET station_id = replacement.id
		 FROM stations old, stations replacement
		 WHERE r.station_id = old.id
		   AND old.group_id = $1
		   AND old.retired_at IS NOT NULL
		   AND replacement.group_id = old.group_id
		   AND replacement.name = old.name
		   AND replacement.retired_at IS NULL
		   AND replacement.id <> old.id
		   AND r.recorded_at >= $2`,
		groupID, fromDate,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign recordings: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}
