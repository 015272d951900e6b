package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/async"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// Recorder persists audit entries to the audit_log table
type Recorder struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewRecorder creates an audit recorder
func NewRecorder(db *sql.DB, logger *observability.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Write synchronously persists an entry
func (r *Recorder) Write(ctx context.Context, entry Entry) error {
	details := entry.Details
	if details == nil {
		details = json.RawMessage("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor_type, actor_id, action, resource_type, resource_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		entry.ActorType, entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID, []byte(details),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Record persists an entry in the background. Audit failures are logged
// but never fail the request that triggered them.
func (r *Recorder) Record(entry Entry) {
	async.SafeGo(r.logger, 10*time.Second, "audit record", func(ctx context.Context) error {
		return r.Write(ctx, entry)
	})
}

// Search returns recent entries matching the optional action filter,
// newest first.
func (r *Recorder) Search(ctx context.Context, action Action, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, actor_type, actor_id, action, resource_type, resource_id, details, created_at
	          FROM audit_log`
	args := []interface{}{}
	if action != "" {
		query += " WHERE action = $1"
		args = append(args, action)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.ActorType, &e.ActorID, &e.Action,
			&e.ResourceType, &e.ResourceID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Details = json.RawMessage(details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup removes entries older than the retention period and returns
// the number deleted.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_log WHERE created_at < $1",
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit log: %w", err)
	}
	return res.RowsAffected()
}
