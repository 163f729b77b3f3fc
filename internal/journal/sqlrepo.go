package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLEventRepository implements EventRepository over a plain *sql.DB, for
// deployments that hand the journal an already-pooled connection instead of
// going through GORM.
type SQLEventRepository struct {
	db *sql.DB
}

// NewSQLEventRepository creates a SQLEventRepository.
func NewSQLEventRepository(db *sql.DB) *SQLEventRepository {
	return &SQLEventRepository{db: db}
}

// RecordEvent appends one event.
func (r *SQLEventRepository) RecordEvent(ctx context.Context, ev *LockEvent) error {
	query := `
		INSERT INTO sfs_lock_events (region_key, pid, event, path, handle, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		ev.RegionKey, ev.Pid, ev.Event, ev.Path, ev.Handle, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListEvents returns the newest events for a region, newest first.
func (r *SQLEventRepository) ListEvents(ctx context.Context, regionKey int, limit int) ([]LockEvent, error) {
	query := `
		SELECT id, region_key, pid, event, COALESCE(path, ''), handle, COALESCE(detail, ''), created_at
		FROM sfs_lock_events
		WHERE region_key = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, regionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []LockEvent
	for rows.Next() {
		var ev LockEvent
		if err := rows.Scan(&ev.ID, &ev.RegionKey, &ev.Pid, &ev.Event,
			&ev.Path, &ev.Handle, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// CountByEvent returns per-event-type totals for a region.
func (r *SQLEventRepository) CountByEvent(ctx context.Context, regionKey int) (map[string]int64, error) {
	query := `
		SELECT event, COUNT(*)
		FROM sfs_lock_events
		WHERE region_key = ?
		GROUP BY event
	`

	rows, err := r.db.QueryContext(ctx, query, regionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var event string
		var count int64
		if err := rows.Scan(&event, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[event] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}

	return counts, nil
}

// PurgeBefore deletes events for a region older than the given id.
func (r *SQLEventRepository) PurgeBefore(ctx context.Context, regionKey int, beforeID int64) (int64, error) {
	query := `DELETE FROM sfs_lock_events WHERE region_key = ? AND id < ?`

	result, err := r.db.ExecContext(ctx, query, regionKey, beforeID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return affected, nil
}
