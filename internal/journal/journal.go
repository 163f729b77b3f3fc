package journal

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// EventRepository persists and queries coordination events.
type EventRepository interface {
	// RecordEvent appends one event.
	RecordEvent(ctx context.Context, ev *LockEvent) error

	// ListEvents returns the newest events for a region, newest first.
	ListEvents(ctx context.Context, regionKey int, limit int) ([]LockEvent, error)

	// CountByEvent returns per-event-type totals for a region.
	CountByEvent(ctx context.Context, regionKey int) (map[string]int64, error)

	// PurgeBefore deletes events for a region older than the given id.
	PurgeBefore(ctx context.Context, regionKey int, beforeID int64) (int64, error)
}

// GormEventRepository implements EventRepository using GORM.
type GormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository creates a GormEventRepository.
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// Migrate creates or updates the journal schema.
func (r *GormEventRepository) Migrate() error {
	if err := r.db.AutoMigrate(&LockEvent{}); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}

// RecordEvent appends one event.
func (r *GormEventRepository) RecordEvent(ctx context.Context, ev *LockEvent) error {
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events for a region, newest first.
func (r *GormEventRepository) ListEvents(ctx context.Context, regionKey int, limit int) ([]LockEvent, error) {
	var events []LockEvent

	err := r.db.WithContext(ctx).
		Where("region_key = ?", regionKey).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

// CountByEvent returns per-event-type totals for a region.
func (r *GormEventRepository) CountByEvent(ctx context.Context, regionKey int) (map[string]int64, error) {
	type row struct {
		Event string
		Count int64
	}
	var rows []row

	err := r.db.WithContext(ctx).
		Model(&LockEvent{}).
		Select("event, count(*) as count").
		Where("region_key = ?", regionKey).
		Group("event").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Event] = r.Count
	}
	return counts, nil
}

// PurgeBefore deletes events for a region older than the given id.
func (r *GormEventRepository) PurgeBefore(ctx context.Context, regionKey int, beforeID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("region_key = ? AND id < ?", regionKey, beforeID).
		Delete(&LockEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
