// Package journal provides an optional audit trail of coordination events.
//
// The engine itself never writes here; the monitor service records one
// snapshot event per observation round, carrying the region's process,
// resource and live-slot counts. Nothing in the region depends on the
// journal surviving.
package journal

import "time"

// Event types recorded in the journal.
const (
	EventDeclare     = "declare"
	EventAcquire     = "acquire"
	EventGrant       = "grant"
	EventBlock       = "block"
	EventRelease     = "release"
	EventLeave       = "leave"
	EventDestroy     = "destroy"
	EventOpenFailure = "open_failure"
	EventSnapshot    = "snapshot"
)

// LockEvent is one recorded coordination event.
type LockEvent struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RegionKey int       `gorm:"column:region_key;index"`
	Pid       uint32    `gorm:"column:pid"`
	Event     string    `gorm:"column:event;type:varchar(32);index"`
	Path      string    `gorm:"column:path;type:varchar(256)"`
	Handle    uint64    `gorm:"column:handle"`
	Detail    string    `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for LockEvent.
func (LockEvent) TableName() string {
	return "sfs_lock_events"
}
