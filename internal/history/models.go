package history

import "time"

// FrameRecord is one raw frame as received, keyed to its link epoch. Rows
// are append-only: the archive never updates or deletes them.
type FrameRecord struct {
	ID    uint      `gorm:"primarykey"`
	At    time.Time `gorm:"index"`
	Epoch uint64    `gorm:"index"`
	Raw   string
}

// SnapshotRecord is one decoded flight-state snapshot, stored as JSON so the
// archive survives header-set changes between epochs.
type SnapshotRecord struct {
	ID     uint      `gorm:"primarykey"`
	At     time.Time `gorm:"index"`
	Epoch  uint64    `gorm:"index"`
	Fields string
}
