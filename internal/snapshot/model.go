package snapshot

import (
	"time"
)

// Snapshot is an immutable, named point-in-time copy of the activity store.
// Ids come from the table's autoincrement sequence; the deletion path keeps
// that sequence dense when the newest snapshot is removed (see Manager.Delete).
type Snapshot struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:64;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "snapshots"
}

// Record freezes one activity row at snapshot time. Rows are owned by their
// parent snapshot and are only ever deleted together with it.
type Record struct {
	SnapshotID   int64     `gorm:"column:snapshot_id;primaryKey;autoIncrement:false;not null;index"`
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	ChannelID    string    `gorm:"column:channel_id;primaryKey;size:190;not null"`
	Username     string    `gorm:"column:username;size:320;not null"`
	Roles        string    `gorm:"column:roles;type:text;not null"`
	ChannelName  string    `gorm:"column:channel_name;size:320;not null"`
	MessageCount int64     `gorm:"column:message_count;not null"`
	LastMessage  time.Time `gorm:"column:last_message;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "snapshot_records"
}

// Created reports the outcome of a committed snapshot.
type Created struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	RecordCount int    `json:"record_count"`
}

// Deleted reports the outcome of a snapshot removal.
type Deleted struct {
	ID            int64 `json:"id"`
	SequenceReset bool  `json:"sequence_reset"`
}

// Summary annotates snapshot metadata with its frozen row count.
type Summary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	RecordCount int64     `json:"record_count"`
}

// ChannelActivity is the per-channel slice of one user's frozen activity.
type ChannelActivity struct {
	ChannelID    string `json:"channel_id"`
	ChannelName  string `json:"channel_name"`
	MessageCount int64  `json:"message_count"`
}

// UserActivity aggregates one user's frozen activity across channels.
type UserActivity struct {
	UserID        string            `json:"user_id"`
	Username      string            `json:"username"`
	Roles         string            `json:"roles"`
	TotalMessages int64             `json:"total_messages"`
	Channels      []ChannelActivity `json:"channels"`
}

// Detail is the full read projection of one snapshot.
type Detail struct {
	Snapshot Summary        `json:"snapshot"`
	Users    []UserActivity `json:"users"`
}
