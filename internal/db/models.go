package db

import (
	"time"
)

// RelayRecord is one journal entry of relayer activity
type RelayRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"not null" json:"kind"`
	CycleID   string    `gorm:"index" json:"cycle_id"`
	Ref       string    `gorm:"not null;index" json:"ref"`
	Height    int64     `json:"height"`
	Amount    int64     `json:"amount"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// PollCheckpoint model (only 1 record)
type PollCheckpoint struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	LastHeaderRelay       time.Time `json:"last_header_relay"`
	LastCollectionsUpdate time.Time `json:"last_collections_update"`
	LastTargetBlock       uint64    `gorm:"not null" json:"last_target_block"`
	Cycles                uint64    `gorm:"not null" json:"cycles"`
	UpdatedAt             time.Time `gorm:"not null" json:"updated_at"`
}
