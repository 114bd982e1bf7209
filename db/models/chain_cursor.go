package models

import "time"

// ChainCursor is the poll loop's only persistent state: the last block
// whose logs were all durably processed or deferred. Stored in the ledger
// so a restart resumes from the right place.
type ChainCursor struct {
	Key         string    `gorm:"column:key;type:text;primaryKey"`
	BlockNumber uint64    `gorm:"column:block_number;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ChainCursor) TableName() string { return "chain_cursors" }
