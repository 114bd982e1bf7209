package models

import "time"

// Failed events are transient and swept by the ingestor's retry loop;
// quarantined events are terminal and never revisited.
const (
	EventUnprocessed = 0
	EventProcessed   = 1
	EventFailed      = 2
	EventQuarantined = 3
)

// EventLog records every on-chain event the ingestor has observed.
// (event_type, tx_hash) is the natural dedup key: the same event delivered
// twice must map onto the same row.
type EventLog struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	EventType   string    `gorm:"column:event_type;type:text;not null;uniqueIndex:uniq_event_type_tx,priority:1"`
	TxHash      string    `gorm:"column:tx_hash;type:text;not null;uniqueIndex:uniq_event_type_tx,priority:2"`
	BlockNumber uint64    `gorm:"column:block_number;not null"`
	Payload     string    `gorm:"column:payload;type:text;not null"`
	Processed   int       `gorm:"column:processed;not null;default:0;index:idx_event_processed"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (EventLog) TableName() string { return "event_logs" }
