package models

import "time"

type SoulStatus string

const (
	SoulPending    SoulStatus = "pending"
	SoulUploaded   SoulStatus = "uploaded"
	SoulRegistered SoulStatus = "registered"
	SoulDeploying  SoulStatus = "deploying"
	SoulDeployed   SoulStatus = "deployed"
	SoulActive     SoulStatus = "active"
	SoulDormant    SoulStatus = "dormant"
	SoulError      SoulStatus = "error"
)

// TerminalSoulStatuses are the states with no forward transition. DORMANT
// and ERROR are never left by the orchestrator itself; recovery is an
// external, operator-driven action.
func TerminalSoulStatuses() []SoulStatus {
	return []SoulStatus{SoulDormant, SoulError}
}

// Soul is one exported memory through its whole provisioning lifecycle.
// MemoryHash is the idempotency key for the entire pipeline.
type Soul struct {
	ID            uint       `gorm:"column:id;primaryKey;autoIncrement"`
	MemoryHash    string     `gorm:"column:memory_hash;type:text;not null;uniqueIndex:uniq_soul_memory_hash"`
	StorageID     string     `gorm:"column:storage_id;type:text;index:idx_soul_storage_id"`
	WalletAddress string     `gorm:"column:wallet_address;type:text;index:idx_soul_wallet"`
	Status        SoulStatus `gorm:"column:status;type:text;not null;index:idx_soul_status"`
	InitialFunds  int64      `gorm:"column:initial_funds;not null;default:0"`
	DeploymentURI string     `gorm:"column:deployment_uri;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Soul) TableName() string { return "souls" }
