package models

import "time"

type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentCreating DeploymentStatus = "creating"
	DeploymentBidding  DeploymentStatus = "bidding"
	DeploymentLeased   DeploymentStatus = "leased"
	DeploymentDeployed DeploymentStatus = "deployed"
	DeploymentFailed   DeploymentStatus = "failed"
	DeploymentClosed   DeploymentStatus = "closed"
)

// Deployment is one provisioning attempt for a Soul. Rows are never
// deleted; they are the audit trail of every attempt, successful or not.
type Deployment struct {
	ID              uint             `gorm:"column:id;primaryKey;autoIncrement"`
	SoulID          uint             `gorm:"column:soul_id;not null;index:idx_deployment_soul"`
	ProviderTxHash  string           `gorm:"column:provider_tx_hash;type:text"`
	Status          DeploymentStatus `gorm:"column:status;type:text;not null"`
	ManifestContent string           `gorm:"column:manifest_content;type:text"`
	Logs            string           `gorm:"column:logs;type:text"`
	ProviderAddress string           `gorm:"column:provider_address;type:text"`
	LeasePrice      *float64         `gorm:"column:lease_price"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`

	Soul Soul `gorm:"foreignKey:SoulID"`
}

func (Deployment) TableName() string { return "deployments" }
