package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/axobase001/axobase/db/models"
	"gorm.io/gorm"
)

func (s *Store) CreateDeployment(ctx context.Context, soulID uint, manifest string) (models.Deployment, error) {
	dep := models.Deployment{
		SoulID:          soulID,
		Status:          models.DeploymentCreating,
		ManifestContent: manifest,
	}
	if err := s.db.WithContext(ctx).Create(&dep).Error; err != nil {
		return models.Deployment{}, fmt.Errorf("create deployment: %w", err)
	}
	return dep, nil
}

func (s *Store) DeploymentByID(ctx context.Context, id uint) (models.Deployment, error) {
	var dep models.Deployment
	err := s.db.WithContext(ctx).First(&dep, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Deployment{}, ErrDeploymentNotFound
	}
	if err != nil {
		return models.Deployment{}, fmt.Errorf("deployment by id: %w", err)
	}
	return dep, nil
}

func (s *Store) DeploymentsBySoul(ctx context.Context, soulID uint) ([]models.Deployment, error) {
	var deps []models.Deployment
	err := s.db.WithContext(ctx).
		Where("soul_id = ?", soulID).
		Order("created_at DESC").
		Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("deployments by soul: %w", err)
	}
	return deps, nil
}

// CompleteDeployment records a successful provisioning result.
func (s *Store) CompleteDeployment(ctx context.Context, id uint, txHash, providerAddress string, leasePrice float64) error {
	return s.updateDeployment(ctx, id, map[string]any{
		"status":           models.DeploymentDeployed,
		"provider_tx_hash": strings.TrimSpace(txHash),
		"provider_address": strings.ToLower(strings.TrimSpace(providerAddress)),
		"lease_price":      leasePrice,
	})
}

// FailDeployment marks the attempt failed and appends the reason to its
// logs. The row stays for audit; recovery is a new provisioning attempt.
func (s *Store) FailDeployment(ctx context.Context, id uint, reason string) error {
	if err := s.AppendDeploymentLog(ctx, id, reason); err != nil {
		return err
	}
	return s.updateDeployment(ctx, id, map[string]any{"status": models.DeploymentFailed})
}

func (s *Store) CloseDeployment(ctx context.Context, id uint) error {
	return s.updateDeployment(ctx, id, map[string]any{"status": models.DeploymentClosed})
}

func (s *Store) AppendDeploymentLog(ctx context.Context, id uint, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Deployment{}).
		Where("id = ?", id).
		Update("logs", gorm.Expr("coalesce(logs, '') || ? || char(10)", line))
	if res.Error != nil {
		return fmt.Errorf("append deployment log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeploymentNotFound
	}
	return nil
}

func (s *Store) updateDeployment(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update deployment %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeploymentNotFound
	}
	return nil
}
