// Package ledger is the durable record of lifecycle entities and the only
// place Soul/Deployment status is ever written. All state-machine advances
// go through Transition/TransitionAny so that duplicate or out-of-order
// triggers cannot regress or double-apply a transition.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/axobase001/axobase/db/models"
	"github.com/axobase001/axobase/observability"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrConflict means the guarded update lost the race: the entity's
	// current status did not match the expected one at application time.
	// Callers treat this as a benign no-op.
	ErrConflict = errors.New("ledger: status conflict")

	ErrSoulNotFound       = errors.New("ledger: soul not found")
	ErrDeploymentNotFound = errors.New("ledger: deployment not found")
)

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewStore(gdb *gorm.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: gdb, log: log.With("component", "ledger")}
}

// SoulAttrs are the initial attributes applied when UpsertSoulByHash
// creates a new row. They are ignored when the row already exists.
type SoulAttrs struct {
	Status        models.SoulStatus
	StorageID     string
	WalletAddress string
	InitialFunds  int64
}

// UpsertSoulByHash is the pipeline's double-spend guard: if a Soul with
// this memory hash exists it is returned unchanged with created=false,
// otherwise a new row is created. Concurrent callers with the same hash
// resolve to the same row via the unique index.
func (s *Store) UpsertSoulByHash(ctx context.Context, memoryHash string, attrs SoulAttrs) (models.Soul, bool, error) {
	memoryHash = strings.TrimSpace(memoryHash)
	if memoryHash == "" {
		return models.Soul{}, false, fmt.Errorf("empty memory hash")
	}
	status := attrs.Status
	if status == "" {
		status = models.SoulPending
	}
	soul := models.Soul{
		MemoryHash:    memoryHash,
		StorageID:     strings.TrimSpace(attrs.StorageID),
		WalletAddress: strings.ToLower(strings.TrimSpace(attrs.WalletAddress)),
		Status:        status,
		InitialFunds:  attrs.InitialFunds,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "memory_hash"}},
			DoNothing: true,
		}).
		Create(&soul)
	if res.Error != nil {
		return models.Soul{}, false, fmt.Errorf("upsert soul: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return soul, true, nil
	}
	existing, ok, err := s.SoulByHash(ctx, memoryHash)
	if err != nil {
		return models.Soul{}, false, err
	}
	if !ok {
		// Row vanished between insert and read; souls are never deleted,
		// so this indicates a broken database.
		return models.Soul{}, false, fmt.Errorf("upsert soul: conflict but no row for hash %s", memoryHash)
	}
	return existing, false, nil
}

func (s *Store) SoulByID(ctx context.Context, id uint) (models.Soul, error) {
	var soul models.Soul
	err := s.db.WithContext(ctx).First(&soul, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Soul{}, ErrSoulNotFound
	}
	if err != nil {
		return models.Soul{}, fmt.Errorf("soul by id: %w", err)
	}
	return soul, nil
}

func (s *Store) SoulByHash(ctx context.Context, memoryHash string) (models.Soul, bool, error) {
	var soul models.Soul
	err := s.db.WithContext(ctx).Where("memory_hash = ?", strings.TrimSpace(memoryHash)).First(&soul).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Soul{}, false, nil
	}
	if err != nil {
		return models.Soul{}, false, fmt.Errorf("soul by hash: %w", err)
	}
	return soul, true, nil
}

func (s *Store) SoulByWallet(ctx context.Context, walletAddress string) (models.Soul, bool, error) {
	addr := strings.ToLower(strings.TrimSpace(walletAddress))
	var soul models.Soul
	err := s.db.WithContext(ctx).Where("wallet_address = ?", addr).First(&soul).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Soul{}, false, nil
	}
	if err != nil {
		return models.Soul{}, false, fmt.Errorf("soul by wallet: %w", err)
	}
	return soul, true, nil
}

// LatestWalletlessUploaded returns the most recently created UPLOADED soul
// without a wallet address, used by the wallet-prepare path when the
// caller does not name a soul id.
func (s *Store) LatestWalletlessUploaded(ctx context.Context) (models.Soul, bool, error) {
	var soul models.Soul
	err := s.db.WithContext(ctx).
		Where("status = ? AND (wallet_address IS NULL OR wallet_address = '')", models.SoulUploaded).
		Order("created_at DESC").
		First(&soul).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Soul{}, false, nil
	}
	if err != nil {
		return models.Soul{}, false, fmt.Errorf("latest walletless soul: %w", err)
	}
	return soul, true, nil
}

// Transition advances a soul iff its current status equals expected at
// update time. This is the optimistic-concurrency primitive: of N
// concurrent identical calls exactly one succeeds, the rest get
// ErrConflict.
func (s *Store) Transition(ctx context.Context, soulID uint, expected, next models.SoulStatus) error {
	res := s.db.WithContext(ctx).
		Model(&models.Soul{}).
		Where("id = ? AND status = ?", soulID, expected).
		Update("status", next)
	if res.Error != nil {
		return fmt.Errorf("transition soul %d: %w", soulID, res.Error)
	}
	if res.RowsAffected > 0 {
		observability.RecordSoulTransition(string(expected), string(next))
		return nil
	}
	if _, err := s.SoulByID(ctx, soulID); err != nil {
		return err
	}
	observability.RecordTransitionConflict(string(expected), string(next))
	return ErrConflict
}

// TransitionAny moves a soul to next from any non-terminal state. Used for
// DORMANT (immolation) and ERROR, which are reachable regardless of where
// the soul currently is in the pipeline.
func (s *Store) TransitionAny(ctx context.Context, soulID uint, next models.SoulStatus) error {
	res := s.db.WithContext(ctx).
		Model(&models.Soul{}).
		Where("id = ? AND status NOT IN ?", soulID, models.TerminalSoulStatuses()).
		Update("status", next)
	if res.Error != nil {
		return fmt.Errorf("transition soul %d: %w", soulID, res.Error)
	}
	if res.RowsAffected > 0 {
		observability.RecordSoulTransition("*", string(next))
		return nil
	}
	if _, err := s.SoulByID(ctx, soulID); err != nil {
		return err
	}
	observability.RecordTransitionConflict("*", string(next))
	return ErrConflict
}

func (s *Store) SetWalletAddress(ctx context.Context, soulID uint, walletAddress string) error {
	addr := strings.ToLower(strings.TrimSpace(walletAddress))
	if addr == "" {
		return fmt.Errorf("empty wallet address")
	}
	return s.updateSoul(ctx, soulID, map[string]any{"wallet_address": addr})
}

func (s *Store) SetDeploymentURI(ctx context.Context, soulID uint, uri string) error {
	return s.updateSoul(ctx, soulID, map[string]any{"deployment_uri": strings.TrimSpace(uri)})
}

func (s *Store) updateSoul(ctx context.Context, soulID uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Soul{}).Where("id = ?", soulID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update soul %d: %w", soulID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSoulNotFound
	}
	return nil
}
