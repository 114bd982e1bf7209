package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/axobase001/axobase/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertEvent records an observed on-chain event, idempotently keyed by
// (event_type, tx_hash). When the event was seen before, the existing row
// is returned with created=false so the caller can re-skip processed work.
func (s *Store) InsertEvent(ctx context.Context, evt models.EventLog) (models.EventLog, bool, error) {
	evt.EventType = strings.TrimSpace(evt.EventType)
	evt.TxHash = strings.TrimSpace(evt.TxHash)
	if evt.EventType == "" || evt.TxHash == "" {
		return models.EventLog{}, false, fmt.Errorf("event type and tx hash are required")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_type"}, {Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(&evt)
	if res.Error != nil {
		return models.EventLog{}, false, fmt.Errorf("insert event: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return evt, true, nil
	}
	existing, ok, err := s.EventByKey(ctx, evt.EventType, evt.TxHash)
	if err != nil {
		return models.EventLog{}, false, err
	}
	if !ok {
		return models.EventLog{}, false, fmt.Errorf("insert event: conflict but no row for (%s, %s)", evt.EventType, evt.TxHash)
	}
	return existing, false, nil
}

func (s *Store) EventByKey(ctx context.Context, eventType, txHash string) (models.EventLog, bool, error) {
	var evt models.EventLog
	err := s.db.WithContext(ctx).
		Where("event_type = ? AND tx_hash = ?", strings.TrimSpace(eventType), strings.TrimSpace(txHash)).
		First(&evt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EventLog{}, false, nil
	}
	if err != nil {
		return models.EventLog{}, false, fmt.Errorf("event by key: %w", err)
	}
	return evt, true, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, id uint) error {
	return s.setEventState(ctx, id, models.EventProcessed)
}

// MarkEventFailed defers an event for later reconciliation instead of
// losing it. Failed rows are replayed by the ingestor's retry sweep.
func (s *Store) MarkEventFailed(ctx context.Context, id uint) error {
	return s.setEventState(ctx, id, models.EventFailed)
}

// MarkEventQuarantined parks an event permanently. Unlike failed rows,
// quarantined rows are excluded from the retry sweep: malformed data
// will not decode on the hundredth attempt either.
func (s *Store) MarkEventQuarantined(ctx context.Context, id uint) error {
	return s.setEventState(ctx, id, models.EventQuarantined)
}

func (s *Store) setEventState(ctx context.Context, id uint, state int) error {
	res := s.db.WithContext(ctx).Model(&models.EventLog{}).Where("id = ?", id).Update("processed", state)
	if res.Error != nil {
		return fmt.Errorf("mark event %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark event %d: no such event", id)
	}
	return nil
}

func (s *Store) FailedEvents(ctx context.Context, eventType string) ([]models.EventLog, error) {
	var evts []models.EventLog
	err := s.db.WithContext(ctx).
		Where("event_type = ? AND processed = ?", strings.TrimSpace(eventType), models.EventFailed).
		Order("block_number ASC, id ASC").
		Find(&evts).Error
	if err != nil {
		return nil, fmt.Errorf("failed events: %w", err)
	}
	return evts, nil
}

// LastProcessedBlock returns 0 when no cursor has been stored yet.
func (s *Store) LastProcessedBlock(ctx context.Context, key string) (uint64, error) {
	var cur models.ChainCursor
	err := s.db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chain cursor: %w", err)
	}
	return cur.BlockNumber, nil
}

func (s *Store) SetLastProcessedBlock(ctx context.Context, key string, block uint64) error {
	cur := models.ChainCursor{Key: strings.TrimSpace(key), BlockNumber: block}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{"block_number": block}),
		}).
		Create(&cur).Error
	if err != nil {
		return fmt.Errorf("set chain cursor: %w", err)
	}
	return nil
}
