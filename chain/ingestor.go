// Package chain reconciles the append-only, possibly-replayed SoulRite
// event log into exactly-once-effective ledger transitions.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axobase001/axobase/db/models"
	"github.com/axobase001/axobase/ledger"
	"github.com/axobase001/axobase/observability"
	"github.com/ethereum/go-ethereum/core/types"
)

const cursorKey = "soulrite"

// RegisteredHook is invoked after a soul's UPLOADED→REGISTERED transition
// has committed, exactly once per soul. The deployment coordinator hangs
// off this.
type RegisteredHook func(ctx context.Context, soulID uint) error

type Ingestor struct {
	reader Reader
	store  *ledger.Store
	log    *slog.Logger

	interval      time.Duration
	confirmations uint64
	startBlock    uint64
	onRegistered  RegisteredHook
}

func NewIngestor(reader Reader, store *ledger.Store, cfg Config, hook RegisteredHook, log *slog.Logger) *Ingestor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		reader:        reader,
		store:         store,
		log:           log.With("component", "ingestor"),
		interval:      cfg.PollInterval,
		confirmations: cfg.Confirmations,
		startBlock:    cfg.StartBlock,
		onRegistered:  hook,
	}
}

// Run polls until ctx is canceled. Transient RPC failures are logged and
// the same block range is retried on the next tick; a panic in one tick is
// contained so the loop itself never dies.
func (in *Ingestor) Run(ctx context.Context) {
	in.log.Info("event ingestor started", "interval", in.interval, "confirmations", in.confirmations)
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		in.safeTick(ctx)
		select {
		case <-ctx.Done():
			in.log.Info("event ingestor stopped")
			return
		case <-ticker.C:
		}
	}
}

func (in *Ingestor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			in.log.Error("poll tick panicked", "panic", r)
		}
	}()
	start := time.Now()
	if err := in.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		in.log.Warn("poll tick failed, will retry same range", "error", err)
	}
	observability.RecordPollTick(time.Since(start))
}

// tick processes one poll window. The cursor advances only after every log
// in the window has been durably marked processed or deferred; any
// infrastructure error aborts the batch first, so a crash or failure here
// resumes from the same starting block and the dedup key re-skips finished
// entries.
func (in *Ingestor) tick(ctx context.Context) error {
	latest, err := in.reader.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if latest < in.confirmations {
		return nil
	}
	head := latest - in.confirmations

	cursor, err := in.store.LastProcessedBlock(ctx, cursorKey)
	if err != nil {
		return err
	}
	from := cursor + 1
	if cursor == 0 && in.startBlock > 0 {
		from = in.startBlock
	}
	if from > head {
		in.retryFailed(ctx)
		return nil
	}

	logs, err := in.reader.FilterLogs(ctx, from, head)
	if err != nil {
		return err
	}
	for _, lg := range logs {
		if err := in.processLog(ctx, lg); err != nil {
			return err
		}
	}

	in.retryFailed(ctx)
	return in.store.SetLastProcessedBlock(ctx, cursorKey, head)
}

func (in *Ingestor) processLog(ctx context.Context, lg types.Log) error {
	eventType := EventTypeOf(lg)
	if eventType == "" {
		return nil
	}
	observability.RecordChainEvent(eventType, "observed")

	switch eventType {
	case EventSoulRegistered:
		ev, err := DecodeRegistered(lg)
		if err != nil {
			return in.quarantine(ctx, lg, eventType, err)
		}
		row, fresh, err := in.store.InsertEvent(ctx, models.EventLog{
			EventType:   eventType,
			TxHash:      ev.TxHash,
			BlockNumber: ev.BlockNumber,
			Payload:     marshalPayload(ev),
		})
		if err != nil {
			return err
		}
		if !fresh && row.Processed != models.EventUnprocessed {
			observability.RecordChainEvent(eventType, "skipped")
			return nil
		}
		return in.handleRegistered(ctx, row.ID, ev)

	case EventImmolationConfirmed:
		ev, err := DecodeImmolation(lg)
		if err != nil {
			return in.quarantine(ctx, lg, eventType, err)
		}
		row, fresh, err := in.store.InsertEvent(ctx, models.EventLog{
			EventType:   eventType,
			TxHash:      ev.TxHash,
			BlockNumber: ev.BlockNumber,
			Payload:     marshalPayload(ev),
		})
		if err != nil {
			return err
		}
		if !fresh && row.Processed != models.EventUnprocessed {
			observability.RecordChainEvent(eventType, "skipped")
			return nil
		}
		return in.handleImmolation(ctx, row.ID, ev)
	}
	return nil
}

// quarantine persists an undecodable log so it is not lost, and lets the
// batch continue: malformed data is not a transient error and must not
// wedge the cursor. The row is parked terminally, outside the retry
// sweep, which only replays events deferred on a missing soul.
func (in *Ingestor) quarantine(ctx context.Context, lg types.Log, eventType string, decodeErr error) error {
	in.log.Warn("undecodable event", "event", eventType, "tx", lg.TxHash.Hex(), "error", decodeErr)
	row, _, err := in.store.InsertEvent(ctx, models.EventLog{
		EventType:   eventType,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		Payload:     "{}",
	})
	if err != nil {
		return err
	}
	observability.RecordChainEvent(eventType, "quarantined")
	return in.store.MarkEventQuarantined(ctx, row.ID)
}

// handleRegistered applies a SoulRegistered event. A soul that does not
// exist yet is an expected race with the upload path: the event is marked
// failed for the retry sweep, not raised. A transition Conflict means a
// duplicate delivery already won and is treated as success — but the
// wallet write and the provisioning trigger must still be applied, or a
// crash between the status commit and the side effects would lose them:
// the replayed event would see the Conflict and skip them for good. Both
// are idempotent (the wallet write overwrites with the same value, the
// provisioning trigger is guarded by REGISTERED→DEPLOYING), so they are
// re-applied whenever the soul is still sitting in REGISTERED.
func (in *Ingestor) handleRegistered(ctx context.Context, eventID uint, ev RegisteredEvent) error {
	soul, ok, err := in.store.SoulByHash(ctx, ev.MemoryHash)
	if err != nil {
		return err
	}
	if !ok {
		in.log.Warn("registration event before upload, deferring", "memory_hash", ev.MemoryHash, "tx", ev.TxHash)
		observability.RecordChainEvent(EventSoulRegistered, "failed")
		return in.store.MarkEventFailed(ctx, eventID)
	}

	transitioned := true
	if err := in.store.Transition(ctx, soul.ID, models.SoulUploaded, models.SoulRegistered); err != nil {
		if !errors.Is(err, ledger.ErrConflict) {
			return err
		}
		transitioned = false
	}
	// Covers both the fresh transition and a crash-resume replay that
	// finds the soul already REGISTERED. Souls that moved further on
	// (DEPLOYING, DORMANT, ...) have had their side effects applied.
	registered := transitioned || soul.Status == models.SoulRegistered
	if registered {
		if err := in.store.SetWalletAddress(ctx, soul.ID, ev.BotWallet); err != nil {
			return err
		}
		if in.onRegistered != nil {
			if err := in.onRegistered(ctx, soul.ID); err != nil {
				// Terminal provisioning failures are recorded on the
				// deployment by the coordinator; the event itself is done.
				in.log.Error("provisioning after registration failed", "soul_id", soul.ID, "error", err)
			}
		}
	}
	if err := in.store.MarkEventProcessed(ctx, eventID); err != nil {
		return err
	}
	observability.RecordChainEvent(EventSoulRegistered, "processed")
	in.log.Info("soul registered", "soul_id", soul.ID, "wallet", ev.BotWallet, "block", ev.BlockNumber)
	return nil
}

// handleImmolation retires a soul. DORMANT is reachable from any
// non-terminal state, so this does not care where the soul currently is.
func (in *Ingestor) handleImmolation(ctx context.Context, eventID uint, ev ImmolationEvent) error {
	soul, ok, err := in.store.SoulByHash(ctx, ev.MemoryHash)
	if err != nil {
		return err
	}
	if !ok {
		in.log.Warn("immolation event for unknown soul, deferring", "memory_hash", ev.MemoryHash, "tx", ev.TxHash)
		observability.RecordChainEvent(EventImmolationConfirmed, "failed")
		return in.store.MarkEventFailed(ctx, eventID)
	}
	if err := in.store.TransitionAny(ctx, soul.ID, models.SoulDormant); err != nil && !errors.Is(err, ledger.ErrConflict) {
		return err
	}
	if err := in.store.MarkEventProcessed(ctx, eventID); err != nil {
		return err
	}
	observability.RecordChainEvent(EventImmolationConfirmed, "processed")
	in.log.Info("soul immolated", "soul_id", soul.ID, "block", ev.BlockNumber)
	return nil
}

// retryFailed replays deferred events whose soul has since appeared. This
// closes the upload/registration race without operator action; events for
// souls that never show up simply stay failed.
func (in *Ingestor) retryFailed(ctx context.Context) {
	for _, eventType := range []string{EventSoulRegistered, EventImmolationConfirmed} {
		rows, err := in.store.FailedEvents(ctx, eventType)
		if err != nil {
			in.log.Warn("listing failed events", "event", eventType, "error", err)
			return
		}
		for _, row := range rows {
			if err := in.replay(ctx, row); err != nil {
				in.log.Warn("replaying failed event", "event", eventType, "tx", row.TxHash, "error", err)
			}
		}
	}
}

func (in *Ingestor) replay(ctx context.Context, row models.EventLog) error {
	switch row.EventType {
	case EventSoulRegistered:
		var ev RegisteredEvent
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil || ev.MemoryHash == "" {
			return nil // no usable payload, nothing to replay
		}
		if _, ok, err := in.store.SoulByHash(ctx, ev.MemoryHash); err != nil || !ok {
			return err
		}
		return in.handleRegistered(ctx, row.ID, ev)
	case EventImmolationConfirmed:
		var ev ImmolationEvent
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil || ev.MemoryHash == "" {
			return nil
		}
		if _, ok, err := in.store.SoulByHash(ctx, ev.MemoryHash); err != nil || !ok {
			return err
		}
		return in.handleImmolation(ctx, row.ID, ev)
	default:
		return fmt.Errorf("unknown event type %q", row.EventType)
	}
}
