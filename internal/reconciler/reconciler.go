// Package reconciler keeps the capacity ledger consistent with registration
// outcomes. It is the only writer of seat counts besides direct admin edits;
// the registration service never touches event storage.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/bus"
	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/metrics"
	"github.com/shuttleday/platform/internal/repository"
)

// Publisher is the slice of the bus client the reconciler needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// Nudger pokes the registration service to fill freed seats right away
// instead of waiting out bus lag. Advisory and fail-open.
type Nudger interface {
	TriggerPromotion(ctx context.Context, eventID uuid.UUID)
}

// Reconciler applies join/cancel outcomes to the capacity ledger and opens
// slots for the waitlist promoter.
type Reconciler struct {
	db        repository.TxStarter
	events    repository.EventRepository
	processed repository.ProcessedEventRepository
	pub       Publisher
	nudge     Nudger
	logger    *slog.Logger
}

// New creates a reconciler.
func New(db repository.TxStarter, events repository.EventRepository, processed repository.ProcessedEventRepository, pub Publisher, nudge Nudger, logger *slog.Logger) *Reconciler {
	return &Reconciler{db: db, events: events, processed: processed, pub: pub, nudge: nudge, logger: logger}
}

// BindingKeys are the routing keys the reconciler queue must be bound to.
func BindingKeys() []string {
	return []string{
		bus.RoutingKey(domain.EventParticipantJoined),
		bus.RoutingKey(domain.EventParticipantCancelled),
	}
}

// Handle is the bus.Handler for the reconciler queue.
func (r *Reconciler) Handle(ctx context.Context, key string, env bus.Envelope) error {
	switch env.EventType {
	case domain.EventParticipantJoined:
		return r.handleJoined(ctx, env.Data)
	case domain.EventParticipantCancelled:
		return r.handleCancelled(ctx, env.Data)
	default:
		r.logger.Debug("ignoring event", "routing_key", key, "event_type", env.EventType)
		return nil
	}
}

func (r *Reconciler) handleJoined(ctx context.Context, data json.RawMessage) error {
	var ev domain.ParticipantJoined
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode participant.joined: %w", err)
	}
	// Waitlist joins hold no seat; only registered joins move the ledger.
	if ev.Status != string(domain.RegistrationRegistered) {
		return nil
	}

	// The dedup claim and the ledger write commit or roll back together: a
	// claim surviving a failed delta would turn the redelivery into a false
	// duplicate and lose the seat adjustment for good.
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback(ctx)

	first, err := r.processed.MarkProcessed(ctx, tx,
		dedupKey(domain.EventParticipantJoined, ev.RegistrationID.String()),
		domain.EventParticipantJoined)
	if err != nil {
		return err
	}
	if !first {
		metrics.Reconciled(domain.EventParticipantJoined, "duplicate")
		r.logger.Info("duplicate join delivery skipped", "registration_id", ev.RegistrationID)
		return nil
	}

	applied, err := r.events.ApplyCapacityDelta(ctx, tx, ev.EventID, +1)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	if !applied {
		// The event is gone; there is nothing to reconcile.
		metrics.Reconciled(domain.EventParticipantJoined, "missing_event")
		r.logger.Warn("join for unknown event ignored", "event_id", ev.EventID)
		return nil
	}
	metrics.Reconciled(domain.EventParticipantJoined, "ok")
	r.logger.Info("seat taken", "event_id", ev.EventID, "registration_id", ev.RegistrationID)
	return nil
}

func (r *Reconciler) handleCancelled(ctx context.Context, data json.RawMessage) error {
	var ev domain.ParticipantCancelled
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode participant.cancelled: %w", err)
	}
	// Canceling a waitlist spot frees no seat.
	if !ev.WasRegistered {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback(ctx)

	first, err := r.processed.MarkProcessed(ctx, tx,
		dedupKey(domain.EventParticipantCancelled, ev.RegistrationID.String()),
		domain.EventParticipantCancelled)
	if err != nil {
		return err
	}
	if !first {
		metrics.Reconciled(domain.EventParticipantCancelled, "duplicate")
		r.logger.Info("duplicate cancel delivery skipped", "registration_id", ev.RegistrationID)
		return nil
	}

	applied, err := r.events.ApplyCapacityDelta(ctx, tx, ev.EventID, -1)
	if err != nil {
		return err
	}
	if !applied {
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit reconcile: %w", err)
		}
		metrics.Reconciled(domain.EventParticipantCancelled, "missing_event")
		r.logger.Warn("cancel for unknown event ignored", "event_id", ev.EventID)
		return nil
	}

	// A seat just freed up; announce it so the promoter can fill it. The
	// publish happens before the commit so a failed publish rolls the claim
	// back and a redelivery gets another shot.
	if err := r.pub.Publish(ctx, domain.EventSlotOpened, domain.SlotOpened{
		EventID:     ev.EventID,
		OpenedSlots: 1,
	}); err != nil {
		return fmt.Errorf("publish slot opened: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	metrics.Reconciled(domain.EventParticipantCancelled, "ok")
	r.logger.Info("seat freed", "event_id", ev.EventID, "registration_id", ev.RegistrationID)

	if r.nudge != nil {
		r.nudge.TriggerPromotion(ctx, ev.EventID)
	}
	return nil
}

func dedupKey(eventType, entityID string) string {
	return eventType + ":" + entityID
}
