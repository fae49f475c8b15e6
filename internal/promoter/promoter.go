// Package promoter converts opened slots into promoted registrations, FIFO by
// original registration time.
package promoter

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

// Publisher is the slice of the bus client the promoter needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// Promoter fills freed seats from the waitlist.
type Promoter struct {
	db            repository.DBTX
	registrations repository.RegistrationRepository
	pub           Publisher
	logger        *slog.Logger
}

// New creates a promoter.
func New(db repository.DBTX, registrations repository.RegistrationRepository, pub Publisher, logger *slog.Logger) *Promoter {
	return &Promoter{db: db, registrations: registrations, pub: pub, logger: logger}
}

// BindingKeys are the routing keys the promoter queue must be bound to.
func BindingKeys() []string {
	return []string{bus.RoutingKey(domain.EventSlotOpened)}
}

// Handle is the bus.Handler for the promoter queue.
func (p *Promoter) Handle(ctx context.Context, key string, env bus.Envelope) error {
	if env.EventType != domain.EventSlotOpened {
		p.logger.Debug("ignoring event", "routing_key", key, "event_type", env.EventType)
		return nil
	}
	var ev domain.SlotOpened
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return fmt.Errorf("decode slot.opened: %w", err)
	}
	_, err := p.Promote(ctx, ev.EventID, ev.OpenedSlots)
	return err
}

// Promote flips up to slots of the event's oldest waitlisted players to
// registered and announces each promotion. Returns how many were promoted;
// stops early when the waitlist runs out.
//
// Each flip is a compare-and-swap on the prior status, so two instances
// racing over the same "oldest" record cannot both promote it: the loser's
// update matches zero rows and it moves on to the next candidate.
func (p *Promoter) Promote(ctx context.Context, eventID uuid.UUID, slots int) (int, error) {
	promoted := 0
	for promoted < slots {
		candidate, err := p.registrations.OldestWaitlisted(ctx, p.db, eventID)
		if err != nil {
			return promoted, err
		}
		if candidate == nil {
			// Empty waitlist; never manufacture slots.
			break
		}

		ok, err := p.registrations.PromoteIfWaitlisted(ctx, p.db, candidate.ID)
		if err != nil {
			return promoted, err
		}
		if !ok {
			// Lost the race for this record; try the next oldest.
			p.logger.Info("promotion cas lost, retrying", "event_id", eventID, "registration_id", candidate.ID)
			continue
		}

		promoted++
		metrics.Promoted()
		p.logger.Info("waitlist promoted",
			"event_id", eventID, "registration_id", candidate.ID,
			"registered_since", candidate.RegistrationTime)

		if err := p.pub.Publish(ctx, domain.EventWaitlistPromoted, domain.WaitlistPromoted{
			EventID:        eventID,
			RegistrationID: candidate.ID,
		}); err != nil {
			return promoted, fmt.Errorf("publish waitlist.promoted: %w", err)
		}
	}
	return promoted, nil
}
