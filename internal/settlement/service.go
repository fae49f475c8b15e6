package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/metrics"
	"github.com/shuttleday/platform/internal/repository"
)

// Publisher is the slice of the bus client the settlement service needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// Registry fetches event data from the registry service. Fail-closed.
type Registry interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error
}

// Roster fetches the player roster from the registration service. Fail-closed.
type Roster interface {
	ListPlayers(ctx context.Context, eventID uuid.UUID) ([]domain.Registration, error)
}

// Service runs settlement for events that have finished playing.
type Service struct {
	db          repository.DBTX
	settlements repository.SettlementRepository
	registry    Registry
	roster      Roster
	pub         Publisher
	logger      *slog.Logger
}

// NewService creates a settlement service.
func NewService(db repository.DBTX, settlements repository.SettlementRepository, registry Registry, roster Roster, pub Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:          db,
		settlements: settlements,
		registry:    registry,
		roster:      roster,
		pub:         pub,
		logger:      logger,
	}
}

// CalculateAndCharge fetches the event and its final roster, computes the
// per-player bill, persists it and emits one charge request per player owing a
// non-zero amount. Re-triggering an already settled event returns the existing
// settlement untouched.
func (s *Service) CalculateAndCharge(ctx context.Context, eventID uuid.UUID) (*domain.Settlement, error) {
	event, err := s.registry.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	// The existing-settlement check runs before the status gate: once a
	// settlement exists the event has usually moved past calculating, and a
	// re-trigger must still get the existing settlement back, not a conflict.
	if existing, err := s.settlements.FindByEvent(ctx, s.db, eventID); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.Info("settlement already exists", "event_id", eventID, "settlement_id", existing.ID)
		return existing, nil
	}

	if event.Status != domain.EventCalculating {
		return nil, domain.ErrStatusMismatch("event", string(event.Status), string(domain.EventCalculating))
	}

	players, err := s.roster.ListPlayers(ctx, eventID)
	if err != nil {
		return nil, err
	}

	items, totals := Calculate(players, event.Courts, event.Costs)

	st := &domain.Settlement{
		ID:             uuid.New(),
		EventID:        eventID,
		Items:          items,
		TotalCollected: totals.Grand,
		Status:         domain.SettlementProcessing,
	}
	if err := s.settlements.Insert(ctx, s.db, st); err != nil {
		return nil, fmt.Errorf("persist settlement: %w", err)
	}
	s.logger.Info("settlement calculated",
		"event_id", eventID, "settlement_id", st.ID,
		"players", len(items), "total", totals.Grand)

	successful, failed := 0, 0
	for _, item := range items {
		if !item.TotalAmount.IsPositive() {
			continue
		}
		err := s.pub.Publish(ctx, domain.EventChargeRequested, domain.ChargeRequested{
			SettlementID: st.ID,
			EventID:      eventID,
			PlayerID:     item.PlayerID,
			Amount:       item.TotalAmount,
			CourtFee:     item.CourtFee,
			Shuttlecock:  item.ShuttlecockFee,
			PenaltyFee:   item.PenaltyFee,
			HoursPlayed:  item.HoursPlayed,
		})
		if err != nil {
			failed++
			s.logger.Error("charge request failed", "settlement_id", st.ID, "player_id", item.PlayerID, "error", err)
			continue
		}
		successful++
		if err := s.settlements.AttachPaymentRef(ctx, s.db, st.ID, item.PlayerID, "", "requested"); err != nil {
			s.logger.Warn("mark charge requested failed", "settlement_id", st.ID, "player_id", item.PlayerID, "error", err)
		}
	}

	st.SuccessfulCharges = successful
	st.FailedCharges = failed
	st.Status = domain.SettlementCompleted
	if failed > 0 {
		st.Status = domain.SettlementFailed
	}
	if err := s.settlements.Finish(ctx, s.db, st.ID, st.Status, successful, failed); err != nil {
		return nil, fmt.Errorf("finish settlement: %w", err)
	}
	metrics.SettlementRun(string(st.Status))

	// The charge requests are out; the event now waits on payments. This is
	// advisory relative to the persisted settlement.
	if err := s.registry.UpdateStatus(ctx, eventID, domain.EventAwaitingPayment); err != nil {
		s.logger.Warn("event status update failed", "event_id", eventID, "error", err)
	}

	return st, nil
}

// Get returns a settlement by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	st, err := s.settlements.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, domain.ErrNotFound("settlement", id.String())
	}
	return st, nil
}
