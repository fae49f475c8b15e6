// Package service holds the registration-side business workflows.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/promoter"
	"github.com/shuttleday/platform/internal/repository"
)

// Publisher is the slice of the bus client the registration service needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// Registry reads live event state from the registry service.
type Registry interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*domain.EventSnapshot, error)
}

// RegistrationService decides registered-vs-waitlist, cancels records and
// serves the roster.
//
// The registered-vs-waitlist decision consults a live capacity snapshot over
// HTTP; the authoritative ledger is only updated later by the capacity
// reconciler. Two registrations racing the same last seat can therefore both
// be accepted. That window is inherent to the split between snapshot reads
// and asynchronous reconciliation and is accepted here.
type RegistrationService struct {
	db            repository.DBTX
	registrations repository.RegistrationRepository
	registry      Registry
	pub           Publisher
	promoter      *promoter.Promoter
	penaltyWindow time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewRegistrationService creates the registration workflow service.
func NewRegistrationService(
	db repository.DBTX,
	registrations repository.RegistrationRepository,
	registry Registry,
	pub Publisher,
	prom *promoter.Promoter,
	penaltyWindow time.Duration,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		db:            db,
		registrations: registrations,
		registry:      registry,
		pub:           pub,
		promoter:      prom,
		penaltyWindow: penaltyWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// RegisterParams describes one registration attempt. Either UserID or the
// guest fields must be set.
type RegisterParams struct {
	EventID    uuid.UUID
	UserID     *uuid.UUID
	GuestName  string
	GuestPhone string
	StartTime  *time.Time
	EndTime    *time.Time
}

// Register places a player on the roster or the waitlist. The capacity check
// is fail-closed: no snapshot, no registration.
func (s *RegistrationService) Register(ctx context.Context, p RegisterParams) (*domain.Registration, error) {
	if p.UserID == nil && (p.GuestName == "" || p.GuestPhone == "") {
		return nil, domain.ErrValidation("either user_id or guest name and phone are required")
	}
	if p.UserID != nil && (p.GuestName != "" || p.GuestPhone != "") {
		return nil, domain.ErrValidation("user_id and guest fields are mutually exclusive")
	}

	snap, err := s.registry.GetSnapshot(ctx, p.EventID)
	if err != nil {
		return nil, err
	}
	if snap.Status != domain.EventUpcoming && snap.Status != domain.EventInProgress {
		return nil, domain.ErrStatusMismatch("event", string(snap.Status), "upcoming or in_progress")
	}

	status := domain.RegistrationRegistered
	if snap.Capacity.AvailableSlots <= 0 {
		if !snap.Capacity.WaitlistEnabled {
			return nil, domain.ErrEventFull()
		}
		status = domain.RegistrationWaitlist
	}

	reg := &domain.Registration{
		ID:               uuid.New(),
		EventID:          p.EventID,
		UserID:           p.UserID,
		GuestName:        p.GuestName,
		GuestPhone:       p.GuestPhone,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		Status:           status,
		RegistrationTime: s.now().UTC(),
	}
	if err := s.registrations.Create(ctx, s.db, reg); err != nil {
		return nil, err
	}

	eventType := domain.EventParticipantJoined
	if status == domain.RegistrationWaitlist {
		eventType = domain.EventWaitingAdded
	}
	// Capacity effects propagate asynchronously; a publish hiccup must not
	// fail the registration the caller already holds.
	if err := s.pub.Publish(ctx, eventType, domain.ParticipantJoined{
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		UserID:         reg.UserID,
		Status:         string(status),
	}); err != nil {
		s.logger.Error("publish registration event failed", "registration_id", reg.ID, "error", err)
	}

	s.logger.Info("registration accepted",
		"event_id", reg.EventID, "registration_id", reg.ID, "status", status)
	return reg, nil
}

// Cancel flips a record to canceled. Canceling an already-canceled record is
// rejected so capacity is never refunded twice. The penalty decision needs the
// event's first session start and is fail-closed.
func (s *RegistrationService) Cancel(ctx context.Context, eventID, registrationID uuid.UUID) (*domain.Registration, error) {
	reg, err := s.registrations.FindByID(ctx, s.db, registrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil || reg.EventID != eventID {
		return nil, domain.ErrNotFound("registration", registrationID.String())
	}

	isPenalty := false
	if reg.Status == domain.RegistrationRegistered {
		event, err := s.registry.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if first := event.FirstStart(); !first.IsZero() {
			isPenalty = !s.now().Before(first.Add(-s.penaltyWindow))
		}
	}

	prior, ok, err := s.registrations.CancelIfActive(ctx, s.db, registrationID, isPenalty)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrConflict("registration is already canceled")
	}

	if err := s.pub.Publish(ctx, domain.EventParticipantCancelled, domain.ParticipantCancelled{
		EventID:        eventID,
		RegistrationID: registrationID,
		WasRegistered:  prior == domain.RegistrationRegistered,
		IsPenalty:      isPenalty,
	}); err != nil {
		s.logger.Error("publish cancellation event failed", "registration_id", registrationID, "error", err)
	}

	now := s.now().UTC()
	reg.Status = domain.RegistrationCanceled
	reg.IsPenalty = isPenalty
	reg.CanceledAt = &now
	s.logger.Info("registration canceled",
		"event_id", eventID, "registration_id", registrationID,
		"was", prior, "penalty", isPenalty)
	return reg, nil
}

// Roster returns all records for an event, oldest first.
func (s *RegistrationService) Roster(ctx context.Context, eventID uuid.UUID) ([]domain.Registration, error) {
	return s.registrations.ListByEvent(ctx, s.db, eventID)
}

// PromoteWaitlist is the advisory HTTP trigger: promote up to slots players
// through the same compare-and-swap path the bus-driven promoter uses.
func (s *RegistrationService) PromoteWaitlist(ctx context.Context, eventID uuid.UUID, slots int) (int, error) {
	if slots <= 0 {
		slots = 1
	}
	return s.promoter.Promote(ctx, eventID, slots)
}
