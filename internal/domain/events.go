package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Domain event types carried on the message bus. Routing keys are
// "event.<type>" (see the bus package).
const (
	EventParticipantJoined    = "participant.joined"
	EventWaitingAdded         = "waiting.added"
	EventParticipantCancelled = "participant.cancelled"
	EventSlotOpened           = "event.capacity.slot.opened"
	EventWaitlistPromoted     = "waitlist.promoted"
	EventChargeRequested      = "payment.charge.requested"
)

// ParticipantJoined is published by the registration service for every
// accepted registration; Status distinguishes a seat from a waitlist spot.
type ParticipantJoined struct {
	EventID        uuid.UUID  `json:"eventId"`
	RegistrationID uuid.UUID  `json:"registrationId"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	Status         string     `json:"status"`
}

// ParticipantCancelled is published when a roster record is canceled.
// WasRegistered tells the reconciler whether a seat was actually freed.
type ParticipantCancelled struct {
	EventID        uuid.UUID `json:"eventId"`
	RegistrationID uuid.UUID `json:"registrationId"`
	WasRegistered  bool      `json:"wasRegistered"`
	IsPenalty      bool      `json:"isPenalty"`
}

// SlotOpened is published by the capacity reconciler after a reconciled
// cancellation frees a seat.
type SlotOpened struct {
	EventID     uuid.UUID `json:"eventId"`
	OpenedSlots int       `json:"openedSlots"`
}

// WaitlistPromoted announces that a waitlisted record was flipped to
// registered.
type WaitlistPromoted struct {
	EventID        uuid.UUID `json:"eventId"`
	RegistrationID uuid.UUID `json:"registrationId"`
}

// ChargeRequested asks the payment subsystem to collect one player's share of
// a settled event.
type ChargeRequested struct {
	SettlementID uuid.UUID       `json:"settlementId"`
	EventID      uuid.UUID       `json:"eventId"`
	PlayerID     uuid.UUID       `json:"playerId"`
	Amount       decimal.Decimal `json:"amount"`
	CourtFee     decimal.Decimal `json:"court_fee"`
	Shuttlecock  decimal.Decimal `json:"shuttlecock_fee"`
	PenaltyFee   decimal.Decimal `json:"penalty_fee"`
	HoursPlayed  int             `json:"hours_played"`
}
