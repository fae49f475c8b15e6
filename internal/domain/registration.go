package domain

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationStatus tracks a player's standing on an event roster.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationWaitlist   RegistrationStatus = "waitlist"
	RegistrationCanceled   RegistrationStatus = "canceled"
)

// Registration is a registration-service-owned roster record. EventID is a
// weak reference into the registry service, not ownership. Either UserID is
// set (members) or GuestName/GuestPhone are (guests), never both.
//
// RegistrationTime is the waitlist FIFO key: promotions always pick the
// oldest waitlisted record for the event.
type Registration struct {
	ID               uuid.UUID          `json:"id"`
	EventID          uuid.UUID          `json:"event_id"`
	UserID           *uuid.UUID         `json:"user_id,omitempty"`
	GuestName        string             `json:"guest_name,omitempty"`
	GuestPhone       string             `json:"guest_phone,omitempty"`
	StartTime        *time.Time         `json:"start_time,omitempty"`
	EndTime          *time.Time         `json:"end_time,omitempty"`
	Status           RegistrationStatus `json:"status"`
	IsPenalty        bool               `json:"is_penalty"`
	RegistrationTime time.Time          `json:"registration_time"`
	CanceledAt       *time.Time         `json:"canceled_at,omitempty"`
}

// IsGuest reports whether the record belongs to a walk-in without an account.
func (r *Registration) IsGuest() bool {
	return r.UserID == nil
}
