package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventStatus tracks the lifecycle of a badminton event.
type EventStatus string

const (
	EventUpcoming        EventStatus = "upcoming"
	EventInProgress      EventStatus = "in_progress"
	EventCalculating     EventStatus = "calculating"
	EventAwaitingPayment EventStatus = "awaiting_payment"
	EventCompleted       EventStatus = "completed"
	EventCanceled        EventStatus = "canceled"
)

// CourtSession is one booked court with its play window.
type CourtSession struct {
	CourtNumber int       `json:"court_number"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// Capacity is the authoritative seat-count record for an event.
// Invariant: AvailableSlots == max(0, MaxParticipants - CurrentParticipants).
type Capacity struct {
	MaxParticipants     int  `json:"max_participants"`
	CurrentParticipants int  `json:"current_participants"`
	AvailableSlots      int  `json:"available_slots"`
	WaitlistEnabled     bool `json:"waitlist_enabled"`
}

// CostParams holds the pricing inputs used by settlement.
type CostParams struct {
	ShuttlecockPrice decimal.Decimal `json:"shuttlecock_price"`
	CourtHourlyRate  decimal.Decimal `json:"court_hourly_rate"`
	PenaltyFee       decimal.Decimal `json:"penalty_fee"`
	ShuttlecockCount int             `json:"shuttlecock_count"`
}

// Event is the registry-owned aggregate. Mutated only by admin edits and the
// capacity reconciler; sibling services read it over HTTP.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title"`
	EventDate time.Time      `json:"event_date"`
	Courts    []CourtSession `json:"courts"`
	Capacity  Capacity       `json:"capacity"`
	Status    EventStatus    `json:"status"`
	Costs     CostParams     `json:"costs"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// EventSnapshot is the live capacity view served to sibling services while
// they decide registered-vs-waitlist. It is advisory: the capacity ledger may
// move between the snapshot and the reconciled outcome.
type EventSnapshot struct {
	EventID  uuid.UUID   `json:"event_id"`
	Status   EventStatus `json:"status"`
	Capacity Capacity    `json:"capacity"`
}

// FirstStart returns the earliest court session start, or zero if no courts.
func (e *Event) FirstStart() time.Time {
	var first time.Time
	for _, c := range e.Courts {
		if first.IsZero() || c.StartTime.Before(first) {
			first = c.StartTime
		}
	}
	return first
}

// LastEnd returns the latest court session end, or zero if no courts.
func (e *Event) LastEnd() time.Time {
	var last time.Time
	for _, c := range e.Courts {
		if c.EndTime.After(last) {
			last = c.EndTime
		}
	}
	return last
}

// Lifecycle order for the time-driven statuses; settlement/admin statuses hang
// off the end and are never reverted.
var eventStatusRank = map[EventStatus]int{
	EventUpcoming:        0,
	EventInProgress:      1,
	EventCalculating:     2,
	EventAwaitingPayment: 3,
	EventCompleted:       4,
}

// AllowedTransition reports whether moving an event between two statuses is
// legal. Statuses only move forward; cancellation is allowed from any
// non-terminal state.
func AllowedTransition(from, to EventStatus) bool {
	if from == to {
		return false
	}
	if to == EventCanceled {
		return from != EventCompleted && from != EventCanceled
	}
	if from == EventCanceled {
		return false
	}
	fr, ok := eventStatusRank[from]
	if !ok {
		return false
	}
	tr, ok := eventStatusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}
