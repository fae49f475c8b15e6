package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus tracks a settlement run.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "pending"
	SettlementProcessing SettlementStatus = "processing"
	SettlementCompleted  SettlementStatus = "completed"
	SettlementFailed     SettlementStatus = "failed"
)

// HourLine is one hour of court time as billed to one player: how many played
// players shared the hour and what each of them owes for it. CostPerPlayer is
// deliberately unrounded so that summing lines reproduces the hour's full rate.
type HourLine struct {
	Hour             time.Time       `json:"hour"`
	PlayersInSession int             `json:"players_in_session"`
	CostPerPlayer    decimal.Decimal `json:"cost_per_player"`
}

// PlayerBreakdown is one player's share of the event bill. Exactly one of
// (CourtFee+ShuttlecockFee) or PenaltyFee is non-zero: played players never pay
// penalties and canceled players pay nothing else.
type PlayerBreakdown struct {
	PlayerID        uuid.UUID       `json:"player_id"`
	CourtFee        decimal.Decimal `json:"court_fee"`
	ShuttlecockFee  decimal.Decimal `json:"shuttlecock_fee"`
	PenaltyFee      decimal.Decimal `json:"penalty_fee"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	HoursPlayed     int             `json:"hours_played"`
	PerHourSessions []HourLine      `json:"per_hour_sessions,omitempty"`

	// Attached after the charge request is handed to the payment subsystem.
	PaymentRef   string `json:"payment_ref,omitempty"`
	ChargeStatus string `json:"charge_status,omitempty"`
}

// Settlement is the computed per-player cost breakdown for a finished event.
// Breakdown rows are immutable once written; only payment references are
// attached afterwards.
type Settlement struct {
	ID                uuid.UUID         `json:"id"`
	EventID           uuid.UUID         `json:"event_id"`
	Items             []PlayerBreakdown `json:"items"`
	TotalCollected    decimal.Decimal   `json:"total_collected"`
	SuccessfulCharges int               `json:"successful_charges"`
	FailedCharges     int               `json:"failed_charges"`
	Status            SettlementStatus  `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
}
