// Package handler exposes the sibling-facing HTTP surfaces of the three
// services. Authentication is delegated to an upstream gateway that injects
// trusted identity headers; handlers take them at face value.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/repository"
)

// RegistryHandler serves the event registry surface consumed by the
// registration and settlement services.
type RegistryHandler struct {
	db     repository.DBTX
	events repository.EventRepository
	logger *slog.Logger
}

// NewRegistryHandler creates a registry handler.
func NewRegistryHandler(db repository.DBTX, events repository.EventRepository, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{db: db, events: events, logger: logger}
}

// Routes mounts the registry endpoints.
func (h *RegistryHandler) Routes(r chi.Router) {
	r.Post("/events", h.CreateEvent)
	r.Get("/events/{id}", h.GetEvent)
	r.Get("/events/{id}/status", h.GetStatus)
	r.Patch("/events/{id}", h.PatchEvent)
}

type createEventRequest struct {
	Title            string                `json:"title"`
	EventDate        time.Time             `json:"event_date"`
	Courts           []domain.CourtSession `json:"courts"`
	MaxParticipants  int                   `json:"max_participants"`
	ShuttlecockPrice string                `json:"shuttlecock_price"`
	CourtHourlyRate  string                `json:"court_hourly_rate"`
	PenaltyFee       string                `json:"penalty_fee"`
	ShuttlecockCount int                   `json:"shuttlecock_count"`
}

// CreateEvent is the direct admin edit that seeds the capacity ledger.
func (h *RegistryHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.MaxParticipants <= 0 {
		RespondError(w, domain.ErrValidation("max_participants must be positive"))
		return
	}
	if len(req.Courts) == 0 {
		RespondError(w, domain.ErrValidation("at least one court session is required"))
		return
	}
	costs, err := parseCosts(req.ShuttlecockPrice, req.CourtHourlyRate, req.PenaltyFee, req.ShuttlecockCount)
	if err != nil {
		RespondError(w, err)
		return
	}

	event := &domain.Event{
		ID:        uuid.New(),
		Title:     req.Title,
		EventDate: req.EventDate,
		Courts:    req.Courts,
		Status:    domain.EventUpcoming,
		Capacity: domain.Capacity{
			MaxParticipants: req.MaxParticipants,
			AvailableSlots:  req.MaxParticipants,
		},
		Costs: costs,
	}
	if err := h.events.Create(r.Context(), h.db, event); err != nil {
		h.logger.Error("create event failed", "error", err)
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, event)
}

// GetEvent returns the full event: courts and cost parameters included.
func (h *RegistryHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	event, err := h.events.FindByID(r.Context(), h.db, id)
	if err != nil {
		h.logger.Error("get event failed", "event_id", id, "error", err)
		RespondError(w, err)
		return
	}
	if event == nil {
		RespondError(w, domain.ErrNotFound("event", id.String()))
		return
	}
	RespondJSON(w, http.StatusOK, event)
}

// GetStatus returns the live capacity snapshot.
func (h *RegistryHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	snap, err := h.events.Snapshot(r.Context(), h.db, id)
	if err != nil {
		h.logger.Error("snapshot failed", "event_id", id, "error", err)
		RespondError(w, err)
		return
	}
	if snap == nil {
		RespondError(w, domain.ErrNotFound("event", id.String()))
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// PatchEvent applies a status transition. Transitions are validated against
// the forward-only lifecycle.
func (h *RegistryHandler) PatchEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	var req struct {
		Status domain.EventStatus `json:"status"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Status == "" {
		RespondError(w, domain.ErrValidation("status is required"))
		return
	}

	event, err := h.events.FindByID(r.Context(), h.db, id)
	if err != nil {
		RespondError(w, err)
		return
	}
	if event == nil {
		RespondError(w, domain.ErrNotFound("event", id.String()))
		return
	}
	if !domain.AllowedTransition(event.Status, req.Status) {
		RespondError(w, domain.ErrStatusMismatch("event", string(event.Status),
			"a status that can move to "+string(req.Status)))
		return
	}

	ok, err := h.events.UpdateStatus(r.Context(), h.db, id, event.Status, req.Status)
	if err != nil {
		h.logger.Error("status update failed", "event_id", id, "error", err)
		RespondError(w, err)
		return
	}
	if !ok {
		// Lost a race with another transition; the caller should re-read.
		RespondError(w, domain.ErrConflict("event status changed concurrently"))
		return
	}
	event.Status = req.Status
	RespondJSON(w, http.StatusOK, event)
}

func parseCosts(price, rate, penalty string, count int) (domain.CostParams, error) {
	costs := domain.CostParams{ShuttlecockCount: count}
	var err error
	if costs.ShuttlecockPrice, err = parseMoney(price); err != nil {
		return costs, domain.ErrValidation("invalid shuttlecock_price")
	}
	if costs.CourtHourlyRate, err = parseMoney(rate); err != nil {
		return costs, domain.ErrValidation("invalid court_hourly_rate")
	}
	if costs.PenaltyFee, err = parseMoney(penalty); err != nil {
		return costs, domain.ErrValidation("invalid penalty_fee")
	}
	return costs, nil
}

// parseMoney parses a decimal money field; empty means zero.
func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
