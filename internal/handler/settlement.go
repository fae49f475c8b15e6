package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/settlement"
)

// SettlementHandler serves the settlement trigger and lookups.
type SettlementHandler struct {
	svc    *settlement.Service
	logger *slog.Logger
}

// NewSettlementHandler creates a settlement handler.
func NewSettlementHandler(svc *settlement.Service, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{svc: svc, logger: logger}
}

// Routes mounts the settlement endpoints.
func (h *SettlementHandler) Routes(r chi.Router) {
	r.Post("/settlements/calculate-and-charge", h.CalculateAndCharge)
	r.Get("/settlements/{id}", h.Get)
}

// CalculateAndCharge runs settlement for one event and emits charge requests.
func (h *SettlementHandler) CalculateAndCharge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string `json:"event_id"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event_id"))
		return
	}

	st, err := h.svc.CalculateAndCharge(r.Context(), eventID)
	if err != nil {
		h.logger.Error("settlement run failed", "event_id", eventID, "error", err)
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, st)
}

// Get returns a settlement with its breakdown.
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid settlement id"))
		return
	}
	st, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, st)
}
