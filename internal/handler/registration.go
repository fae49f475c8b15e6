package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/service"
)

// RegistrationHandler serves the roster surface of the registration service.
type RegistrationHandler struct {
	svc    *service.RegistrationService
	logger *slog.Logger
}

// NewRegistrationHandler creates a registration handler.
func NewRegistrationHandler(svc *service.RegistrationService, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, logger: logger}
}

// Routes mounts the registration endpoints.
func (h *RegistrationHandler) Routes(r chi.Router) {
	r.Post("/registration/events/{id}/players", h.Register)
	r.Delete("/registration/events/{id}/players/{playerId}", h.Cancel)
	r.Get("/registration/events/{id}/players", h.Roster)
	r.Post("/registration/events/{id}/promote-waitlist", h.Promote)
}

type registerRequest struct {
	GuestName  string     `json:"name,omitempty"`
	GuestPhone string     `json:"phone_number,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// Register accepts a member (via the gateway-injected X-User-Id header) or a
// guest (name and phone in the body).
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	var req registerRequest
	if err := DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	params := service.RegisterParams{
		EventID:    eventID,
		GuestName:  req.GuestName,
		GuestPhone: req.GuestPhone,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	}
	if header := r.Header.Get("X-User-Id"); header != "" {
		userID, err := uuid.Parse(header)
		if err != nil {
			RespondError(w, domain.ErrValidation("invalid X-User-Id header"))
			return
		}
		params.UserID = &userID
	}

	reg, err := h.svc.Register(r.Context(), params)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, reg)
}

// Cancel withdraws a registration; repeated cancels are rejected.
func (h *RegistrationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	playerID, err := uuid.Parse(chi.URLParam(r, "playerId"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid player id"))
		return
	}

	reg, err := h.svc.Cancel(r.Context(), eventID, playerID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, reg)
}

// Roster returns every roster record for the event, oldest first. The
// settlement service consumes this after play ends.
func (h *RegistrationHandler) Roster(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	players, err := h.svc.Roster(r.Context(), eventID)
	if err != nil {
		h.logger.Error("roster failed", "event_id", eventID, "error", err)
		RespondError(w, err)
		return
	}
	if players == nil {
		players = []domain.Registration{}
	}
	RespondJSON(w, http.StatusOK, players)
}

// Promote is the advisory waitlist-promotion trigger.
func (h *RegistrationHandler) Promote(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid event id"))
		return
	}
	slots := 1
	if q := r.URL.Query().Get("slots"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			slots = n
		}
	}
	promoted, err := h.svc.PromoteWaitlist(r.Context(), eventID, slots)
	if err != nil {
		h.logger.Error("promotion trigger failed", "event_id", eventID, "error", err)
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"promoted": promoted})
}
