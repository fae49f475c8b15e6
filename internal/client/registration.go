package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/domain"
)

// RegistrationClient talks to the registration service.
type RegistrationClient struct {
	baseURL string
	logger  *slog.Logger
	client  *http.Client
}

// NewRegistrationClient creates a registration client with a short timeout.
func NewRegistrationClient(baseURL string, logger *slog.Logger) *RegistrationClient {
	return &RegistrationClient{
		baseURL: baseURL,
		logger:  logger,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// ListPlayers fetches the roster for settlement. Fail-closed: a settlement run
// without the real roster would bill the wrong people.
func (c *RegistrationClient) ListPlayers(ctx context.Context, eventID uuid.UUID) ([]domain.Registration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+fmt.Sprintf("/registration/events/%s/players", eventID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.ErrUpstream("registration service unreachable", err)
	}
	defer resp.Body.Close()
	if err := decodeError(resp); err != nil {
		return nil, err
	}
	var players []domain.Registration
	if err := json.NewDecoder(resp.Body).Decode(&players); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return players, nil
}

// TriggerPromotion nudges the registration service to promote waitlisted
// players. Advisory and fail-open: the waitlist promoter consumes the same
// slot-opened events, so a missed nudge only delays the promotion.
func (c *RegistrationClient) TriggerPromotion(ctx context.Context, eventID uuid.UUID) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+fmt.Sprintf("/registration/events/%s/promote-waitlist", eventID), nil)
	if err != nil {
		c.logger.Warn("promotion trigger request failed", "event_id", eventID, "error", err)
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("promotion trigger unreachable", "event_id", eventID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.logger.Warn("promotion trigger rejected", "event_id", eventID, "status", resp.StatusCode)
	}
}
