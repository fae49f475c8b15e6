// Package client holds the HTTP clients for sibling services. Calls that gate
// a financial decision (capacity snapshots, rosters, event cost parameters)
// fail closed; advisory triggers fail open and are only logged.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shuttleday/platform/internal/domain"
)

// RegistryClient talks to the event registry service.
type RegistryClient struct {
	baseURL string
	logger  *slog.Logger
	client  *http.Client
}

// NewRegistryClient creates a registry client with a short timeout; sibling
// calls must never hang a request.
func NewRegistryClient(baseURL string, logger *slog.Logger) *RegistryClient {
	return &RegistryClient{
		baseURL: baseURL,
		logger:  logger,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// GetEvent fetches a full event (courts and cost parameters included).
// Fail-closed: settlement and penalty decisions depend on the answer.
func (c *RegistryClient) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	var event domain.Event
	if err := c.get(ctx, fmt.Sprintf("/events/%s", id), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// GetSnapshot fetches the live capacity snapshot used for the
// registered-vs-waitlist decision. Fail-closed.
func (c *RegistryClient) GetSnapshot(ctx context.Context, id uuid.UUID) (*domain.EventSnapshot, error) {
	var snap domain.EventSnapshot
	if err := c.get(ctx, fmt.Sprintf("/events/%s/status", id), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// UpdateStatus asks the registry to move an event to a new status.
func (c *RegistryClient) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error {
	body, _ := json.Marshal(map[string]string{"status": string(status)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+fmt.Sprintf("/events/%s", id), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ErrUpstream("event registry unreachable", err)
	}
	defer resp.Body.Close()
	return decodeError(resp)
}

func (c *RegistryClient) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ErrUpstream("event registry unreachable", err)
	}
	defer resp.Body.Close()
	if err := decodeError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}

// decodeError maps a non-2xx sibling response onto a domain error, keeping the
// structured {code, message} payload when the sibling sent one.
func decodeError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Code != "" {
		return &domain.AppError{Code: payload.Code, Message: payload.Message, Status: resp.StatusCode}
	}
	return &domain.AppError{
		Code:    "UPSTREAM_ERROR",
		Message: fmt.Sprintf("sibling returned %d", resp.StatusCode),
		Status:  resp.StatusCode,
	}
}
