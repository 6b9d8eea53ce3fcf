package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/nhle/chatsync/internal/model"
)

// MaxMessageLength is the longest chat message the service accepts.
const MaxMessageLength = 4000

// ErrInvalidMessage is returned for empty or oversized chat messages
// before any request is made.
var ErrInvalidMessage = errors.New("message must be between 1 and 4000 characters")

// Health checks that the service is reachable.
func (c *Client) Health(ctx context.Context) error {
	var resp healthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return fmt.Errorf("checking health: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("checking health: unexpected status %q", resp.Status)
	}
	return nil
}

// ListPersonas returns the personas offered by the service, in service
// order.
func (c *Client) ListPersonas(ctx context.Context) ([]model.Persona, error) {
	var personas []model.Persona
	if err := c.get(ctx, "/personas", &personas); err != nil {
		return nil, fmt.Errorf("listing personas: %w", err)
	}
	return personas, nil
}

// CreateSession creates a session bound to personaID and returns its id.
func (c *Client) CreateSession(ctx context.Context, personaID string) (string, error) {
	var resp createSessionResponse
	err := c.post(ctx, "/sessions", createSessionRequest{PersonaID: personaID}, &resp)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("creating session: response carried no session id")
	}
	return resp.SessionID, nil
}

// GetSessionMessages returns the session descriptor and up to limit
// messages in chronological order.
func (c *Client) GetSessionMessages(
	ctx context.Context,
	sessionID string,
	limit int,
) (*SessionMessages, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp SessionMessages
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("getting messages for session %s: %w", sessionID, err)
	}
	return &resp, nil
}

// GetSessionSummary returns the rolling summary, or nil when the service
// has not produced one yet.
func (c *Client) GetSessionSummary(ctx context.Context, sessionID string) (*model.Summary, error) {
	var resp summaryResponse
	path := "/sessions/" + url.PathEscape(sessionID) + "/summary"
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("getting summary for session %s: %w", sessionID, err)
	}
	return resp.Summary, nil
}

// SendChat posts a user message and returns the assistant reply.
func (c *Client) SendChat(ctx context.Context, sessionID, text string) (*ChatReply, error) {
	if n := utf8.RuneCountInString(text); n == 0 || n > MaxMessageLength {
		return nil, ErrInvalidMessage
	}

	var resp ChatReply
	err := c.post(ctx, "/chat/send", chatSendRequest{SessionID: sessionID, Message: text}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sending chat message: %w", err)
	}
	return &resp, nil
}

// ListAlerts returns alerts matching filter. An empty scope means global.
func (c *Client) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	scope := filter.Scope
	if scope == "" {
		scope = model.AlertScopeGlobal
	}
	if scope == model.AlertScopeSession && filter.SessionID == "" {
		return nil, fmt.Errorf("listing alerts: session scope requires a session id")
	}

	q := url.Values{}
	q.Set("scope", string(scope))
	if filter.SessionID != "" {
		q.Set("session_id", filter.SessionID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var alerts []model.Alert
	if err := c.get(ctx, "/alerts?"+q.Encode(), &alerts); err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return alerts, nil
}

// UpdateAlert moves an alert to done or cancelled.
func (c *Client) UpdateAlert(ctx context.Context, alertID string, status model.AlertStatus) error {
	var action string
	switch status {
	case model.AlertStatusDone:
		action = "done"
	case model.AlertStatusCancelled:
		action = "cancel"
	default:
		return fmt.Errorf("updating alert %s: unsupported status %q", alertID, status)
	}

	var resp okResponse
	path := "/alerts/" + url.PathEscape(alertID) + "/" + action
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return fmt.Errorf("updating alert %s: %w", alertID, err)
	}
	if !resp.OK {
		return fmt.Errorf("updating alert %s: not acknowledged", alertID)
	}
	return nil
}

// ListDueAlerts returns alerts whose due time has arrived. An empty
// sessionID lists due alerts across all sessions.
func (c *Client) ListDueAlerts(ctx context.Context, sessionID string, limit int) ([]model.Alert, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/alerts/due"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var alerts []model.Alert
	if err := c.get(ctx, path, &alerts); err != nil {
		return nil, fmt.Errorf("listing due alerts: %w", err)
	}
	return alerts, nil
}
