package api

import (
	"encoding/json"
	"time"

	"github.com/nhle/chatsync/internal/model"
)

// errorResponse is the FastAPI error body shape. Detail is either a string
// or a list of validation objects.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

type createSessionRequest struct {
	PersonaID string `json:"persona_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SessionDescriptor is the session metadata returned alongside messages
// and summaries.
type SessionDescriptor struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionMessages is the response of the session messages endpoint.
type SessionMessages struct {
	Session  SessionDescriptor `json:"session"`
	Messages []model.Message   `json:"messages"`
}

type summaryResponse struct {
	Session SessionDescriptor `json:"session"`
	Summary *model.Summary    `json:"summary"`
}

type chatSendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatReply is the response of the chat send endpoint.
type ChatReply struct {
	SessionID string `json:"session_id"`
	PersonaID string `json:"persona_id"`

	// Assistant is the final assistant reply text.
	Assistant string `json:"assistant"`

	// Judge is the verdict on the assistant reply.
	Judge model.Verdict `json:"judge"`

	// ToolEvents are side-channel events from server-side tools.
	ToolEvents []model.ToolEvent `json:"tool_events"`

	// AlertsCreated lists alerts the server created for this turn, when
	// the server reports them outside of tool events.
	AlertsCreated []model.Alert `json:"alerts_created,omitempty"`

	// UserMessageID and AssistantMessageID are the persisted message ids,
	// when the server returns them.
	UserMessageID      string `json:"user_message_id,omitempty"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
}

// CreatedAlerts reports whether the reply signals that alerts were
// created, either through tool events or the explicit list.
func (r *ChatReply) CreatedAlerts() bool {
	if len(r.AlertsCreated) > 0 {
		return true
	}
	for _, ev := range r.ToolEvents {
		if ev.CreatesAlerts() {
			return true
		}
	}
	return false
}

// AlertFilter selects alerts for ListAlerts.
type AlertFilter struct {
	Scope     model.AlertScope
	SessionID string
	Status    model.AlertStatus
	Limit     int
}

type okResponse struct {
	OK bool `json:"ok"`
}

type healthResponse struct {
	Status string `json:"status"`
}
