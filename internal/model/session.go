package model

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a bounded conversational context bound to one persona.
type Session struct {
	// ID is the server-issued session identifier.
	ID string `json:"id"`

	// PersonaID is the persona the session was created with. It never
	// changes for the lifetime of the session.
	PersonaID string `json:"persona_id"`

	// CreatedAt is when the server created the session.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last time the client observed a change.
	UpdatedAt time.Time `json:"updated_at"`

	// Summary is the rolling summary, nil until the server produced one.
	Summary *Summary `json:"summary,omitempty"`
}

// Summary is the server-maintained rolling summary of a session.
type Summary struct {
	Text      string    `json:"summary"`
	OpenLoops []string  `json:"open_loops"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single entry in a session's message log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Provisional marks a locally created entry that the server has not
	// confirmed yet.
	Provisional bool `json:"provisional,omitempty"`
}

// VerdictKind is the judge's classification of an assistant reply.
type VerdictKind string

const (
	VerdictPass    VerdictKind = "PASS"
	VerdictRewrite VerdictKind = "REWRITE"
	VerdictBlock   VerdictKind = "BLOCK"
)

// Verdict annotates a confirmed assistant message with the judge outcome.
type Verdict struct {
	Kind     VerdictKind `json:"verdict"`
	Reason   string      `json:"reason,omitempty"`
	RiskTags []string    `json:"risk_tags,omitempty"`
}

// ToolEventAlertCreated is the tool event type emitted when the server
// created alerts while handling a chat message.
const ToolEventAlertCreated = "alert_created"

// ToolEvent is a side-channel event produced by server-side tools while
// handling a chat message.
type ToolEvent struct {
	Type    string  `json:"type,omitempty"`
	ToolID  string  `json:"tool_id,omitempty"`
	Event   string  `json:"event,omitempty"`
	Count   int     `json:"count,omitempty"`
	Title   string  `json:"title,omitempty"`
	Message string  `json:"message,omitempty"`
	Items   []Alert `json:"items,omitempty"`
}

// CreatesAlerts reports whether the event signals server-side alert
// creation.
func (e ToolEvent) CreatesAlerts() bool {
	return e.Type == ToolEventAlertCreated || e.Event == ToolEventAlertCreated
}
