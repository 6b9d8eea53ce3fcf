package model

import (
	"encoding/json"
	"strings"
	"time"
)

// AlertPriority ranks how urgently an alert should be surfaced.
type AlertPriority string

const (
	AlertPriorityLow    AlertPriority = "low"
	AlertPriorityMedium AlertPriority = "medium"
	AlertPriorityHigh   AlertPriority = "high"
)

// AlertStatus is the server-side lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusDone      AlertStatus = "done"
	AlertStatusCancelled AlertStatus = "cancelled"
)

// AlertScope selects whether alerts are listed for a session or globally.
type AlertScope string

const (
	AlertScopeSession AlertScope = "session"
	AlertScopeGlobal  AlertScope = "global"
)

// Alert is a server-tracked reminder. The client only holds a cached view.
type Alert struct {
	ID        string        `json:"id"`
	Scope     AlertScope    `json:"scope,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Title     string        `json:"title"`
	Body      string        `json:"body,omitempty"`
	Priority  AlertPriority `json:"priority,omitempty"`
	Status    AlertStatus   `json:"status"`
	DueAt     *time.Time    `json:"due_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// EffectivePriority returns the alert priority, treating an unset value
// as medium.
func (a Alert) EffectivePriority() AlertPriority {
	if a.Priority == "" {
		return AlertPriorityMedium
	}
	return a.Priority
}

// Content renders the alert's user-facing text.
func (a Alert) Content() string {
	title := strings.TrimSpace(a.Title)
	body := strings.TrimSpace(a.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + ": " + body
	}
}

// IsDue reports whether the alert is active and its due time has passed.
func (a Alert) IsDue(now time.Time) bool {
	return a.Status == AlertStatusActive && a.DueAt != nil && !a.DueAt.After(now)
}

// timeLayouts are the timestamp formats the chat service is known to emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a service timestamp, trying each known layout.
// Timestamps without a zone are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON decodes an alert, tolerating empty or unparseable due
// times (the service stores them as free-form text).
func (a *Alert) UnmarshalJSON(data []byte) error {
	type alias Alert
	var raw struct {
		alias
		DueAt     *string `json:"due_at"`
		CreatedAt string  `json:"created_at"`
		UpdatedAt string  `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = Alert(raw.alias)
	a.DueAt = nil
	if raw.DueAt != nil {
		if t, ok := ParseTime(*raw.DueAt); ok {
			a.DueAt = &t
		}
	}
	a.CreatedAt, _ = ParseTime(raw.CreatedAt)
	a.UpdatedAt, _ = ParseTime(raw.UpdatedAt)
	return nil
}
