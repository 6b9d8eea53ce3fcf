package model

import "time"

// Severity classifies a user-facing notice.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Notification is an ephemeral notice surfaced to the user. At most one
// is visible at a time.
type Notification struct {
	// Message is the human-readable notice text.
	Message string `json:"message"`

	// Severity selects how the notice is presented.
	Severity Severity `json:"severity"`

	// Lifetime is how long the notice stays visible before it is
	// dismissed automatically.
	Lifetime time.Duration `json:"lifetime"`

	// ShownAt is when the notice became visible.
	ShownAt time.Time `json:"shown_at"`
}

// ExpiresAt returns the instant the notice is auto-dismissed.
func (n Notification) ExpiresAt() time.Time {
	return n.ShownAt.Add(n.Lifetime)
}
