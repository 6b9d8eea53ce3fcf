package session

import (
	"errors"

	"github.com/nhle/chatsync/internal/model"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidState is returned when an operation is not valid in the
	// controller's current state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNoActiveSession is returned by operations that need an active
	// session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrUnknownPersona is returned by Start for a persona that was not
	// loaded with LoadPersonas.
	ErrUnknownPersona = errors.New("unknown persona")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session controller closed")
)

// EventKind identifies what changed.
type EventKind int

const (
	EventState EventKind = iota
	EventPersonas
	EventMessages
	EventAlerts
	EventSummary
	EventDueAlerts
)

// Event is published to subscribers after a change. Observers re-read the
// state they care about through Snapshot.
type Event struct {
	Kind      EventKind
	State     State
	SessionID string

	// Alerts carries the newly surfaced alerts for EventDueAlerts.
	Alerts []model.Alert
}

// Snapshot is an immutable copy of the controller's state record.
type Snapshot struct {
	State    State
	Personas []model.Persona

	// Session is nil unless a session is active.
	Session *model.Session

	Messages      []model.Message
	Verdicts      map[string]model.Verdict
	Alerts        []model.Alert
	NotifiedCount int
	Sending       bool
}

// PersonaID returns the persona bound to the active session, or "".
func (s Snapshot) PersonaID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.PersonaID
}

// SessionID returns the active session id, or "".
func (s Snapshot) SessionID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.ID
}
