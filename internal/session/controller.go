// Package session owns the lifecycle of the single active chat session and
// coordinates the message log, due-alert polling and user notices.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/chatlog"
	"github.com/nhle/chatsync/internal/model"
	"github.com/nhle/chatsync/internal/store"
	alertsync "github.com/nhle/chatsync/internal/sync"
)

// Backend is the chat service contract the controller consumes.
type Backend interface {
	ListPersonas(ctx context.Context) ([]model.Persona, error)
	CreateSession(ctx context.Context, personaID string) (string, error)
	GetSessionMessages(ctx context.Context, sessionID string, limit int) (*api.SessionMessages, error)
	GetSessionSummary(ctx context.Context, sessionID string) (*model.Summary, error)
	SendChat(ctx context.Context, sessionID, text string) (*api.ChatReply, error)
	ListAlerts(ctx context.Context, filter api.AlertFilter) ([]model.Alert, error)
	UpdateAlert(ctx context.Context, alertID string, status model.AlertStatus) error
	ListDueAlerts(ctx context.Context, sessionID string, limit int) ([]model.Alert, error)
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Show(message string, severity model.Severity)
}

// Config tunes controller behaviour. Zero values select defaults.
type Config struct {
	PollInterval time.Duration
	DueLimit     int
	HistoryLimit int
	AlertLimit   int
	SummaryEvery int
	Chime        alertsync.Chime
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = alertsync.DefaultInterval
	}
	if c.DueLimit <= 0 {
		c.DueLimit = alertsync.DefaultDueLimit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.AlertLimit <= 0 {
		c.AlertLimit = 50
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = 5
	}
	return c
}

// Controller is the session state machine: Idle → Starting → Active →
// Ending → Idle. All per-session state (message log, verdicts, alert
// cache, notified set) is replaced, never reused, across sessions.
type Controller struct {
	backend  Backend
	store    *store.SessionStore
	notifier Notifier
	logger   *zap.Logger
	cfg      Config

	mu       sync.Mutex
	state    State
	personas []model.Persona
	session  *model.Session
	buffer   *chatlog.Buffer
	poller   *alertsync.Poller
	alerts   []model.Alert
	epoch    uint64
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	subsMu sync.Mutex
	subs   []chan Event
}

// New creates an idle controller.
func New(
	backend Backend,
	sessions *store.SessionStore,
	notifier Notifier,
	logger *zap.Logger,
	cfg Config,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:  backend,
		store:    sessions,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		state:    StateIdle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoadPersonas fetches and caches the persona list. Start only accepts
// personas loaded here.
func (c *Controller) LoadPersonas(ctx context.Context) ([]model.Persona, error) {
	personas, err := c.backend.ListPersonas(ctx)
	if err != nil {
		c.notifier.Show("Failed to load personas: "+err.Error(), model.SeverityError)
		return nil, err
	}

	c.mu.Lock()
	c.personas = append([]model.Persona(nil), personas...)
	c.mu.Unlock()

	c.publish(Event{Kind: EventPersonas})
	return personas, nil
}

// Start creates a session for personaID and activates it. On failure the
// controller returns to Idle and nothing is persisted.
func (c *Controller) Start(ctx context.Context, personaID string) error {
	c.mu.Lock()
	if err := c.checkStartable(personaID); err != nil {
		c.mu.Unlock()
		c.notifier.Show("Cannot start session: "+err.Error(), model.SeverityError)
		return err
	}
	c.state = StateStarting
	c.mu.Unlock()
	c.publish(Event{Kind: EventState, State: StateStarting})

	sessionID, err := c.backend.CreateSession(ctx, personaID)
	if err != nil {
		c.setState(StateIdle)
		c.logger.Warn("session start failed", zap.String("persona_id", personaID), zap.Error(err))
		c.notifier.Show("Failed to start session: "+err.Error(), model.SeverityError)
		return fmt.Errorf("starting session: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.state = StateIdle
		c.mu.Unlock()
		return ErrClosed
	}
	c.activate(sessionID, personaID)
	c.mu.Unlock()

	if err := c.store.Save(ctx, sessionID, personaID); err != nil {
		// The session works; it just will not survive a restart.
		c.logger.Warn("persisting session failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	c.logger.Info("session started", zap.String("session_id", sessionID), zap.String("persona_id", personaID))
	c.publish(Event{Kind: EventState, State: StateActive, SessionID: sessionID})
	c.notifier.Show("Session started", model.SeveritySuccess)
	return nil
}

// checkStartable validates Start's preconditions. Callers hold c.mu.
func (c *Controller) checkStartable(personaID string) error {
	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, c.state)
	}
	for _, p := range c.personas {
		if p.ID == personaID {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownPersona, personaID)
}

// RestoreFromStore reactivates the persisted session, if any, without
// creating a new one. History, active alerts and the summary are fetched
// in the background; their failures leave the session active.
func (c *Controller) RestoreFromStore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot restore from %s", ErrInvalidState, state)
	}
	c.mu.Unlock()

	pair, ok, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("loading persisted session failed", zap.Error(err))
		return fmt.Errorf("restoring session: %w", err)
	}
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.closed || c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.activate(pair.SessionID, pair.PersonaID)
	epoch := c.epoch
	c.mu.Unlock()

	c.logger.Info("session restored",
		zap.String("session_id", pair.SessionID),
		zap.String("persona_id", pair.PersonaID),
	)
	c.publish(Event{Kind: EventState, State: StateActive, SessionID: pair.SessionID})

	c.goBackground(func(ctx context.Context) {
		c.hydrate(ctx, epoch, pair.SessionID)
	})
	return nil
}

// activate installs fresh per-session state and starts the session's
// poller. Callers hold c.mu; the poller never takes it.
func (c *Controller) activate(sessionID, personaID string) {
	now := time.Now()
	c.epoch++
	c.session = &model.Session{
		ID:        sessionID,
		PersonaID: personaID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.buffer = chatlog.New(chatlog.WithOnChange(func() {
		c.publish(Event{Kind: EventMessages, State: StateActive, SessionID: sessionID})
	}))
	c.alerts = nil
	c.poller = alertsync.New(c.backend, c.notifier,
		alertsync.WithInterval(c.cfg.PollInterval),
		alertsync.WithDueLimit(c.cfg.DueLimit),
		alertsync.WithChime(c.cfg.Chime),
		alertsync.WithLogger(c.logger.Named("alerts")),
		alertsync.WithOnCycle(func(r alertsync.CycleResult) {
			if len(r.Notified) > 0 {
				c.publish(Event{Kind: EventDueAlerts, State: StateActive, SessionID: r.SessionID, Alerts: r.Notified})
			}
		}),
	)
	c.state = StateActive

	if err := c.poller.Start(sessionID); err != nil {
		c.logger.Error("starting alert poller failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Send appends text to the active session's log and delivers it. The
// provisional entry is visible before the request is made; on failure it
// is removed again and the error is surfaced.
func (c *Controller) Send(ctx context.Context, text string) (*api.ChatReply, error) {
	c.mu.Lock()
	if c.state != StateActive || c.session == nil {
		c.mu.Unlock()
		c.notifier.Show("No active session", model.SeverityError)
		return nil, ErrNoActiveSession
	}
	buf := c.buffer
	sessionID := c.session.ID
	epoch := c.epoch
	c.mu.Unlock()

	reply, err := buf.Append(ctx, text, func(ctx context.Context, text string) (*api.ChatReply, error) {
		return c.backend.SendChat(ctx, sessionID, text)
	})
	if err != nil {
		c.logger.Warn("send failed", zap.String("session_id", sessionID), zap.Error(err))
		c.notifier.Show("Failed to send message: "+err.Error(), model.SeverityError)
		return nil, err
	}

	c.mu.Lock()
	current := c.epoch == epoch && c.session != nil
	if current {
		c.session.UpdatedAt = time.Now()
	}
	c.mu.Unlock()
	if !current {
		// The session ended while the reply was in flight.
		return reply, nil
	}

	if reply.CreatedAlerts() {
		c.notifier.Show("Alert created", model.SeverityInfo)
		c.goBackground(func(ctx context.Context) {
			c.refreshActiveAlerts(ctx, epoch, sessionID)
		})
	}

	if pairs := buf.ConfirmedPairs(); pairs%c.cfg.SummaryEvery == 0 {
		c.goBackground(func(ctx context.Context) {
			c.refreshSummary(ctx, epoch, sessionID)
		})
	}

	return reply, nil
}

// End discards all per-session state, clears the persisted pair and
// returns to Idle. It only fails when no session is active.
func (c *Controller) End() error {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot end from %s", ErrInvalidState, state)
	}
	c.state = StateEnding
	c.epoch++
	poller := c.poller
	c.poller = nil
	sessionID := c.session.ID
	c.mu.Unlock()
	c.publish(Event{Kind: EventState, State: StateEnding, SessionID: sessionID})

	// Stop joins the polling goroutine, so c.mu must not be held here.
	if poller != nil {
		poller.Stop()
	}

	c.mu.Lock()
	c.session = nil
	c.buffer = nil
	c.alerts = nil
	c.state = StateIdle
	c.mu.Unlock()

	if err := c.store.Clear(context.Background()); err != nil {
		c.logger.Warn("clearing persisted session failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	c.logger.Info("session ended", zap.String("session_id", sessionID))
	c.publish(Event{Kind: EventState, State: StateIdle})
	c.notifier.Show("Session ended", model.SeverityInfo)
	return nil
}

// Close tears the controller down: it stops polling, cancels and waits for
// background work and closes subscriber channels. The persisted pair is
// kept so the session can be restored on the next start.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.epoch++
	poller := c.poller
	c.poller = nil
	c.mu.Unlock()

	c.cancel()
	if poller != nil {
		poller.Stop()
	}
	c.bg.Wait()

	c.subsMu.Lock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.subsMu.Unlock()
}

// RefreshAlerts lists alerts and, for the active session's active alerts,
// refreshes the cached view. A session-scoped filter without a session id
// uses the active session.
func (c *Controller) RefreshAlerts(ctx context.Context, filter api.AlertFilter) ([]model.Alert, error) {
	c.mu.Lock()
	epoch := c.epoch
	var sessionID string
	if c.session != nil {
		sessionID = c.session.ID
	}
	c.mu.Unlock()

	if filter.Scope == "" {
		filter.Scope = model.AlertScopeSession
	}
	if filter.Scope == model.AlertScopeSession && filter.SessionID == "" {
		if sessionID == "" {
			return nil, ErrNoActiveSession
		}
		filter.SessionID = sessionID
	}
	if filter.Limit <= 0 {
		filter.Limit = c.cfg.AlertLimit
	}

	alerts, err := c.backend.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}

	if filter.Scope == model.AlertScopeSession && filter.SessionID == sessionID &&
		(filter.Status == "" || filter.Status == model.AlertStatusActive) {
		c.storeAlerts(epoch, activeOnly(alerts))
	}
	return alerts, nil
}

// UpdateAlert marks an alert done or cancelled and drops it from the
// cached view.
func (c *Controller) UpdateAlert(ctx context.Context, alertID string, status model.AlertStatus) error {
	if err := c.backend.UpdateAlert(ctx, alertID, status); err != nil {
		c.notifier.Show("Failed to update alert: "+err.Error(), model.SeverityError)
		return err
	}

	c.mu.Lock()
	kept := c.alerts[:0:0]
	for _, a := range c.alerts {
		if a.ID != alertID {
			kept = append(kept, a)
		}
	}
	c.alerts = kept
	sessionID := ""
	if c.session != nil {
		sessionID = c.session.ID
	}
	c.mu.Unlock()

	c.publish(Event{Kind: EventAlerts, State: c.State(), SessionID: sessionID})
	if status == model.AlertStatusDone {
		c.notifier.Show("Alert marked done", model.SeveritySuccess)
	} else {
		c.notifier.Show("Alert cancelled", model.SeverityInfo)
	}
	return nil
}

// RefreshSummary fetches the rolling summary of the active session.
func (c *Controller) RefreshSummary(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive || c.session == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	epoch := c.epoch
	sessionID := c.session.ID
	c.mu.Unlock()

	if err := c.refreshSummary(ctx, epoch, sessionID); err != nil && !errors.Is(err, errStale) {
		return err
	}
	return nil
}

// PollAlertsNow triggers an immediate due-alert cycle.
func (c *Controller) PollAlertsNow() {
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()
	if p != nil {
		p.PollNow()
	}
}

// Snapshot returns a copy of the controller's state record.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:    c.state,
		Personas: append([]model.Persona(nil), c.personas...),
		Alerts:   append([]model.Alert(nil), c.alerts...),
		Verdicts: map[string]model.Verdict{},
	}
	if c.session != nil {
		s := *c.session
		if s.Summary != nil {
			sum := *s.Summary
			s.Summary = &sum
		}
		snap.Session = &s
	}
	if c.buffer != nil {
		snap.Messages = c.buffer.Messages()
		snap.Verdicts = c.buffer.Verdicts()
		snap.Sending = c.buffer.Pending()
	}
	if c.poller != nil {
		snap.NotifiedCount = c.poller.NotifiedCount()
	}
	return snap
}

// Subscribe returns a channel of change events. Slow subscribers miss
// events rather than block the controller. The channel is closed by Close.
func (c *Controller) Subscribe() <-chan Event {
	ch := make(chan Event, 64)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

func (c *Controller) publish(ev Event) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			// Drop if the subscriber is behind to avoid blocking.
		}
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publish(Event{Kind: EventState, State: s})
}

func activeOnly(alerts []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Status == "" || a.Status == model.AlertStatusActive {
			out = append(out, a)
		}
	}
	return out
}

// errStale marks background results discarded because the session changed.
var errStale = errors.New("session changed")
