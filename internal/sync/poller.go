// Package sync polls the chat service for due alerts and surfaces each
// one to the user once per session.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/chatsync/internal/model"
)

// Defaults for polling.
const (
	DefaultInterval = 30 * time.Second
	DefaultDueLimit = 10

	// fetchTimeout is the maximum time allowed for a single poll request.
	fetchTimeout = 30 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start on a running poller.
	ErrAlreadyRunning = errors.New("alert poller already running")

	// ErrNoSession is returned by Start without a session id.
	ErrNoSession = errors.New("alert poller requires a session id")
)

// DueLister fetches alerts whose due time has arrived.
type DueLister interface {
	ListDueAlerts(ctx context.Context, sessionID string, limit int) ([]model.Alert, error)
}

// Notifier surfaces a notice to the user.
type Notifier interface {
	Show(message string, severity model.Severity)
}

// Chime plays an audible cue. Failures are expected (no audio device,
// playback blocked) and ignored. ctx is cancelled when the poller stops;
// Stop does not wait for a Play that is still running at that point.
type Chime interface {
	Play(ctx context.Context) error
}

// ChimeFunc adapts a function to Chime.
type ChimeFunc func(ctx context.Context) error

// Play implements Chime.
func (f ChimeFunc) Play(ctx context.Context) error { return f(ctx) }

// TerminalBell rings the terminal bell on w.
func TerminalBell(w io.Writer) Chime {
	return ChimeFunc(func(context.Context) error {
		_, err := io.WriteString(w, "\a")
		return err
	})
}

// CycleResult describes one completed poll cycle.
type CycleResult struct {
	SessionID string
	Due       []model.Alert
	Notified  []model.Alert
	Error     error
	At        time.Time
}

// Option customizes a Poller.
type Option func(*Poller)

// WithInterval sets the delay between poll cycles.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDueLimit caps how many due alerts a cycle fetches.
func WithDueLimit(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithChime sets the audible cue played for each new notice.
func WithChime(c Chime) Option {
	return func(p *Poller) { p.chime = c }
}

// WithLogger sets the poller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOnCycle registers fn to run after every poll cycle, on the polling
// goroutine. fn must not call Stop.
func WithOnCycle(fn func(CycleResult)) Option {
	return func(p *Poller) { p.onCycle = fn }
}

// Poller periodically fetches due alerts for one session and notifies
// about each alert id at most once over the poller's lifetime. The set of
// notified ids is never pruned: an alert that is reactivated server-side
// does not notify again while this poller lives.
type Poller struct {
	lister   DueLister
	notifier Notifier
	chime    Chime
	logger   *zap.Logger
	onCycle  func(CycleResult)
	interval time.Duration
	limit    int

	mu        gosync.Mutex
	notified  map[string]struct{}
	sessionID string
	running   bool
	cancel    context.CancelFunc
	stopCh    chan struct{}
	triggerCh chan struct{}
	done      chan struct{}
	lastPoll  time.Time
	lastErr   error
	chimes    gosync.WaitGroup
}

// New creates a stopped Poller.
func New(lister DueLister, notifier Notifier, opts ...Option) *Poller {
	p := &Poller{
		lister:   lister,
		notifier: notifier,
		logger:   zap.NewNop(),
		interval: DefaultInterval,
		limit:    DefaultDueLimit,
		notified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs one poll cycle immediately and then one per interval until
// Stop is called.
func (p *Poller) Start(sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.sessionID = sessionID
	p.cancel = cancel
	p.stopCh = make(chan struct{})
	p.triggerCh = make(chan struct{}, 1)
	p.done = make(chan struct{})

	go p.run(ctx, sessionID, p.stopCh, p.triggerCh, p.done)

	p.logger.Debug("alert poller started",
		zap.String("session_id", sessionID),
		zap.Duration("interval", p.interval),
	)
	return nil
}

// Stop halts polling. When Stop returns the polling goroutine has exited
// and no further cycle or notice will happen. A chime still playing is
// abandoned rather than waited for. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	close(p.stopCh)
	done := p.done
	sessionID := p.sessionID
	p.mu.Unlock()

	<-done
	p.chimes.Wait()

	p.logger.Debug("alert poller stopped", zap.String("session_id", sessionID))
}

// PollNow triggers an immediate cycle without waiting for it.
func (p *Poller) PollNow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A cycle is already queued.
	}
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Notified reports whether alertID has been surfaced already.
func (p *Poller) Notified(alertID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.notified[alertID]
	return ok
}

// NotifiedCount returns the size of the notified set.
func (p *Poller) NotifiedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.notified)
}

// LastPoll returns when the last cycle finished and its error, if any.
func (p *Poller) LastPoll() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPoll, p.lastErr
}

// run is the polling loop for one Start/Stop span.
func (p *Poller) run(
	ctx context.Context,
	sessionID string,
	stopCh <-chan struct{},
	triggerCh <-chan struct{},
	done chan<- struct{},
) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial poll immediately.
	p.poll(ctx, sessionID)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		case <-triggerCh:
		}

		// Stop may race with a tick; stop wins.
		select {
		case <-stopCh:
			return
		default:
		}
		p.poll(ctx, sessionID)
	}
}

// poll performs one cycle: fetch due alerts, notify about unseen ones.
func (p *Poller) poll(ctx context.Context, sessionID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	result := CycleResult{SessionID: sessionID}
	alerts, err := p.lister.ListDueAlerts(fetchCtx, sessionID, p.limit)
	if err != nil {
		if ctx.Err() != nil {
			// Stopped mid-request; not a poll failure.
			return
		}
		p.logger.Warn("due alert poll failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		result.Error = fmt.Errorf("polling due alerts: %w", err)
		p.finish(result)
		return
	}

	result.Due = alerts
	for _, a := range alerts {
		if ctx.Err() != nil {
			return
		}
		if !p.markNotified(a.ID) {
			continue
		}
		result.Notified = append(result.Notified, a)
		p.notifier.Show(noticeText(a), model.SeverityInfo)
		p.ring(ctx)
	}

	p.finish(result)
}

// markNotified adds id to the notified set and reports whether it was new.
func (p *Poller) markNotified(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.notified[id]; seen {
		return false
	}
	p.notified[id] = struct{}{}
	return true
}

func (p *Poller) finish(result CycleResult) {
	result.At = time.Now()

	p.mu.Lock()
	p.lastPoll = result.At
	p.lastErr = result.Error
	p.mu.Unlock()

	if p.onCycle != nil {
		p.onCycle(result)
	}
}

// ring plays the chime on its own goroutine. Errors and panics are
// swallowed. The tracking goroutine returns once Play does or ctx is
// cancelled, whichever comes first.
func (p *Poller) ring(ctx context.Context) {
	if p.chime == nil {
		return
	}
	p.chimes.Add(1)
	go func() {
		defer p.chimes.Done()

		errCh := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("chime panicked: %v", r)
				}
			}()
			errCh <- p.chime.Play(ctx)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				p.logger.Debug("chime failed", zap.Error(err))
			}
		case <-ctx.Done():
			p.logger.Debug("chime abandoned on stop")
		}
	}()
}

func noticeText(a model.Alert) string {
	prefix := "Reminder"
	if a.EffectivePriority() == model.AlertPriorityHigh {
		prefix = "Urgent reminder"
	}
	return prefix + ": " + a.Content()
}
