// Package notify presents ephemeral user-facing notices in a single slot.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/chatsync/internal/model"
)

// DefaultLifetime is how long a notice stays visible when no lifetime is
// configured.
const DefaultLifetime = 4 * time.Second

// Change is published to subscribers whenever the visible notice changes.
// Visible is false when the slot was emptied.
type Change struct {
	Notice  model.Notification
	Visible bool
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used to trace notices.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithOnShow registers fn to run for every shown notice.
func WithOnShow(fn func(model.Notification)) Option {
	return func(d *Dispatcher) { d.onShow = fn }
}

// Dispatcher holds at most one visible notice. A newer notice replaces
// the current one and restarts the auto-dismiss timer.
type Dispatcher struct {
	mu       sync.Mutex
	current  *model.Notification
	gen      uint64
	timer    *time.Timer
	lifetime time.Duration
	subs     []chan Change
	closed   bool

	logger *zap.Logger
	onShow func(model.Notification)
	now    func() time.Time
}

// New returns a dispatcher whose notices default to lifetime. A
// non-positive lifetime selects DefaultLifetime.
func New(lifetime time.Duration, opts ...Option) *Dispatcher {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	d := &Dispatcher{
		lifetime: lifetime,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Show displays message with the default lifetime.
func (d *Dispatcher) Show(message string, severity model.Severity) {
	d.ShowFor(message, severity, d.lifetime)
}

// Success shows a success notice.
func (d *Dispatcher) Success(message string) { d.Show(message, model.SeveritySuccess) }

// Error shows an error notice.
func (d *Dispatcher) Error(message string) { d.Show(message, model.SeverityError) }

// Info shows an informational notice.
func (d *Dispatcher) Info(message string) { d.Show(message, model.SeverityInfo) }

// ShowFor displays message for lifetime, replacing any visible notice.
func (d *Dispatcher) ShowFor(message string, severity model.Severity, lifetime time.Duration) {
	if lifetime <= 0 {
		lifetime = d.lifetime
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	n := model.Notification{
		Message:  message,
		Severity: severity,
		Lifetime: lifetime,
		ShownAt:  d.now(),
	}
	d.current = &n
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(lifetime, func() { d.expire(gen) })
	d.publish(Change{Notice: n, Visible: true})
	onShow := d.onShow
	d.mu.Unlock()

	d.logger.Debug("notice shown",
		zap.String("severity", string(severity)),
		zap.String("message", message),
		zap.Duration("lifetime", lifetime),
	)
	if onShow != nil {
		onShow(n)
	}
}

// Dismiss hides the visible notice early and cancels its timer.
func (d *Dispatcher) Dismiss() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clear()
}

// Current returns the visible notice, if any.
func (d *Dispatcher) Current() (model.Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return model.Notification{}, false
	}
	return *d.current, true
}

// Subscribe returns a channel receiving every change of the slot. Slow
// subscribers miss changes rather than block the dispatcher. The channel
// is closed by Close.
func (d *Dispatcher) Subscribe() <-chan Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan Change, 16)
	if d.closed {
		close(ch)
		return ch
	}
	d.subs = append(d.subs, ch)
	return ch
}

// Close dismisses the visible notice, stops the timer and closes all
// subscriber channels. Later calls to Show are ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.clear()
	d.closed = true
	for _, ch := range d.subs {
		close(ch)
	}
	d.subs = nil
}

// expire dismisses the notice shown as generation gen, unless a newer
// notice replaced it meanwhile.
func (d *Dispatcher) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || d.closed {
		return
	}
	d.clear()
}

// clear empties the slot. Callers hold d.mu.
func (d *Dispatcher) clear() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.current == nil {
		return
	}
	last := *d.current
	d.current = nil
	d.publish(Change{Notice: last, Visible: false})
}

// publish sends c to all subscribers without blocking. Callers hold d.mu.
func (d *Dispatcher) publish(c Change) {
	for _, ch := range d.subs {
		select {
		case ch <- c:
		default:
			// Subscriber is behind; drop rather than block.
		}
	}
}
