// Package chatlog holds the message log of the active session and
// reconciles optimistic local entries with server-confirmed ones.
package chatlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/model"
)

var (
	// ErrSendInFlight is returned when Append is called while an earlier
	// Append has not resolved yet.
	ErrSendInFlight = errors.New("a message is already being sent")

	// ErrEmptyMessage is returned for blank message text.
	ErrEmptyMessage = errors.New("message is empty")
)

// Sender delivers text to the chat service and returns its reply.
type Sender func(ctx context.Context, text string) (*api.ChatReply, error)

// Option customizes a Buffer.
type Option func(*Buffer)

// WithOnChange registers fn to run after every visible change of the log.
// fn runs synchronously on the mutating goroutine, without locks held.
func WithOnChange(fn func()) Option {
	return func(b *Buffer) { b.onChange = fn }
}

// WithClock overrides the timestamp source for local entries.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithIDGenerator overrides the generator for local identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(b *Buffer) { b.newID = fn }
}

// Buffer is the ordered message log of one session. Confirmed entries are
// never modified; the only removal is of the single provisional entry
// when its send resolves.
type Buffer struct {
	mu       sync.Mutex
	entries  []model.Message
	index    map[string]int
	verdicts map[string]model.Verdict
	pending  string
	pairs    int

	onChange func()
	now      func() time.Time
	newID    func() string
}

// New returns an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		index:    make(map[string]int),
		verdicts: make(map[string]model.Verdict),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds text as a provisional user entry, publishes the change, and
// only then calls send. On success the provisional entry is replaced by
// the confirmed user entry followed by the assistant reply, and the judge
// verdict is recorded for the assistant entry. On failure the provisional
// entry is removed and the log is exactly what it was before the call.
func (b *Buffer) Append(ctx context.Context, text string, send Sender) (*api.ChatReply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	b.mu.Lock()
	if b.pending != "" {
		b.mu.Unlock()
		return nil, ErrSendInFlight
	}
	provisional := model.Message{
		ID:          b.newID(),
		Role:        model.RoleUser,
		Content:     text,
		CreatedAt:   b.now(),
		Provisional: true,
	}
	b.push(provisional)
	b.pending = provisional.ID
	b.mu.Unlock()
	b.changed()

	reply, err := send(ctx, text)

	b.mu.Lock()
	b.removePending()
	if err != nil {
		b.mu.Unlock()
		b.changed()
		return nil, err
	}

	now := b.now()
	user := model.Message{
		ID:        b.confirmedID(reply.UserMessageID),
		Role:      model.RoleUser,
		Content:   text,
		CreatedAt: now,
	}
	b.push(user)

	assistant := model.Message{
		ID:        b.confirmedID(reply.AssistantMessageID),
		Role:      model.RoleAssistant,
		Content:   reply.Assistant,
		CreatedAt: now,
	}
	b.push(assistant)

	if _, exists := b.verdicts[assistant.ID]; !exists {
		b.verdicts[assistant.ID] = reply.Judge
	}
	b.pairs++
	b.mu.Unlock()
	b.changed()

	return reply, nil
}

// Load merges server-confirmed history into the log, e.g. after a restart.
// History entries whose id is already present are skipped; the rest are
// placed ahead of the entries the buffer already holds, so replies
// confirmed or sent while the history was in flight keep their content,
// order and verdicts.
func (b *Buffer) Load(messages []model.Message) {
	b.mu.Lock()
	merged := make([]model.Message, 0, len(messages)+len(b.entries))
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		m.Provisional = false
		if m.ID == "" {
			m.ID = b.newID()
		}
		if _, local := b.index[m.ID]; local {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	if len(merged) == 0 {
		b.mu.Unlock()
		return
	}

	merged = append(merged, b.entries...)
	b.entries = merged
	b.index = make(map[string]int, len(merged))
	for i, m := range merged {
		b.index[m.ID] = i
	}
	b.mu.Unlock()
	b.changed()
}

// Messages returns a copy of the log in chronological order.
func (b *Buffer) Messages() []model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Message, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries, including a provisional one.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Pending reports whether a send is in flight.
func (b *Buffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != ""
}

// Message returns the entry with id.
func (b *Buffer) Message(id string) (model.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok {
		return model.Message{}, false
	}
	return b.entries[i], true
}

// Verdict returns the judge verdict recorded for an assistant message.
func (b *Buffer) Verdict(messageID string) (model.Verdict, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.verdicts[messageID]
	return v, ok
}

// Verdicts returns a copy of the verdict mapping.
func (b *Buffer) Verdicts() map[string]model.Verdict {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]model.Verdict, len(b.verdicts))
	for k, v := range b.verdicts {
		out[k] = v
	}
	return out
}

// ConfirmedPairs returns how many sends this buffer has confirmed.
func (b *Buffer) ConfirmedPairs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pairs
}

// push appends m and indexes it. Callers hold b.mu.
func (b *Buffer) push(m model.Message) {
	b.index[m.ID] = len(b.entries)
	b.entries = append(b.entries, m)
}

// removePending drops the provisional entry. Callers hold b.mu.
func (b *Buffer) removePending() {
	i, ok := b.index[b.pending]
	delete(b.index, b.pending)
	b.pending = ""
	if !ok {
		return
	}

	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	for j := i; j < len(b.entries); j++ {
		b.index[b.entries[j].ID] = j
	}
}

// confirmedID returns serverID when it is usable, else a fresh local id.
// Callers hold b.mu.
func (b *Buffer) confirmedID(serverID string) string {
	if serverID != "" {
		if _, taken := b.index[serverID]; !taken {
			return serverID
		}
	}
	return b.newID()
}

func (b *Buffer) changed() {
	if b.onChange != nil {
		b.onChange()
	}
}
