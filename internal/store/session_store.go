package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Keys under which the active session pair is persisted.
const (
	KeySessionID = "active_session_id"
	KeyPersonaID = "active_persona_id"
)

// BatchKV is implemented by KV backends that can write or delete several
// keys atomically.
type BatchKV interface {
	KV
	SetMany(ctx context.Context, entries map[string]string) error
	DeleteMany(ctx context.Context, keys ...string) error
}

// Pair is the persisted (session, persona) binding.
type Pair struct {
	SessionID string
	PersonaID string
}

// SessionStore records the active session and its persona across process
// restarts. Both keys are written and cleared together; a store holding
// only one of them is reported as empty.
type SessionStore struct {
	kv     KV
	logger *zap.Logger
}

// NewSessionStore wraps kv. A nil logger disables logging.
func NewSessionStore(kv KV, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{kv: kv, logger: logger}
}

// Save persists the pair, replacing any previous one.
func (s *SessionStore) Save(ctx context.Context, sessionID, personaID string) error {
	if sessionID == "" || personaID == "" {
		return fmt.Errorf("saving session pair: session and persona ids are required")
	}

	if b, ok := s.kv.(BatchKV); ok {
		if err := b.SetMany(ctx, map[string]string{
			KeySessionID: sessionID,
			KeyPersonaID: personaID,
		}); err != nil {
			return fmt.Errorf("saving session pair: %w", err)
		}
		return nil
	}

	if err := s.kv.Set(ctx, KeySessionID, sessionID); err != nil {
		return fmt.Errorf("saving session id: %w", err)
	}
	if err := s.kv.Set(ctx, KeyPersonaID, personaID); err != nil {
		// Roll back so the store never holds half a pair.
		_ = s.kv.Delete(ctx, KeySessionID)
		return fmt.Errorf("saving persona id: %w", err)
	}
	return nil
}

// Load returns the persisted pair. ok is false when nothing (or only half
// of a pair) is stored; that is not an error.
func (s *SessionStore) Load(ctx context.Context) (Pair, bool, error) {
	sessionID, err := s.get(ctx, KeySessionID)
	if err != nil {
		return Pair{}, false, err
	}
	personaID, err := s.get(ctx, KeyPersonaID)
	if err != nil {
		return Pair{}, false, err
	}

	switch {
	case sessionID == "" && personaID == "":
		return Pair{}, false, nil
	case sessionID == "" || personaID == "":
		s.logger.Warn("ignoring partially persisted session",
			zap.Bool("has_session", sessionID != ""),
			zap.Bool("has_persona", personaID != ""),
		)
		return Pair{}, false, nil
	}

	return Pair{SessionID: sessionID, PersonaID: personaID}, true, nil
}

// Clear removes both keys. Missing keys are not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	if b, ok := s.kv.(BatchKV); ok {
		if err := b.DeleteMany(ctx, KeySessionID, KeyPersonaID); err != nil {
			return fmt.Errorf("clearing session pair: %w", err)
		}
		return nil
	}

	var errs []error
	for _, key := range []string{KeySessionID, KeyPersonaID} {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clearing session pair: %w", err)
	}
	return nil
}

func (s *SessionStore) get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", key, err)
	}
	return v, nil
}
