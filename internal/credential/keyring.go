package credential

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"

	"github.com/nhle/chatsync/internal/store"
)

const serviceName = "chatsync"

// APITokenKey is the keyring entry holding the optional chat service token.
const APITokenKey = "api-token"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/chatsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("chatsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Ring adapts a keyring to store.KV so session state can live in the
// system credential store instead of SQLite.
type Ring struct {
	ring keyring.Keyring
}

// Open opens the system keyring.
func Open() (*Ring, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return &Ring{ring: ring}, nil
}

// NewRing wraps an already opened keyring, e.g. keyring.NewArrayKeyring
// in tests.
func NewRing(ring keyring.Keyring) *Ring {
	return &Ring{ring: ring}
}

var _ store.KV = (*Ring)(nil)

// Get implements store.KV.
func (r *Ring) Get(_ context.Context, key string) (string, error) {
	item, err := r.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set implements store.KV.
func (r *Ring) Set(_ context.Context, key, value string) error {
	err := r.ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete implements store.KV.
func (r *Ring) Delete(_ context.Context, key string) error {
	err := r.ring.Remove(key)
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("deleting credential %q: %w", key, err)
}

// APIToken returns the chat service token, preferring the CHATSYNC_API_TOKEN
// environment variable over the system keyring. An empty token is returned
// when neither is configured.
func APIToken(ctx context.Context, r *Ring) string {
	if token := os.Getenv("CHATSYNC_API_TOKEN"); token != "" {
		return token
	}
	if r == nil {
		return ""
	}
	token, err := r.Get(ctx, APITokenKey)
	if err != nil {
		return ""
	}
	return token
}
