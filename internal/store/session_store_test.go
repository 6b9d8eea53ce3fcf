package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nhle/chatsync/internal/store"
	"github.com/nhle/chatsync/tests/testutil"
)

// failingKV fails every Set for the key in failOn.
type failingKV struct {
	*store.MemoryKV
	failOn string
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.failOn {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func TestSessionStore_RoundTrip(t *testing.T) {
	backends := map[string]store.KV{
		"memory": store.NewMemoryKV(),
		"sqlite": testutil.NewTestKV(t),
	}

	for name, kv := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewSessionStore(kv, nil)

			_, ok, err := s.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Save(ctx, "s1", "p1"))
			require.NoError(t, s.Save(ctx, "s2", "p2"))
			pair, ok, err := s.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, store.Pair{SessionID: "s2", PersonaID: "p2"}, pair)

			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Clear(ctx))
			_, ok, err = s.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessionStore_SaveRequiresBothIDs(t *testing.T) {
	kv := store.NewMemoryKV()
	s := store.NewSessionStore(kv, nil)

	assert.Error(t, s.Save(context.Background(), "s1", ""))
	assert.Error(t, s.Save(context.Background(), "", "p1"))
	assert.Zero(t, kv.Len())
}

func TestSessionStore_PartialPresenceIsAbsent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	kv := store.NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, store.KeyPersonaID, "p1"))

	_, ok, err := store.NewSessionStore(kv, zap.New(core)).Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("ignoring partially persisted session").Len())
}

func TestSessionStore_FailedSaveLeavesNoHalfPair(t *testing.T) {
	kv := &failingKV{MemoryKV: store.NewMemoryKV(), failOn: store.KeyPersonaID}
	s := store.NewSessionStore(kv, nil)

	err := s.Save(context.Background(), "s1", "p1")
	require.Error(t, err)
	assert.Zero(t, kv.Len())
}
