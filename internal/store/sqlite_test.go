package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/chatsync/internal/store"
	"github.com/nhle/chatsync/tests/testutil"
)

func TestSQLiteKV_GetSetDelete(t *testing.T) {
	kv := testutil.NewTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", "v1"))
	require.NoError(t, kv.Set(ctx, "k", "v2"))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteKV_Batch(t *testing.T) {
	kv := testutil.NewTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.SetMany(ctx, map[string]string{"a": "1", "b": "2", "c": "3"}))
	require.NoError(t, kv.DeleteMany(ctx, "a", "b", "zz"))

	_, err := kv.Get(ctx, "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	v, err := kv.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	require.NoError(t, kv.SetMany(ctx, nil))
	require.NoError(t, kv.DeleteMany(ctx))
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	kv, err := store.NewSQLiteKV(path)
	require.NoError(t, err)
	require.NoError(t, store.NewSessionStore(kv, nil).Save(ctx, "s1", "p1"))
	require.NoError(t, kv.Close())

	kv, err = store.NewSQLiteKV(path)
	require.NoError(t, err)
	defer kv.Close()

	pair, ok, err := store.NewSessionStore(kv, nil).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.Pair{SessionID: "s1", PersonaID: "p1"}, pair)
}
