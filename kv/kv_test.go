package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemory()

	_, err := store.Get(ctx, "missing")
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, store.SetEx(ctx, "k", "v", time.Minute))
	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", value)

	require.NoError(t, store.Del(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.Equal(t, ErrNotFound, err)
}

func TestMemoryDelOfAbsentKey(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemory()

	require.NoError(t, store.Del(ctx, "never-set"))
	_, err := store.Get(ctx, "never-set")
	require.Equal(t, ErrNotFound, err)
}

func TestMemoryExpiry(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemory()

	var current = time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	require.NoError(t, store.SetEx(ctx, "k", "v", 10*time.Second))

	current = current.Add(9 * time.Second)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	current = current.Add(2 * time.Second)
	_, err = store.Get(ctx, "k")
	require.Equal(t, ErrNotFound, err)
}

func TestMemorySets(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemory()

	ok, err := store.SIsMember(ctx, "bans", "10.0.0.1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SAdd(ctx, "bans", "10.0.0.1"))
	require.NoError(t, store.SAdd(ctx, "bans", "10.0.0.2"))

	ok, err = store.SIsMember(ctx, "bans", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)

	// Re-adding a member leaves cardinality unchanged.
	require.NoError(t, store.SAdd(ctx, "bans", "10.0.0.2"))

	n, err := store.SCard(ctx, "bans")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestMemorySetExpiry(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemory()

	var current = time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	require.NoError(t, store.SAdd(ctx, "grey", "10.0.0.9"))

	existed, err := store.Expire(ctx, "grey", 5*time.Second)
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = store.Expire(ctx, "absent", 5*time.Second)
	require.NoError(t, err)
	require.False(t, existed)

	current = current.Add(6 * time.Second)
	ok, err := store.SIsMember(ctx, "grey", "10.0.0.9")
	require.NoError(t, err)
	require.False(t, ok)

	n, err := store.SCard(ctx, "grey")
	require.NoError(t, err)
	require.Zero(t, n)
}
