package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "github_installation_token:42", "ghs_abc", 5*time.Minute))

	tok, err := store.Get(ctx, "github_installation_token:42")
	require.NoError(t, err)
	assert.Equal(t, "ghs_abc", tok.Value)
	assert.False(t, tok.IsExpired())
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStore_GetExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "expired", "val", time.Minute))
	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "expired")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestMemoryStore_ExpiredEntriesDroppedOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "fresh", "val", time.Hour))
	require.NoError(t, store.Set(ctx, "stale", "val", time.Second))
	require.NoError(t, store.Set(ctx, "gone", "val", time.Hour))
	require.NoError(t, store.Delete(ctx, "gone"))
	assert.NoError(t, store.Delete(ctx, "never-existed"))
	assert.Equal(t, 2, store.Len())

	now = now.Add(time.Minute)
	_, err := store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStore_RejectsNonPositiveTTL(t *testing.T) {
	assert.Error(t, NewMemoryStore().Set(context.Background(), "k", "v", 0))
}

func TestToken_ExpiresWithin(t *testing.T) {
	tok := &Token{ExpiresAt: time.Now().Add(3 * time.Minute)}
	assert.True(t, tok.ExpiresWithin(5*time.Minute))
	assert.False(t, tok.ExpiresWithin(time.Minute))
}

func TestGetOrFetch_CachesUntilSkew(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	calls := 0
	fetch := func(context.Context) (string, time.Duration, error) {
		calls++
		return "ghs_token", time.Hour, nil
	}

	v, err := GetOrFetch(ctx, store, "k", 5*time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ghs_token", v)

	v, err = GetOrFetch(ctx, store, "k", 5*time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ghs_token", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrFetch_RefreshesNearExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "k", "old", time.Minute))

	v, err := GetOrFetch(ctx, store, "k", 5*time.Minute, func(context.Context) (string, time.Duration, error) {
		return "new", time.Hour, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestGetOrFetch_FetchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := GetOrFetch(context.Background(), NewMemoryStore(), "k", 0, func(context.Context) (string, time.Duration, error) {
		return "", 0, boom
	})
	assert.ErrorIs(t, err, boom)
}
