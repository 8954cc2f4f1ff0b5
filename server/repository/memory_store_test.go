package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavehq/wavechat/server/usecase"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()
	clock := newManualClock()
	store := NewMemoryStoreWithClock(clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	clock.advance(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, usecase.ErrKeyMiss)
}

func TestMemoryStoreMiss(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, usecase.ErrKeyMiss)

	var out struct{ A int }
	err = store.GetJSON(context.Background(), "absent", &out)
	assert.ErrorIs(t, err, usecase.ErrKeyMiss)
}

func TestMemoryStoreExpireRenewsWindow(t *testing.T) {
	t.Parallel()
	clock := newManualClock()
	store := NewMemoryStoreWithClock(clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	clock.advance(50 * time.Second)
	require.NoError(t, store.Expire(ctx, "k", time.Minute))
	clock.advance(50 * time.Second)

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	assert.ErrorIs(t, store.Expire(ctx, "missing", time.Minute), usecase.ErrKeyMiss)
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, usecase.ErrKeyMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestMemoryStoreJSONRoundtrip(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, store.SetJSON(ctx, "k", payload{Name: "x", Count: 3}, time.Minute))

	var out payload
	require.NoError(t, store.GetJSON(ctx, "k", &out))
	assert.Equal(t, payload{Name: "x", Count: 3}, out)
}
