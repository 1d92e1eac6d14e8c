package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCache_SetIsVisibleImmediately(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "inbound:evt-1", []byte(`{"status":"accepted"}`), time.Minute))
	val, ok, err := c.Get(ctx, "inbound:evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"accepted"}`, string(val))
}

func TestCache_Miss(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "inbound:unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "short", []byte("v"), 50*time.Millisecond))
	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "short")
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNewRejectsZeroCost(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}
