package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProgressStore(t *testing.T, ttl time.Duration) (*ProgressStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewProgressStore(client, ttl), mr
}

func TestProgressLifecycle(t *testing.T) {
	store, _ := newTestProgressStore(t, time.Hour)
	ctx := context.Background()

	id, err := store.Begin(ctx, "restore")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	record, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "restore", record.Operation)
	assert.Equal(t, ProgressStateRunning, record.State)

	require.NoError(t, store.Update(ctx, id, ProgressStateCompleted, "done"))

	record, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ProgressStateCompleted, record.State)
	assert.Equal(t, "done", record.Message)
}

func TestProgressRecordsExpire(t *testing.T) {
	store, mr := newTestProgressStore(t, time.Minute)
	ctx := context.Background()

	id, err := store.Begin(ctx, "backup")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	record, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, record, "expired record reads as never-existed")
}

func TestProgressUnknownOperation(t *testing.T) {
	store, _ := newTestProgressStore(t, time.Hour)
	ctx := context.Background()

	record, err := store.Get(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, record)

	assert.Error(t, store.Update(ctx, "no-such-id", ProgressStateFailed, "x"))
}

func TestProgressDegradesWithoutRedis(t *testing.T) {
	store := NewProgressStore(nil, time.Hour)
	ctx := context.Background()

	assert.False(t, store.Enabled())

	id, err := store.Begin(ctx, "backup")
	require.NoError(t, err)
	assert.Empty(t, id)

	assert.NoError(t, store.Update(ctx, id, ProgressStateCompleted, ""))

	record, err := store.Get(ctx, "anything")
	require.NoError(t, err)
	assert.Nil(t, record)
}
