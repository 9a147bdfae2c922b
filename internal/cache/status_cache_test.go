package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestStatusCacheKeepsNewestVersion(t *testing.T) {
	ctx := context.Background()
	c := NewStatusCache(redisClient(t), time.Minute, zerolog.Nop())
	id := uuid.NewString()

	_, ok := c.Get(ctx, id)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, model.StatusView{SessionID: id, Status: model.StatusPartialReady, Version: 3}))
	require.NoError(t, c.Put(ctx, model.StatusView{SessionID: id, Status: model.StatusGenerating, Version: 2}))

	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, model.StatusPartialReady, got.Status)
	assert.Equal(t, int64(3), got.Version)
}

func TestSessionChangedEvictsWhenWriteFails(t *testing.T) {
	ctx := context.Background()
	c := NewStatusCache(redisClient(t), time.Minute, zerolog.Nop())
	id := uuid.NewString()

	require.NoError(t, c.Put(ctx, model.StatusView{SessionID: id, Status: model.StatusGenerating, Version: 1}))

	// A cancelled write leaves the generating snapshot stale; it must not be served.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	after := &model.Session{ID: id, Status: model.StatusReady, Version: 2}
	c.SessionChanged(cancelled, nil, after)

	_, ok := c.Get(ctx, id)
	assert.False(t, ok)

	c.SessionChanged(ctx, nil, after)
	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, model.StatusReady, got.Status)
}
