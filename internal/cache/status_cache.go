package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/model"
)

// putIfNewer stores the snapshot only when its version is newer than the
// cached one, so out-of-order writers never roll the status back.
var putIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'payload', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// StatusCache keeps the latest status snapshot of each session in Redis so
// progress polling does not hit the primary store.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *StatusCache {
	return &StatusCache{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "status_cache").Logger(),
	}
}

// Get returns the cached snapshot, or false on a miss.
func (c *StatusCache) Get(ctx context.Context, sessionID string) (model.StatusView, bool) {
	raw, err := c.rdb.HGet(ctx, config.CacheKey.SessionStatusKey(sessionID), "payload").Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Status cache read failed")
		}
		return model.StatusView{}, false
	}
	var view model.StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Discarding malformed status snapshot")
		return model.StatusView{}, false
	}
	return view, true
}

// Put stores the snapshot unless a newer version is already cached.
func (c *StatusCache) Put(ctx context.Context, view model.StatusView) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	key := config.CacheKey.SessionStatusKey(view.SessionID)
	if err := putIfNewer.Run(ctx, c.rdb, []string{key}, view.Version, payload, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("cache status: %w", err)
	}
	return nil
}

// SessionChanged refreshes the snapshot after each committed write.
func (c *StatusCache) SessionChanged(ctx context.Context, _, after *model.Session) {
	if err := c.Put(ctx, after.StatusView()); err != nil {
		c.log.Warn().Err(err).Str("session_id", after.ID).Msg("Status cache write failed, evicting snapshot")
		evictCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		c.Evict(evictCtx, after.ID)
	}
}

// Evict drops the cached snapshot so readers fall back to the store.
func (c *StatusCache) Evict(ctx context.Context, sessionID string) {
	if err := c.rdb.Del(ctx, config.CacheKey.SessionStatusKey(sessionID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Status cache evict failed")
	}
}
