package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/psytest-backend/internal/config"
)

// RedisNotifier publishes each event on its session's pub/sub channel,
// which feeds the live status stream.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Publish(ctx context.Context, evs ...Event) error {
	pipe := n.rdb.Pipeline()
	for _, e := range evs {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, config.CacheKey.SessionEventsChannel(e.SessionID), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (n *RedisNotifier) Close() error { return nil }
