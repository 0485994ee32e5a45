package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/redis"
)

// RedisStore keeps one counter per key and window.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// IncrWindow starts the window on first use; SETNX carries the expiry so a
// later INCR inside the same window keeps it.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, window)
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("ratelimit.RedisStore.IncrWindow: %w", err)
	}
	return incr.Val(), ttl.Val(), nil
}
