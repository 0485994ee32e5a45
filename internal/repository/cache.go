package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/redis"

	"prayerflow/internal/entity"
	"prayerflow/pkg/cache"
)

const (
	_categoryCachePrefix = "categories"
	_sentGuardPrefix     = "delivery:sent"

	_defaultCategoryTTL  = 5 * time.Minute
	_defaultSentGuardTTL = 7 * 24 * time.Hour
)

// KV is the subset of the wbf redis client the caches use. Get reports a
// missing key as redis.NoMatches.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value any, expiration time.Duration) error
}

type CategoryCache struct {
	kv  KV
	ttl time.Duration
}

func NewCategoryCache(kv KV, ttl time.Duration) *CategoryCache {
	if ttl <= 0 {
		ttl = _defaultCategoryTTL
	}
	return &CategoryCache{kv: kv, ttl: ttl}
}

func (c *CategoryCache) key(tenantID uuid.UUID) string {
	return cache.Key(_categoryCachePrefix, tenantID)
}

// Get reports a miss as (nil, false, nil).
func (c *CategoryCache) Get(ctx context.Context, tenantID uuid.UUID) ([]entity.Category, bool, error) {
	const op = "repository.CategoryCache.Get"

	raw, err := c.kv.Get(ctx, c.key(tenantID))
	if err != nil {
		if errors.Is(err, redis.NoMatches) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	categories, err := cache.Decode[[]entity.Category]([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return categories, true, nil
}

func (c *CategoryCache) Set(ctx context.Context, tenantID uuid.UUID, categories []entity.Category) error {
	const op = "repository.CategoryCache.Set"

	data, err := cache.Encode(categories)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = c.kv.SetWithExpiration(ctx, c.key(tenantID), data, c.ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendGuard remembers which queued messages reached a provider so a crash
// between sending and marking the row sent does not cause a second send.
type SendGuard struct {
	kv  KV
	ttl time.Duration
}

func NewSendGuard(kv KV, ttl time.Duration) *SendGuard {
	if ttl <= 0 {
		ttl = _defaultSentGuardTTL
	}
	return &SendGuard{kv: kv, ttl: ttl}
}

func (g *SendGuard) key(messageID uuid.UUID) string {
	return cache.Key(_sentGuardPrefix, messageID)
}

func (g *SendGuard) WasSent(ctx context.Context, messageID uuid.UUID) (bool, error) {
	_, err := g.kv.Get(ctx, g.key(messageID))
	switch {
	case errors.Is(err, redis.NoMatches):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("repository.SendGuard.WasSent: %w", err)
	}
	return true, nil
}

func (g *SendGuard) MarkSent(ctx context.Context, messageID uuid.UUID) error {
	if err := g.kv.SetWithExpiration(ctx, g.key(messageID), "1", g.ttl); err != nil {
		return fmt.Errorf("repository.SendGuard.MarkSent: %w", err)
	}
	return nil
}
