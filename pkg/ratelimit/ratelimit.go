// Package ratelimit implements a fixed-window limiter over an external
// keyed TTL store, so counters survive restarts and are shared across
// replicas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Store interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	store  Store
	prefix string
	limit  int64
	window time.Duration
}

func New(store Store, prefix string, limit int64, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit.New: nil store")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("ratelimit.New: limit and window must be > 0, got %d/%s", limit, window)
	}
	return &Limiter{store: store, prefix: prefix, limit: limit, window: window}, nil
}

func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := l.store.IncrWindow(ctx, l.prefix+key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit.Allow: %w", err)
	}
	if ttl < 0 {
		ttl = l.window
	}
	if count > l.limit {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}
