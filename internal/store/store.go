// Package store provides the keyed store abstraction shared by the rate
// limiter, token denylist, hot-message cache and presence registry. The
// backing store is Redis in production and an in-memory table in tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned when a key or hash field does not exist.
var ErrNil = errors.New("store: nil")

// Z is a sorted-set member with its score. Scores carry millisecond
// precision timestamps.
type Z struct {
	Score  float64
	Member string
}

// Store is the uniform interface over the external keyed store.
//
// The store is not transactional across operations; callers tolerate
// intermediate states. Connection errors propagate unchanged.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)

	Close() error
}
