// Package cache keeps the per-room ring of most-recent message
// projections. The cache is advisory: cold reads fall through to the
// document store, and stale reads are bounded by the entry TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/store"
)

const (
	// MaxEntries bounds the ring per room.
	MaxEntries = 50
	// TTL bounds the stale-read window.
	TTL = 5 * time.Minute
)

func key(roomID string) string {
	return fmt.Sprintf("recent:room:%s", roomID)
}

// Recent is the hot-message cache.
type Recent struct {
	store  store.Store
	logger zerolog.Logger
}

// New creates the cache over the given store.
func New(st store.Store, logger zerolog.Logger) *Recent {
	return &Recent{
		store:  st,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Put replaces the room's ring with the given projections, newest first,
// truncated to MaxEntries.
func (c *Recent) Put(ctx context.Context, roomID string, messages []model.Message) error {
	if len(messages) > MaxEntries {
		messages = messages[:MaxEntries]
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key(roomID), string(payload), TTL)
}

// Get returns the cached ring, or nil on a miss.
func (c *Recent) Get(ctx context.Context, roomID string) ([]model.Message, error) {
	raw, err := c.store.Get(ctx, key(roomID))
	if errors.Is(err, store.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		// Corrupt entry: drop it and report a miss.
		c.logger.Warn().Str("room_id", roomID).Err(err).Msg("Corrupt cache entry, invalidating")
		_ = c.store.Del(ctx, key(roomID))
		return nil, nil
	}
	return messages, nil
}

// Prepend pushes one new message onto the front of the ring and
// re-truncates. A miss starts a fresh ring with just this message.
func (c *Recent) Prepend(ctx context.Context, roomID string, msg model.Message) error {
	existing, err := c.Get(ctx, roomID)
	if err != nil {
		return err
	}
	updated := append([]model.Message{msg}, existing...)
	return c.Put(ctx, roomID, updated)
}

// Invalidate drops the room's ring. Best effort on edit/delete.
func (c *Recent) Invalidate(ctx context.Context, roomID string) error {
	return c.store.Del(ctx, key(roomID))
}
