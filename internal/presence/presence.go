// Package presence keeps the user-socket-room triangle in the keyed
// store. All mutation goes through store primitives; no in-process state
// is authoritative.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/store"
)

// Keys. The room and user hashes store composite fields so membership of
// the ephemeral triangle can be walked from either side.
const (
	userPresenceKey = "user:presence" // userId -> JSON presence blob
	roomUsersKey    = "room:users"    // "roomId:userId" -> "1"
	userRoomsKey    = "user:rooms"    // "userId:roomId" -> "1"
)

const (
	// HeartbeatInterval is how often a live socket refreshes its blob.
	HeartbeatInterval = 20 * time.Second
	// StaleAfter is the silence after which a record reads as offline.
	StaleAfter = 30 * time.Second
)

// Registry is the presence registry.
type Registry struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a registry over the given store.
func New(st store.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger.With().Str("component", "presence").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the registry clock. Test helper.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) write(ctx context.Context, userID string, p model.Presence) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.store.HSet(ctx, userPresenceKey, userID, string(payload))
}

// SetOnline records the user as online on the given socket.
func (r *Registry) SetOnline(ctx context.Context, userID, socketID string) error {
	now := r.now().UTC()
	return r.write(ctx, userID, model.Presence{
		Status:      model.PresenceOnline,
		SocketID:    socketID,
		LastSeen:    now,
		ConnectedAt: now,
	})
}

// SetOffline marks the user offline, keeping the last-seen timestamp.
func (r *Registry) SetOffline(ctx context.Context, userID string) error {
	return r.write(ctx, userID, model.Presence{
		Status:   model.PresenceOffline,
		LastSeen: r.now().UTC(),
	})
}

// Heartbeat refreshes the blob's last-seen. Called every
// HeartbeatInterval while the socket lives.
func (r *Registry) Heartbeat(ctx context.Context, userID string) error {
	current, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if current == nil || current.Status != model.PresenceOnline {
		return nil
	}
	current.LastSeen = r.now().UTC()
	return r.write(ctx, userID, *current)
}

// Get returns the user's presence. A record silent for longer than
// StaleAfter reads as offline; a missing record returns nil.
func (r *Registry) Get(ctx context.Context, userID string) (*model.Presence, error) {
	raw, err := r.store.HGet(ctx, userPresenceKey, userID)
	if errors.Is(err, store.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p model.Presence
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		r.logger.Warn().Str("user_id", userID).Err(err).Msg("Corrupt presence blob")
		return nil, nil
	}
	if p.Status == model.PresenceOnline && r.now().Sub(p.LastSeen) > StaleAfter {
		p.Status = model.PresenceOffline
	}
	return &p, nil
}

// AddToRoom records the user as present in the room.
func (r *Registry) AddToRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.HSet(ctx, roomUsersKey, roomID+":"+userID, "1"); err != nil {
		return err
	}
	return r.store.HSet(ctx, userRoomsKey, userID+":"+roomID, "1")
}

// RemoveFromRoom clears the user's presence in the room.
func (r *Registry) RemoveFromRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.HDel(ctx, roomUsersKey, roomID+":"+userID); err != nil {
		return err
	}
	return r.store.HDel(ctx, userRoomsKey, userID+":"+roomID)
}

// RoomUsers lists the users currently present in the room.
func (r *Registry) RoomUsers(ctx context.Context, roomID string) ([]string, error) {
	fields, err := r.store.HGetAll(ctx, roomUsersKey)
	if err != nil {
		return nil, err
	}
	prefix := roomID + ":"
	var users []string
	for field := range fields {
		if strings.HasPrefix(field, prefix) {
			users = append(users, field[len(prefix):])
		}
	}
	return users, nil
}

// UserRooms lists the rooms the user is currently present in.
func (r *Registry) UserRooms(ctx context.Context, userID string) ([]string, error) {
	fields, err := r.store.HGetAll(ctx, userRoomsKey)
	if err != nil {
		return nil, err
	}
	prefix := userID + ":"
	var rooms []string
	for field := range fields {
		if strings.HasPrefix(field, prefix) {
			rooms = append(rooms, field[len(prefix):])
		}
	}
	return rooms, nil
}

// CleanupUser removes the user from every room and marks them offline.
// Called on socket disconnect.
func (r *Registry) CleanupUser(ctx context.Context, userID string) error {
	rooms, err := r.UserRooms(ctx, userID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, roomID := range rooms {
		if err := r.RemoveFromRoom(ctx, userID, roomID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove from room %s: %w", roomID, err)
		}
	}
	if err := r.SetOffline(ctx, userID); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
