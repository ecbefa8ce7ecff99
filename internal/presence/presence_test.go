package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/store"
)

func newTestRegistry() (*Registry, *store.Memory) {
	st := store.NewMemory()
	return New(st, zerolog.Nop()), st
}

func TestSetOnlineAndGet(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.SetOnline(ctx, "u1", "sock-1"))

	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PresenceOnline, p.Status)
	assert.Equal(t, "sock-1", p.SocketID)
	assert.False(t, p.LastSeen.IsZero())
}

func TestGetUnknownUser(t *testing.T) {
	r, _ := newTestRegistry()

	p, err := r.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSetOffline(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.SetOnline(ctx, "u1", "sock-1"))
	require.NoError(t, r.SetOffline(ctx, "u1"))

	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PresenceOffline, p.Status)
	assert.Empty(t, p.SocketID)
	assert.False(t, p.LastSeen.IsZero())
}

func TestStaleRecordReadsOffline(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	start := time.Now()
	r.SetClock(func() time.Time { return start })
	require.NoError(t, r.SetOnline(ctx, "u1", "sock-1"))

	r.SetClock(func() time.Time { return start.Add(StaleAfter + time.Second) })
	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PresenceOffline, p.Status)
}

func TestHeartbeatKeepsRecordFresh(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	start := time.Now()
	r.SetClock(func() time.Time { return start })
	require.NoError(t, r.SetOnline(ctx, "u1", "sock-1"))

	r.SetClock(func() time.Time { return start.Add(HeartbeatInterval) })
	require.NoError(t, r.Heartbeat(ctx, "u1"))

	// Past the original deadline but within heartbeat+StaleAfter.
	r.SetClock(func() time.Time { return start.Add(HeartbeatInterval + StaleAfter - time.Second) })
	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PresenceOnline, p.Status)
}

func TestHeartbeatIgnoresOfflineUsers(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.Heartbeat(ctx, "ghost"))

	require.NoError(t, r.SetOnline(ctx, "u1", "sock-1"))
	require.NoError(t, r.SetOffline(ctx, "u1"))
	require.NoError(t, r.Heartbeat(ctx, "u1"))

	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, p.Status)
}

func TestRoomMembershipWalks(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.AddToRoom(ctx, "u1", "r1"))
	require.NoError(t, r.AddToRoom(ctx, "u2", "r1"))
	require.NoError(t, r.AddToRoom(ctx, "u1", "r2"))

	users, err := r.RoomUsers(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)

	rooms, err := r.UserRooms(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, rooms)

	require.NoError(t, r.RemoveFromRoom(ctx, "u1", "r1"))

	users, err = r.RoomUsers(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, users)

	rooms, err = r.UserRooms(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r2"}, rooms)
}

func TestCleanupUser(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.SetOnline(ctx, "u1", "sock-1"))
	require.NoError(t, r.AddToRoom(ctx, "u1", "r1"))
	require.NoError(t, r.AddToRoom(ctx, "u1", "r2"))
	require.NoError(t, r.AddToRoom(ctx, "u2", "r1"))

	require.NoError(t, r.CleanupUser(ctx, "u1"))

	rooms, err := r.UserRooms(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// Other users in the same rooms are untouched.
	users, err := r.RoomUsers(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, users)

	p, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PresenceOffline, p.Status)
}
