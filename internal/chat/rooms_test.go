package chat

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/store"
)

func testUser(id string) *model.User {
	return &model.User{ID: id, Email: id + "@example.com", Name: id, Role: model.RoleUser, IsActive: true}
}

type roomFixture struct {
	svc         *RoomService
	rooms       *memRooms
	memberships *memMemberships
	users       *memUsers
}

func newRoomFixture(users ...*model.User) *roomFixture {
	rooms := newMemRooms()
	memberships := newMemMemberships()
	userRepo := newMemUsers(users...)
	limiter := ratelimit.New(store.NewMemory(), zerolog.Nop())
	return &roomFixture{
		svc:         NewRoomService(rooms, memberships, userRepo, limiter, zerolog.Nop()),
		rooms:       rooms,
		memberships: memberships,
		users:       userRepo,
	}
}

// setupRoom creates a room owned by owner and returns its id.
func setupRoom(t *testing.T, f *roomFixture, owner *model.User) string {
	t.Helper()
	room, err := f.svc.Create(context.Background(), owner, CreateRoomInput{Name: "general", Type: model.RoomTypeChannel})
	require.NoError(t, err)
	return room.ID
}

// addMemberAs inserts a membership directly with the given role.
func addMemberAs(t *testing.T, f *roomFixture, roomID, userID, role string) {
	t.Helper()
	require.NoError(t, f.memberships.Insert(context.Background(), &model.Membership{
		ID: model.NewID(), RoomID: roomID, UserID: userID, Role: role, JoinedAt: time.Now().UTC(),
	}))
}

func TestCreateRoom(t *testing.T) {
	owner := testUser("u1")
	f := newRoomFixture(owner)
	ctx := context.Background()

	room, err := f.svc.Create(ctx, owner, CreateRoomInput{Name: "  general  ", Type: model.RoomTypeChannel})
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)
	assert.Equal(t, model.RoomTypeChannel, room.Type)
	assert.Equal(t, owner.ID, room.CreatedBy)
	assert.Equal(t, 1, room.MembersCount)

	m, err := f.memberships.Get(ctx, room.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleOwner, m.Role)
}

func TestCreateRoomValidation(t *testing.T) {
	owner := testUser("u1")
	f := newRoomFixture(owner)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, owner, CreateRoomInput{Name: "<script>x</script>", Type: model.RoomTypeChannel})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.svc.Create(ctx, owner, CreateRoomInput{Name: "ok", Type: "broadcast"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestGetRoomGuards(t *testing.T) {
	owner := testUser("u1")
	outsider := testUser("u2")
	f := newRoomFixture(owner, outsider)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)

	_, err := f.svc.Get(ctx, owner, roomID)
	assert.NoError(t, err)

	_, err = f.svc.Get(ctx, outsider, roomID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = f.svc.Get(ctx, owner, "nope")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestListRooms(t *testing.T) {
	owner := testUser("u1")
	f := newRoomFixture(owner)
	ctx := context.Background()

	setupRoom(t, f, owner)
	setupRoom(t, f, owner)

	rooms, page, err := f.svc.List(ctx, owner, 1, 20)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
	assert.Equal(t, int64(2), page.Total)
	assert.False(t, page.HasNext)
}

func TestUpdateRoomRoleGuard(t *testing.T) {
	owner := testUser("u1")
	mod := testUser("u2")
	member := testUser("u3")
	f := newRoomFixture(owner, mod, member)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)
	addMemberAs(t, f, roomID, mod.ID, model.MemberRoleModerator)
	addMemberAs(t, f, roomID, member.ID, model.MemberRoleMember)

	name := "renamed"
	_, err := f.svc.Update(ctx, member, roomID, UpdateRoomInput{Name: &name})
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	updated, err := f.svc.Update(ctx, mod, roomID, UpdateRoomInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	empty := "   "
	_, err = f.svc.Update(ctx, owner, roomID, UpdateRoomInput{Name: &empty})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestAddMember(t *testing.T) {
	owner := testUser("u1")
	member := testUser("u2")
	target := testUser("u3")
	f := newRoomFixture(owner, member, target)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)
	addMemberAs(t, f, roomID, member.ID, model.MemberRoleMember)

	// Plain members cannot invite.
	_, err := f.svc.AddMember(ctx, member, roomID, target.ID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	m, err := f.svc.AddMember(ctx, owner, roomID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleMember, m.Role)

	room, err := f.rooms.ByID(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 3, room.MembersCount)

	// Second add of the same user conflicts.
	_, err = f.svc.AddMember(ctx, owner, roomID, target.ID)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	_, err = f.svc.AddMember(ctx, owner, roomID, "ghost")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestAddMemberRateLimited(t *testing.T) {
	owner := testUser("u1")
	users := []*model.User{owner}
	for i := 0; i < 25; i++ {
		users = append(users, testUser("t"+string(rune('a'+i))))
	}
	f := newRoomFixture(users...)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)

	var denied bool
	for _, target := range users[1:] {
		_, err := f.svc.AddMember(ctx, owner, roomID, target.ID)
		if errs.KindOf(err) == errs.KindRateLimited {
			denied = true
			break
		}
		require.NoError(t, err)
	}
	assert.True(t, denied, "membership churn past the join window must be denied")
}

func TestRemoveMemberGuardMatrix(t *testing.T) {
	type participant struct {
		id   string
		role string
	}
	cases := []struct {
		name    string
		caller  participant
		target  participant
		allowed bool
	}{
		{"member removes self", participant{"u2", model.MemberRoleMember}, participant{"u2", model.MemberRoleMember}, true},
		{"member removes other member", participant{"u2", model.MemberRoleMember}, participant{"u3", model.MemberRoleMember}, false},
		{"moderator removes member", participant{"u2", model.MemberRoleModerator}, participant{"u3", model.MemberRoleMember}, true},
		{"moderator removes moderator", participant{"u2", model.MemberRoleModerator}, participant{"u3", model.MemberRoleModerator}, false},
		{"owner removes moderator", participant{"u1", model.MemberRoleOwner}, participant{"u3", model.MemberRoleModerator}, true},
		{"moderator removes owner", participant{"u2", model.MemberRoleModerator}, participant{"u1", model.MemberRoleOwner}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			owner := testUser("u1")
			f := newRoomFixture(owner, testUser("u2"), testUser("u3"))
			ctx := context.Background()
			roomID := setupRoom(t, f, owner)
			added := map[string]bool{"u1": true}
			for _, p := range []participant{tc.caller, tc.target} {
				if !added[p.id] {
					addMemberAs(t, f, roomID, p.id, p.role)
					added[p.id] = true
				}
			}

			caller := testUser(tc.caller.id)
			err := f.svc.RemoveMember(ctx, caller, roomID, tc.target.id)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
			}
		})
	}
}

func TestSoleOwnerCannotLeave(t *testing.T) {
	owner := testUser("u1")
	second := testUser("u2")
	f := newRoomFixture(owner, second)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)

	err := f.svc.RemoveMember(ctx, owner, roomID, owner.ID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	// With a second owner in place, the original owner may leave.
	addMemberAs(t, f, roomID, second.ID, model.MemberRoleOwner)
	assert.NoError(t, f.svc.RemoveMember(ctx, owner, roomID, owner.ID))
}

func TestUpdateMemberRole(t *testing.T) {
	owner := testUser("u1")
	mod := testUser("u2")
	member := testUser("u3")
	f := newRoomFixture(owner, mod, member)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)
	addMemberAs(t, f, roomID, mod.ID, model.MemberRoleModerator)
	addMemberAs(t, f, roomID, member.ID, model.MemberRoleMember)

	_, err := f.svc.UpdateMemberRole(ctx, mod, roomID, member.ID, model.MemberRoleModerator)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = f.svc.UpdateMemberRole(ctx, owner, roomID, owner.ID, model.MemberRoleMember)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = f.svc.UpdateMemberRole(ctx, owner, roomID, member.ID, "vip")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	m, err := f.svc.UpdateMemberRole(ctx, owner, roomID, member.ID, model.MemberRoleModerator)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleModerator, m.Role)

	_, err = f.svc.UpdateMemberRole(ctx, owner, roomID, "ghost", model.MemberRoleMember)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMembersRequiresMembership(t *testing.T) {
	owner := testUser("u1")
	outsider := testUser("u2")
	f := newRoomFixture(owner, outsider)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)

	members, err := f.svc.Members(ctx, owner, roomID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	_, err = f.svc.Members(ctx, outsider, roomID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestMarkRead(t *testing.T) {
	owner := testUser("u1")
	outsider := testUser("u2")
	f := newRoomFixture(owner, outsider)
	ctx := context.Background()
	roomID := setupRoom(t, f, owner)

	require.NoError(t, f.svc.MarkRead(ctx, owner, roomID, "m42"))

	m, err := f.memberships.Get(ctx, roomID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "m42", m.LastReadMessageID)
	require.NotNil(t, m.LastSeenAt)

	err = f.svc.MarkRead(ctx, outsider, roomID, "m42")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestNormalizePage(t *testing.T) {
	page, limit := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, limit)

	_, limit = NormalizePage(1, 500)
	assert.Equal(t, 100, limit)

	page, limit = NormalizePage(3, 50)
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, limit)
}

func TestPaginate(t *testing.T) {
	p := Paginate(2, 20, 45)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext)
	assert.True(t, p.HasPrev)

	p = Paginate(3, 20, 45)
	assert.False(t, p.HasNext)

	p = Paginate(1, 20, 0)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasNext)
	assert.False(t, p.HasPrev)
}
