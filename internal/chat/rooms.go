// Package chat implements the message write/read paths and the room
// membership rules. Services speak repo interfaces and the keyed-store
// components; only the HTTP and gateway boundaries translate their
// errors.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/repo"
	"github.com/parleychat/parley/internal/sanitize"
)

// RoomService owns rooms, memberships and the role guard matrix.
type RoomService struct {
	rooms       repo.Rooms
	memberships repo.Memberships
	users       repo.Users
	limiter     *ratelimit.Limiter
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRoomService creates the membership and role service.
func NewRoomService(rooms repo.Rooms, memberships repo.Memberships, users repo.Users, limiter *ratelimit.Limiter, logger zerolog.Logger) *RoomService {
	return &RoomService{
		rooms:       rooms,
		memberships: memberships,
		users:       users,
		limiter:     limiter,
		logger:      logger.With().Str("component", "rooms").Logger(),
		now:         time.Now,
	}
}

// SetClock overrides the service clock. Test helper.
func (s *RoomService) SetClock(now func() time.Time) { s.now = now }

// CreateRoomInput is the room creation payload.
type CreateRoomInput struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	IsPrivate bool   `json:"isPrivate"`
}

// Create inserts a room with its creator as sole owner and
// membersCount 1.
func (s *RoomService) Create(ctx context.Context, principal *model.User, in CreateRoomInput) (*model.Room, error) {
	name := sanitize.RoomName(in.Name)
	if name == "" {
		return nil, errs.ValidationFields("invalid room", map[string]string{"name": "must be 1-100 characters"})
	}
	if in.Type != model.RoomTypeDM && in.Type != model.RoomTypeChannel {
		return nil, errs.ValidationFields("invalid room", map[string]string{"type": "must be dm or channel"})
	}

	now := s.now().UTC()
	room := &model.Room{
		ID:           model.NewID(),
		Type:         in.Type,
		Name:         name,
		IsPrivate:    in.IsPrivate,
		CreatedBy:    principal.ID,
		MembersCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.rooms.Insert(ctx, room); err != nil {
		return nil, errs.Internal("create room", err)
	}
	owner := &model.Membership{
		ID:       model.NewID(),
		RoomID:   room.ID,
		UserID:   principal.ID,
		Role:     model.MemberRoleOwner,
		JoinedAt: now,
	}
	if err := s.memberships.Insert(ctx, owner); err != nil {
		return nil, errs.Internal("create owner membership", err)
	}

	s.logger.Info().Str("room_id", room.ID).Str("user_id", principal.ID).Msg("Room created")
	return room, nil
}

// Get loads a room the principal belongs to.
func (s *RoomService) Get(ctx context.Context, principal *model.User, roomID string) (*model.Room, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, roomID, principal.ID); err != nil {
		return nil, err
	}
	return room, nil
}

// List pages over the rooms the principal belongs to, newest first.
func (s *RoomService) List(ctx context.Context, principal *model.User, page, limit int) ([]model.Room, model.Pagination, error) {
	page, limit = NormalizePage(page, limit)
	ids, err := s.memberships.RoomIDsByUser(ctx, principal.ID)
	if err != nil {
		return nil, model.Pagination{}, errs.Internal("list memberships", err)
	}
	rooms, total, err := s.rooms.ListByIDs(ctx, ids, page, limit)
	if err != nil {
		return nil, model.Pagination{}, errs.Internal("list rooms", err)
	}
	return rooms, Paginate(page, limit, total), nil
}

// UpdateRoomInput is the room update payload. Nil fields are untouched.
type UpdateRoomInput struct {
	Name      *string `json:"name"`
	IsPrivate *bool   `json:"isPrivate"`
}

// Update patches room settings. Owners and moderators only.
func (s *RoomService) Update(ctx context.Context, principal *model.User, roomID string, in UpdateRoomInput) (*model.Room, error) {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	role, err := s.RoleOf(ctx, roomID, principal.ID)
	if err != nil {
		return nil, err
	}
	if role != model.MemberRoleOwner && role != model.MemberRoleModerator {
		return nil, errs.Forbidden("only owners and moderators can update the room")
	}

	fields := map[string]any{}
	if in.Name != nil {
		name := sanitize.RoomName(*in.Name)
		if name == "" {
			return nil, errs.ValidationFields("invalid room", map[string]string{"name": "must be 1-100 characters"})
		}
		fields["name"] = name
	}
	if in.IsPrivate != nil {
		fields["isPrivate"] = *in.IsPrivate
	}
	if len(fields) > 0 {
		if err := s.rooms.Update(ctx, roomID, fields); err != nil {
			return nil, errs.Internal("update room", err)
		}
	}
	return s.loadRoom(ctx, roomID)
}

// AddMember joins target to the room. Owners and moderators only; the
// join is admitted through the roomJoinUser window.
func (s *RoomService) AddMember(ctx context.Context, principal *model.User, roomID, targetID string) (*model.Membership, error) {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	role, err := s.RoleOf(ctx, roomID, principal.ID)
	if err != nil {
		return nil, err
	}
	if role != model.MemberRoleOwner && role != model.MemberRoleModerator {
		return nil, errs.Forbidden("only owners and moderators can add members")
	}

	if res := s.limiter.Allow(ctx, ratelimit.RuleRoomJoinUser, principal.ID); !res.Allowed {
		return nil, errs.RateLimited("too many membership changes", res.RetryAfter)
	}

	if _, err := s.users.ByID(ctx, targetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.NotFound("user not found")
		}
		return nil, errs.Internal("load user", err)
	}

	m := &model.Membership{
		ID:       model.NewID(),
		RoomID:   roomID,
		UserID:   targetID,
		Role:     model.MemberRoleMember,
		JoinedAt: s.now().UTC(),
	}
	if err := s.memberships.Insert(ctx, m); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, errs.Conflict("user is already a member")
		}
		return nil, errs.Internal("insert membership", err)
	}
	if err := s.rooms.IncMembers(ctx, roomID, 1); err != nil {
		s.logger.Error().Str("room_id", roomID).Err(err).Msg("Failed to increment membersCount")
	}
	return m, nil
}

// RemoveMember removes target from the room under the guard matrix:
// self-removal, moderator removing a plain member, or owner removing a
// non-owner. An owner leaves only by themselves and only while another
// owner remains.
func (s *RoomService) RemoveMember(ctx context.Context, principal *model.User, roomID, targetID string) error {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return err
	}
	callerRole, err := s.RoleOf(ctx, roomID, principal.ID)
	if err != nil {
		return err
	}
	target, err := s.memberships.Get(ctx, roomID, targetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errs.NotFound("membership not found")
		}
		return errs.Internal("load membership", err)
	}

	if target.Role == model.MemberRoleOwner {
		if principal.ID != targetID {
			return errs.Forbidden("an owner can only be removed by themselves")
		}
		owners, err := s.memberships.CountOwners(ctx, roomID)
		if err != nil {
			return errs.Internal("count owners", err)
		}
		if owners <= 1 {
			return errs.Forbidden("the sole owner cannot leave the room")
		}
	} else {
		allowed := principal.ID == targetID ||
			callerRole == model.MemberRoleOwner ||
			(callerRole == model.MemberRoleModerator && target.Role == model.MemberRoleMember)
		if !allowed {
			return errs.Forbidden("not allowed to remove this member")
		}
	}

	if err := s.memberships.Delete(ctx, roomID, targetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errs.NotFound("membership not found")
		}
		return errs.Internal("delete membership", err)
	}
	if err := s.rooms.IncMembers(ctx, roomID, -1); err != nil {
		s.logger.Error().Str("room_id", roomID).Err(err).Msg("Failed to decrement membersCount")
	}
	return nil
}

// UpdateMemberRole changes target's role. Owners only; never on
// themselves.
func (s *RoomService) UpdateMemberRole(ctx context.Context, principal *model.User, roomID, targetID, role string) (*model.Membership, error) {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	callerRole, err := s.RoleOf(ctx, roomID, principal.ID)
	if err != nil {
		return nil, err
	}
	if callerRole != model.MemberRoleOwner {
		return nil, errs.Forbidden("only owners can change member roles")
	}
	if principal.ID == targetID {
		return nil, errs.Forbidden("owners cannot change their own role")
	}
	switch role {
	case model.MemberRoleOwner, model.MemberRoleModerator, model.MemberRoleMember:
	default:
		return nil, errs.ValidationFields("invalid role", map[string]string{"role": "must be owner, moderator or member"})
	}

	if err := s.memberships.UpdateRole(ctx, roomID, targetID, role); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.NotFound("membership not found")
		}
		return nil, errs.Internal("update role", err)
	}
	m, err := s.memberships.Get(ctx, roomID, targetID)
	if err != nil {
		return nil, errs.Internal("load membership", err)
	}
	return m, nil
}

// Members lists the room's memberships. Members only.
func (s *RoomService) Members(ctx context.Context, principal *model.User, roomID string) ([]model.Membership, error) {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, roomID, principal.ID); err != nil {
		return nil, err
	}
	members, err := s.memberships.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, errs.Internal("list members", err)
	}
	return members, nil
}

// IsMember reports whether user belongs to room.
func (s *RoomService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := s.memberships.Get(ctx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RoleOf returns user's role in room, or Forbidden when not a member.
func (s *RoomService) RoleOf(ctx context.Context, roomID, userID string) (string, error) {
	m, err := s.memberships.Get(ctx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", errs.Forbidden("not a member of this room")
	}
	if err != nil {
		return "", errs.Internal("load membership", err)
	}
	return m.Role, nil
}

// MarkRead stamps the principal's membership with the last message they
// have read. messageID may be empty to record a bare last-seen.
func (s *RoomService) MarkRead(ctx context.Context, principal *model.User, roomID, messageID string) error {
	if _, err := s.requireMember(ctx, roomID, principal.ID); err != nil {
		return err
	}
	if err := s.memberships.SetLastRead(ctx, roomID, principal.ID, messageID, s.now().UTC()); err != nil {
		return errs.Internal("set last read", err)
	}
	return nil
}

// RoomIDsOf lists the room ids user belongs to. Used by the gateway for
// auto-join on connect.
func (s *RoomService) RoomIDsOf(ctx context.Context, userID string) ([]string, error) {
	return s.memberships.RoomIDsByUser(ctx, userID)
}

func (s *RoomService) loadRoom(ctx context.Context, roomID string) (*model.Room, error) {
	room, err := s.rooms.ByID(ctx, roomID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errs.NotFound("room not found")
	}
	if err != nil {
		return nil, errs.Internal("load room", err)
	}
	return room, nil
}

func (s *RoomService) requireMember(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	m, err := s.memberships.Get(ctx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errs.Forbidden("not a member of this room")
	}
	if err != nil {
		return nil, errs.Internal("load membership", err)
	}
	return m, nil
}

// NormalizePage applies paging defaults and the hard limit cap.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// Paginate computes the list envelope metadata.
func Paginate(page, limit int, total int64) model.Pagination {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return model.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    int64(page)*int64(limit) < total,
		HasPrev:    page > 1,
	}
}
