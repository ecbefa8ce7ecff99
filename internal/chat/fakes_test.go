package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parleychat/parley/internal/broker"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/repo"
)

// In-memory repositories backing the service tests.

type memRooms struct {
	mu    sync.Mutex
	rooms map[string]*model.Room
}

func newMemRooms() *memRooms {
	return &memRooms{rooms: map[string]*model.Room{}}
}

func (r *memRooms) Insert(_ context.Context, room *model.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *room
	r.rooms[room.ID] = &cp
	return nil
}

func (r *memRooms) ByID(_ context.Context, id string) (*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (r *memRooms) Update(_ context.Context, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return repo.ErrNotFound
	}
	if name, ok := fields["name"].(string); ok {
		room.Name = name
	}
	if private, ok := fields["isPrivate"].(bool); ok {
		room.IsPrivate = private
	}
	room.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRooms) IncMembers(_ context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return repo.ErrNotFound
	}
	room.MembersCount += delta
	return nil
}

func (r *memRooms) ListByIDs(_ context.Context, ids []string, page, limit int) ([]model.Room, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.Room
	for _, id := range ids {
		if room, ok := r.rooms[id]; ok {
			all = append(all, *room)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

type memMemberships struct {
	mu      sync.Mutex
	entries map[string]*model.Membership // roomID|userID
}

func newMemMemberships() *memMemberships {
	return &memMemberships{entries: map[string]*model.Membership{}}
}

func memKey(roomID, userID string) string { return roomID + "|" + userID }

func (m *memMemberships) Insert(_ context.Context, mb *model.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(mb.RoomID, mb.UserID)
	if _, exists := m.entries[key]; exists {
		return repo.ErrDuplicate
	}
	cp := *mb
	m.entries[key] = &cp
	return nil
}

func (m *memMemberships) Get(_ context.Context, roomID, userID string) (*model.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.entries[memKey(roomID, userID)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *mb
	return &cp, nil
}

func (m *memMemberships) Delete(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(roomID, userID)
	if _, ok := m.entries[key]; !ok {
		return repo.ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

func (m *memMemberships) ListByRoom(_ context.Context, roomID string) ([]model.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Membership
	for _, mb := range m.entries {
		if mb.RoomID == roomID {
			out = append(out, *mb)
		}
	}
	return out, nil
}

func (m *memMemberships) RoomIDsByUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, mb := range m.entries {
		if mb.UserID == userID {
			out = append(out, mb.RoomID)
		}
	}
	return out, nil
}

func (m *memMemberships) UpdateRole(_ context.Context, roomID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.entries[memKey(roomID, userID)]
	if !ok {
		return repo.ErrNotFound
	}
	mb.Role = role
	return nil
}

func (m *memMemberships) CountOwners(_ context.Context, roomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, mb := range m.entries {
		if mb.RoomID == roomID && mb.Role == model.MemberRoleOwner {
			n++
		}
	}
	return n, nil
}

func (m *memMemberships) SetLastRead(_ context.Context, roomID, userID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.entries[memKey(roomID, userID)]
	if !ok {
		return repo.ErrNotFound
	}
	mb.LastReadMessageID = messageID
	mb.LastSeenAt = &at
	return nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUsers(users ...*model.User) *memUsers {
	m := &memUsers{users: map[string]*model.User{}}
	for _, u := range users {
		cp := *u
		m.users[u.ID] = &cp
	}
	return m
}

func (m *memUsers) Insert(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return repo.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) ByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *u
	cp.Password = ""
	return &cp, nil
}

func (m *memUsers) ByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memUsers) Update(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "name":
			u.Name = v.(string)
		case "avatarUrl":
			u.AvatarURL = v.(string)
		case "role":
			u.Role = v.(string)
		case "isActive":
			u.IsActive = v.(bool)
		case "password":
			u.Password = v.(string)
		case "lastLoginAt":
			t := v.(time.Time)
			u.LastLoginAt = &t
		case "updatedAt":
			u.UpdatedAt = v.(time.Time)
		}
	}
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) List(_ context.Context, page, limit int) ([]model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.User
	for _, u := range m.users {
		cp := *u
		cp.Password = ""
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

type memMessages struct {
	mu   sync.Mutex
	docs map[string]*model.Message
}

func newMemMessages() *memMessages {
	return &memMessages{docs: map[string]*model.Message{}}
}

func (m *memMessages) Insert(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.docs[msg.ID] = &cp
	return nil
}

func (m *memMessages) ByID(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memMessages) live(roomID string) []model.Message {
	var out []model.Message
	for _, doc := range m.docs {
		if doc.RoomID == roomID && doc.DeletedAt == nil {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memMessages) ListByRoom(_ context.Context, roomID string, limit int, before *time.Time, skip int64) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.live(roomID)
	if before != nil {
		var filtered []model.Message
		for _, doc := range all {
			if doc.CreatedAt.Before(*before) {
				filtered = append(filtered, doc)
			}
		}
		all = filtered
	} else if skip > 0 {
		if skip >= int64(len(all)) {
			return nil, nil
		}
		all = all[skip:]
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memMessages) CountByRoom(_ context.Context, roomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.live(roomID))), nil
}

func (m *memMessages) SetBody(_ context.Context, id, body string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return repo.ErrNotFound
	}
	doc.Body = body
	doc.EditedAt = &editedAt
	doc.UpdatedAt = editedAt
	return nil
}

func (m *memMessages) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return repo.ErrNotFound
	}
	doc.DeletedAt = &at
	return nil
}

func (m *memMessages) UpdateModeration(_ context.Context, id string, mod model.Moderation, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return false, nil
	}
	doc.Moderation = mod
	doc.UpdatedAt = at
	return true, nil
}

// fakeProducer records inbound payloads.
type fakeProducer struct {
	mu      sync.Mutex
	inbound []broker.MessageMetadata
}

func (p *fakeProducer) ProduceInbound(_ context.Context, msg broker.MessageMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, msg)
	return nil
}

func (p *fakeProducer) ProduceModerated(context.Context, broker.ModeratedMessage) error { return nil }
func (p *fakeProducer) ProducePersisted(context.Context, broker.PersistedMessage) error { return nil }

// recordingEvents captures fan-out signals.
type recordingEvents struct {
	mu      sync.Mutex
	created []model.Message
	updated []model.Message
	deleted []string
}

func (e *recordingEvents) MessageCreated(_ string, msg model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, msg)
}

func (e *recordingEvents) MessageUpdated(_ string, msg model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updated = append(e.updated, msg)
}

func (e *recordingEvents) MessageDeleted(_, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, messageID)
}
