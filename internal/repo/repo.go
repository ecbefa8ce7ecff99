// Package repo is the document-store layer. Interfaces here are what the
// services consume; the mongo files implement them over the database of
// record. Tests substitute in-memory fakes.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/parleychat/parley/internal/model"
)

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("repo: not found")
	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("repo: duplicate")
)

// Users is the account collection.
type Users interface {
	Insert(ctx context.Context, u *model.User) error
	// ByID loads a user without the password digest.
	ByID(ctx context.Context, id string) (*model.User, error)
	// ByEmail loads a user including the password digest, for login.
	ByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, page, limit int) ([]model.User, int64, error)
}

// Rooms is the room collection.
type Rooms interface {
	Insert(ctx context.Context, r *model.Room) error
	ByID(ctx context.Context, id string) (*model.Room, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	// IncMembers adjusts membersCount by delta.
	IncMembers(ctx context.Context, id string, delta int) error
	// ListByIDs pages over the rooms with the given ids, newest first.
	ListByIDs(ctx context.Context, ids []string, page, limit int) ([]model.Room, int64, error)
}

// Memberships is the (room, user) table. The unique compound index on
// (roomId, userId) enforces at most one membership per pair.
type Memberships interface {
	Insert(ctx context.Context, m *model.Membership) error
	Get(ctx context.Context, roomID, userID string) (*model.Membership, error)
	Delete(ctx context.Context, roomID, userID string) error
	ListByRoom(ctx context.Context, roomID string) ([]model.Membership, error)
	RoomIDsByUser(ctx context.Context, userID string) ([]string, error)
	UpdateRole(ctx context.Context, roomID, userID, role string) error
	CountOwners(ctx context.Context, roomID string) (int64, error)
	SetLastRead(ctx context.Context, roomID, userID, messageID string, at time.Time) error
}

// Messages is the message collection. Reads exclude soft-deleted
// documents unless stated otherwise.
type Messages interface {
	Insert(ctx context.Context, m *model.Message) error
	// ByID loads a message regardless of deletion state; callers decide
	// how a soft-deleted document surfaces.
	ByID(ctx context.Context, id string) (*model.Message, error)
	// ListByRoom returns live messages newest-first. A non-nil before
	// restricts to messages created strictly earlier; skip applies
	// offset pagination when no cursor is given.
	ListByRoom(ctx context.Context, roomID string, limit int, before *time.Time, skip int64) ([]model.Message, error)
	CountByRoom(ctx context.Context, roomID string) (int64, error)
	SetBody(ctx context.Context, id, body string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// UpdateModeration rewrites the verdict by id. Returns false without
	// error when the id matches nothing, keeping redelivery idempotent.
	UpdateModeration(ctx context.Context, id string, mod model.Moderation, at time.Time) (bool, error)
}
