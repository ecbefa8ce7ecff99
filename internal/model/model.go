// Package model defines the documents of record and the projections
// served to clients. Documents carry bson tags for the document store;
// projections carry json tags for the API, cache and fan-out layers.
package model

import "time"

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Room types.
const (
	RoomTypeDM      = "dm"
	RoomTypeChannel = "channel"
)

// Membership roles.
const (
	MemberRoleOwner     = "owner"
	MemberRoleModerator = "moderator"
	MemberRoleMember    = "member"
)

// Sentiment values assigned by the analyzer.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// User is the account document. The password digest is excluded from
// default reads by the repository projection and never serialized.
type User struct {
	ID          string     `bson:"_id" json:"id"`
	Email       string     `bson:"email" json:"email"`
	Password    string     `bson:"password,omitempty" json:"-"`
	Name        string     `bson:"name" json:"name"`
	Role        string     `bson:"role" json:"role"`
	IsActive    bool       `bson:"isActive" json:"isActive"`
	AvatarURL   string     `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	LastLoginAt *time.Time `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// Room is a conversation scope. MembersCount is maintained to equal the
// number of live memberships referencing the room.
type Room struct {
	ID           string    `bson:"_id" json:"id"`
	Type         string    `bson:"type" json:"type"`
	Name         string    `bson:"name" json:"name"`
	IsPrivate    bool      `bson:"isPrivate" json:"isPrivate"`
	CreatedBy    string    `bson:"createdBy" json:"createdBy"`
	MembersCount int       `bson:"membersCount" json:"membersCount"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Membership authorizes one user in one room. At most one exists per
// (room, user) pair.
type Membership struct {
	ID                string     `bson:"_id" json:"id"`
	RoomID            string     `bson:"roomId" json:"roomId"`
	UserID            string     `bson:"userId" json:"userId"`
	Role              string     `bson:"role" json:"role"`
	JoinedAt          time.Time  `bson:"joinedAt" json:"joinedAt"`
	LastReadMessageID string     `bson:"lastReadMessageId,omitempty" json:"lastReadMessageId,omitempty"`
	LastSeenAt        *time.Time `bson:"lastSeenAt,omitempty" json:"lastSeenAt,omitempty"`
}

// Moderation is the analyzer verdict attached to a message. Initial
// state is neutral and unflagged; the pipeline rewrites it exactly once.
type Moderation struct {
	Sentiment string   `bson:"sentiment" json:"sentiment"`
	Flagged   bool     `bson:"flagged" json:"flagged"`
	Reasons   []string `bson:"reasons" json:"reasons"`
}

// NeutralModeration is the verdict a message carries before the pipeline
// has seen it.
func NeutralModeration() Moderation {
	return Moderation{Sentiment: SentimentNeutral, Flagged: false, Reasons: []string{}}
}

// Message is the persisted chat message. DeletedAt marks a soft delete;
// soft-deleted messages are absent from history and direct reads.
type Message struct {
	ID         string     `bson:"_id" json:"id"`
	RoomID     string     `bson:"roomId" json:"roomId"`
	SenderID   string     `bson:"senderId" json:"senderId"`
	Body       string     `bson:"body" json:"body"`
	Moderation Moderation `bson:"moderation" json:"moderation"`
	EditedAt   *time.Time `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	DeletedAt  *time.Time `bson:"deletedAt,omitempty" json:"-"`
	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// Presence is the ephemeral per-user record kept in the keyed store.
type Presence struct {
	Status      string    `json:"status"` // online or offline
	SocketID    string    `json:"socketId,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
}

// Presence statuses.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Pagination is the envelope metadata for paged list responses.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}
