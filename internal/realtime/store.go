package realtime

import (
	"context"
	"time"

	"github.com/bhandras/huddle/shared/wire"
)

// Member roles.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// Room types.
const (
	RoomPublic  = "public"
	RoomPrivate = "private"
	RoomDirect  = "direct"
)

// Room is the durable room record as seen by the realtime core.
type Room struct {
	ID          string
	Name        string
	Description string
	Type        string
	MaxMembers  int
	CreatedBy   string
	Active      bool
	// LastMessageAt is zero when the room has no messages.
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Subject is a durable user record.
type Subject struct {
	ID          string
	ExternalID  string
	DisplayName string
	PhotoURL    string
	Status      string
	LastSeen    time.Time
}

// NewMessage is a validated submission ready to be written.
type NewMessage struct {
	RoomID         string
	SenderID       string
	Content        string
	Kind           string
	ReplyToID      *string
	Attachments    []wire.Attachment
	IdempotencyKey string
	At             time.Time
}

// SubjectStore persists subjects and their presence.
type SubjectStore interface {
	// ProvisionSubject returns the subject for externalID, creating it on
	// first sight.
	ProvisionSubject(ctx context.Context, externalID, displayName, photoURL string) (Subject, error)
	FindSubjectByExternalID(ctx context.Context, externalID string) (Subject, error)
	// UpdateStatus writes a presence transition. Writes older than the
	// stored lastSeen are ignored.
	UpdateStatus(ctx context.Context, subjectID, status string, lastSeen time.Time) error
}

// RoomStore exposes durable room membership. Membership mutations are single
// atomic statements.
type RoomStore interface {
	FindRoom(ctx context.Context, roomID string) (Room, error)
	// AddMember returns false when the subject already was an active member
	// or the room is full or inactive.
	AddMember(ctx context.Context, roomID, subjectID, role string) (bool, error)
	// RemoveMember returns false when the subject was not an active member.
	RemoveMember(ctx context.Context, roomID, subjectID string) (bool, error)
	// MemberRole returns the role of an active member, or ok=false.
	MemberRole(ctx context.Context, roomID, subjectID string) (role string, ok bool, err error)
	ListMemberRooms(ctx context.Context, subjectID string) ([]Room, error)
	UpdateLastMessage(ctx context.Context, msg wire.MessageInfo) error
}

// MessageStore persists messages and reactions.
type MessageStore interface {
	// CreateMessage returns errDuplicateKey when (room, sender, key) exists.
	CreateMessage(ctx context.Context, msg NewMessage) (wire.MessageInfo, error)
	FindMessage(ctx context.Context, messageID string) (wire.MessageInfo, error)
	// FindByIdempotencyKey returns ok=false when no message carries key.
	FindByIdempotencyKey(ctx context.Context, roomID, senderID, key string) (wire.MessageInfo, bool, error)
	UpdateContent(ctx context.Context, messageID, content string, at time.Time) (wire.MessageInfo, error)
	// SoftDelete returns false when the message was already tombstoned.
	SoftDelete(ctx context.Context, messageID string, at time.Time) (bool, error)
	// AddReaction and RemoveReaction report whether the set changed.
	AddReaction(ctx context.Context, messageID, subjectID, emoji string, at time.Time) (bool, error)
	RemoveReaction(ctx context.Context, messageID, subjectID, emoji string) (bool, error)
}

// Store is the full persistence surface of the realtime core.
type Store interface {
	SubjectStore
	RoomStore
	MessageStore
}
