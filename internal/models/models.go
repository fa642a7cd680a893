package models

import (
	"database/sql"
)

type Subject struct {
	ID          string
	ExternalID  string
	DisplayName string
	PhotoURL    string
	Status      string
	LastSeenMs  int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

type Room struct {
	ID                  string
	Name                string
	Description         string
	Type                string
	MaxMembers          int64
	CreatedBy           string
	IsActive            int64
	LastMessageID       sql.NullString
	LastMessagePreview  string
	LastMessageSenderID sql.NullString
	LastMessageAtMs     sql.NullInt64
	CreatedAtMs         int64
	UpdatedAtMs         int64
}

type RoomMember struct {
	RoomID     string
	SubjectID  string
	Role       string
	IsActive   int64
	JoinedAtMs int64
}

type Message struct {
	ID             string
	RoomID         string
	SenderID       string
	Content        string
	Kind           string
	ReplyToID      sql.NullString
	Attachments    string
	IsEdited       int64
	EditedAtMs     sql.NullInt64
	IsDeleted      int64
	DeletedAtMs    sql.NullInt64
	IdempotencyKey sql.NullString
	CreatedAtMs    int64
	UpdatedAtMs    int64
}

type MessageReaction struct {
	MessageID   string
	SubjectID   string
	Emoji       string
	CreatedAtMs int64
}
