package wire

// Server -> client payloads.

// UserRef identifies a subject in room scoped events.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// RoomAck is sent to the caller as joined_room / left_room.
type RoomAck struct {
	RoomID string `json:"roomId"`
}

// UserRoomEvent is the body of user_joined_room, user_left_room, user_typing
// and user_stopped_typing.
type UserRoomEvent struct {
	RoomID string  `json:"roomId"`
	User   UserRef `json:"user"`
}

// Reaction is a single (subject, emoji) pair on a message.
type Reaction struct {
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt int64  `json:"createdAt"`
}

// MessageInfo is the canonical message representation sent to clients.
type MessageInfo struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	Kind        string       `json:"kind"`
	ReplyToID   *string      `json:"replyToId,omitempty"`
	Attachments []Attachment `json:"attachments"`
	IsEdited    bool         `json:"isEdited"`
	EditedAt    int64        `json:"editedAt,omitempty"`
	IsDeleted   bool         `json:"isDeleted"`
	Reactions   []Reaction   `json:"reactions"`
	// IdempotencyKey echoes the submitter's key so the sender can reconcile
	// its optimistic copy.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	// CreatedAt is the creation time in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
	// UpdatedAt is the last mutation time in ms since epoch.
	UpdatedAt int64 `json:"updatedAt"`
}

// MessageEvent is the body of new_message and message_edited.
type MessageEvent struct {
	Message MessageInfo `json:"message"`
}

// MessageDeletedEvent is the body of message_deleted.
type MessageDeletedEvent struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

// ReactionAddedEvent is the body of message_reaction_added.
type ReactionAddedEvent struct {
	MessageID string   `json:"messageId"`
	RoomID    string   `json:"roomId"`
	Reaction  Reaction `json:"reaction"`
}

// ReactionRemovedEvent is the body of message_reaction_removed.
type ReactionRemovedEvent struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// StatusEvent is the body of user_status_change.
type StatusEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	// LastSeen is in ms since epoch.
	LastSeen int64 `json:"lastSeen"`
}

// ErrorPayload is the body of the error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	// Event names the client event that failed, when known.
	Event string `json:"event,omitempty"`
	// IdempotencyKey ties a failed send_message to its optimistic copy.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}
