package wire

// Client -> server payloads. Each Socket.IO event carries exactly one of these
// as its first argument, optionally followed by an ACK callback.

// SocketAuthPayload is the Socket.IO handshake auth object.
type SocketAuthPayload struct {
	// Token is the bearer credential issued by the identity provider.
	Token string `json:"token"`
}

// RoomPayload is the payload for join_room, leave_room, typing_start and
// typing_stop.
type RoomPayload struct {
	// RoomID is the target room id.
	RoomID string `json:"roomId"`
}

// Attachment describes a file stored outside the chat service.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

// SendMessagePayload is the payload for send_message.
type SendMessagePayload struct {
	// RoomID is the target room id.
	RoomID string `json:"roomId"`
	// Content is the message body; it is trimmed server-side.
	Content string `json:"content"`
	// Kind is one of text|image|file|system. Empty means text.
	Kind string `json:"kind,omitempty"`
	// ReplyToID optionally references a message in the same room.
	ReplyToID *string `json:"replyToId,omitempty"`
	// Attachments are references to externally stored files.
	Attachments []Attachment `json:"attachments,omitempty"`
	// IdempotencyKey is the client generated token for this logical send.
	IdempotencyKey string `json:"idempotencyKey"`
}

// EditMessagePayload is the payload for edit_message.
type EditMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// MessageRefPayload is the payload for delete_message.
type MessageRefPayload struct {
	MessageID string `json:"messageId"`
}

// ReactionPayload is the payload for add_reaction and remove_reaction.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// StatusChangePayload is the payload for status_change.
type StatusChangePayload struct {
	// Status is one of online|away|offline.
	Status string `json:"status"`
}
