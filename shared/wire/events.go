package wire

// Client -> server Socket.IO event names.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventStatusChange   = "status_change"
)

// Server -> client Socket.IO event names.
const (
	EventJoinedRoom             = "joined_room"
	EventLeftRoom               = "left_room"
	EventUserJoinedRoom         = "user_joined_room"
	EventUserLeftRoom           = "user_left_room"
	EventNewMessage             = "new_message"
	EventMessageEdited          = "message_edited"
	EventMessageDeleted         = "message_deleted"
	EventMessageReactionAdded   = "message_reaction_added"
	EventMessageReactionRemoved = "message_reaction_removed"
	EventUserTyping             = "user_typing"
	EventUserStoppedTyping      = "user_stopped_typing"
	EventUserStatusChange       = "user_status_change"
	EventError                  = "error"
)

// Error codes carried by ErrorPayload and error ACKs.
const (
	CodeAuthentication = "AUTHENTICATION"
	CodeAuthorization  = "AUTHORIZATION"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION"
	CodePersistence    = "PERSISTENCE"
	CodeRateLimited    = "RATE_LIMITED"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// Message kinds.
const (
	KindText   = "text"
	KindImage  = "image"
	KindFile   = "file"
	KindSystem = "system"
)
