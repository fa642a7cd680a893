package handlers

import (
	"context"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
)

// RoomSubscriptions is the subset of the room router used by socket handlers.
type RoomSubscriptions interface {
	Join(ctx context.Context, s *realtime.Session, roomID string) (bool, error)
	Leave(s *realtime.Session, roomID string) bool
}

// MessageWriter is the subset of the message coordinator used by socket
// handlers.
type MessageWriter interface {
	Submit(ctx context.Context, req realtime.SubmitRequest) (realtime.SubmitResult, error)
	Edit(ctx context.Context, subjectID, messageID, content string) (wire.MessageInfo, error)
	Delete(ctx context.Context, subjectID, messageID string) (wire.MessageDeletedEvent, error)
	React(ctx context.Context, subjectID, messageID, emoji string, add bool) (bool, error)
}

// TypingIndicators is the subset of the typing tracker used by socket
// handlers.
type TypingIndicators interface {
	Start(s *realtime.Session, roomID string) error
	Stop(s *realtime.Session, roomID string) bool
}

// PresenceUpdater is the subset of the presence tracker used by socket
// handlers.
type PresenceUpdater interface {
	SetStatus(ctx context.Context, s *realtime.Session, status string) (realtime.PresenceState, error)
}

// Deps bundles the dependencies required by socket handlers.
type Deps struct {
	rooms    RoomSubscriptions
	messages MessageWriter
	typing   TypingIndicators
	presence PresenceUpdater
}

// NewDeps returns a Deps container for socket handler functions.
func NewDeps(rooms RoomSubscriptions, messages MessageWriter, typing TypingIndicators, presence PresenceUpdater) Deps {
	return Deps{
		rooms:    rooms,
		messages: messages,
		typing:   typing,
		presence: presence,
	}
}

// NewHubDeps wires every dependency from a realtime hub.
func NewHubDeps(hub *realtime.Hub) Deps {
	return NewDeps(hub.Router, hub.Coordinator, hub.Typing, hub.Presence)
}

// Rooms returns the room subscription dependency.
func (d Deps) Rooms() RoomSubscriptions {
	return d.rooms
}

// Messages returns the message write dependency.
func (d Deps) Messages() MessageWriter {
	return d.messages
}

// Typing returns the typing indicator dependency.
func (d Deps) Typing() TypingIndicators {
	return d.typing
}

// Presence returns the presence dependency.
func (d Deps) Presence() PresenceUpdater {
	return d.presence
}
