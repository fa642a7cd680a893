package websocket

import (
	"github.com/bhandras/huddle/internal/websocket/handlers"
	"github.com/bhandras/huddle/shared/wire"
)

func (s *SocketIOServer) registerClientHandlers(conn *connection) {
	deps := s.deps

	// Room subscriptions
	onTypedAck[wire.RoomPayload](conn, wire.EventJoinRoom, deps, handlers.JoinRoom)
	onTypedAck[wire.RoomPayload](conn, wire.EventLeaveRoom, deps, handlers.LeaveRoom)

	// Message lifecycle
	onTypedAck[wire.SendMessagePayload](conn, wire.EventSendMessage, deps, handlers.SendMessage)
	onTypedAck[wire.EditMessagePayload](conn, wire.EventEditMessage, deps, handlers.EditMessage)
	onTypedAck[wire.MessageRefPayload](conn, wire.EventDeleteMessage, deps, handlers.DeleteMessage)
	onTypedAck[wire.ReactionPayload](conn, wire.EventAddReaction, deps, handlers.AddReaction)
	onTypedAck[wire.ReactionPayload](conn, wire.EventRemoveReaction, deps, handlers.RemoveReaction)

	// Typing and presence
	onTypedAck[wire.RoomPayload](conn, wire.EventTypingStart, deps, handlers.TypingStart)
	onTypedAck[wire.RoomPayload](conn, wire.EventTypingStop, deps, handlers.TypingStop)
	onTypedAck[wire.StatusChangePayload](conn, wire.EventStatusChange, deps, handlers.StatusChange)
}
