package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

// JoinRoom subscribes the caller to a room it is a durable member of and
// replies with joined_room. Joining twice is a successful no-op.
func JoinRoom(ctx context.Context, deps Deps, auth AuthContext, req wire.RoomPayload) EventResult {
	roomID := strings.TrimSpace(req.RoomID)
	joined, err := deps.Rooms().Join(ctx, auth.Session(), roomID)
	if err != nil {
		return Failure(wire.EventJoinRoom, err, "")
	}
	if joined {
		logger.Debugf("%s joined room %s", auth.UserID(), roomID)
	}

	ack := wire.RoomAck{RoomID: roomID}
	return success(ack, Emit{event: wire.EventJoinedRoom, payload: ack})
}

// LeaveRoom drops the caller's live subscription and replies with left_room.
// Durable membership is untouched.
func LeaveRoom(ctx context.Context, deps Deps, auth AuthContext, req wire.RoomPayload) EventResult {
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return Failure(wire.EventLeaveRoom, fmt.Errorf("%w: roomId is required", realtime.ErrValidation), "")
	}
	deps.Rooms().Leave(auth.Session(), roomID)

	ack := wire.RoomAck{RoomID: roomID}
	return success(ack, Emit{event: wire.EventLeftRoom, payload: ack})
}
