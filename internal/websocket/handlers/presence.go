package handlers

import (
	"context"
	"strings"

	"github.com/bhandras/huddle/shared/wire"
)

// TypingStart marks the caller as typing in a subscribed room.
func TypingStart(ctx context.Context, deps Deps, auth AuthContext, req wire.RoomPayload) EventResult {
	if err := deps.Typing().Start(auth.Session(), strings.TrimSpace(req.RoomID)); err != nil {
		return Failure(wire.EventTypingStart, err, "")
	}
	return success(nil)
}

// TypingStop clears the caller's typing state. Stopping when not typing is a
// no-op.
func TypingStop(ctx context.Context, deps Deps, auth AuthContext, req wire.RoomPayload) EventResult {
	deps.Typing().Stop(auth.Session(), strings.TrimSpace(req.RoomID))
	return success(nil)
}

// StatusChange applies an explicit presence status requested by the caller.
func StatusChange(ctx context.Context, deps Deps, auth AuthContext, req wire.StatusChangePayload) EventResult {
	state, err := deps.Presence().SetStatus(ctx, auth.Session(), strings.TrimSpace(req.Status))
	if err != nil {
		return Failure(wire.EventStatusChange, err, "")
	}
	return success(wire.StatusEvent{
		UserID:   state.SubjectID,
		Status:   state.Status,
		LastSeen: state.LastSeen.UnixMilli(),
	})
}
