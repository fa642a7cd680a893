package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
)

// SendMessage submits a message through the coordinator. The canonical
// message reaches the caller twice: as the ACK data and as the new_message
// broadcast every subscriber receives.
func SendMessage(ctx context.Context, deps Deps, auth AuthContext, req wire.SendMessagePayload) EventResult {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		err := fmt.Errorf("%w: idempotencyKey is required", realtime.ErrValidation)
		return Failure(wire.EventSendMessage, err, "")
	}

	res, err := deps.Messages().Submit(ctx, realtime.SubmitRequest{
		RoomID:         strings.TrimSpace(req.RoomID),
		SenderID:       auth.UserID(),
		Content:        req.Content,
		Kind:           req.Kind,
		ReplyToID:      req.ReplyToID,
		Attachments:    req.Attachments,
		IdempotencyKey: key,
		Source:         "socket",
	})
	if err != nil {
		return Failure(wire.EventSendMessage, err, key)
	}
	return success(res.Message)
}

// EditMessage replaces the content of one of the caller's messages.
func EditMessage(ctx context.Context, deps Deps, auth AuthContext, req wire.EditMessagePayload) EventResult {
	if req.MessageID == "" {
		return Failure(wire.EventEditMessage, fmt.Errorf("%w: messageId is required", realtime.ErrValidation), "")
	}
	msg, err := deps.Messages().Edit(ctx, auth.UserID(), req.MessageID, req.Content)
	if err != nil {
		return Failure(wire.EventEditMessage, err, "")
	}
	return success(msg)
}

// DeleteMessage tombstones a message sent by the caller, or any message in a
// room the caller administers.
func DeleteMessage(ctx context.Context, deps Deps, auth AuthContext, req wire.MessageRefPayload) EventResult {
	if req.MessageID == "" {
		return Failure(wire.EventDeleteMessage, fmt.Errorf("%w: messageId is required", realtime.ErrValidation), "")
	}
	event, err := deps.Messages().Delete(ctx, auth.UserID(), req.MessageID)
	if err != nil {
		return Failure(wire.EventDeleteMessage, err, "")
	}
	return success(event)
}

// AddReaction adds the caller's emoji to a message. Adding an existing
// reaction succeeds without a broadcast.
func AddReaction(ctx context.Context, deps Deps, auth AuthContext, req wire.ReactionPayload) EventResult {
	return react(ctx, deps, auth, wire.EventAddReaction, req, true)
}

// RemoveReaction removes the caller's emoji from a message. Removing an absent
// reaction succeeds without a broadcast.
func RemoveReaction(ctx context.Context, deps Deps, auth AuthContext, req wire.ReactionPayload) EventResult {
	return react(ctx, deps, auth, wire.EventRemoveReaction, req, false)
}

func react(ctx context.Context, deps Deps, auth AuthContext, event string, req wire.ReactionPayload, add bool) EventResult {
	if req.MessageID == "" {
		return Failure(event, fmt.Errorf("%w: messageId is required", realtime.ErrValidation), "")
	}
	if _, err := deps.Messages().React(ctx, auth.UserID(), req.MessageID, req.Emoji, add); err != nil {
		return Failure(event, err, "")
	}
	return success(nil)
}
