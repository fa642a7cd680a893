package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/stretchr/testify/require"
)

func TestSendMessage_SubmitsThroughCoordinator(t *testing.T) {
	messages := fakeMessages{
		submit: func(ctx context.Context, req realtime.SubmitRequest) (realtime.SubmitResult, error) {
			require.Equal(t, "r1", req.RoomID)
			require.Equal(t, "u1", req.SenderID)
			require.Equal(t, "hi", req.Content)
			require.Equal(t, "k1", req.IdempotencyKey)
			require.Equal(t, "socket", req.Source)
			return realtime.SubmitResult{Message: wire.MessageInfo{
				ID:             "m1",
				RoomID:         req.RoomID,
				SenderID:       req.SenderID,
				Content:        req.Content,
				IdempotencyKey: req.IdempotencyKey,
			}}, nil
		},
	}
	deps := NewDeps(nil, messages, nil, nil)

	res := SendMessage(context.Background(), deps, newAuth(t, "u1"), wire.SendMessagePayload{
		RoomID:         "r1",
		Content:        "hi",
		IdempotencyKey: "k1",
	})

	require.True(t, res.Ack().OK())
	msg, ok := res.Ack().Data.(wire.MessageInfo)
	require.True(t, ok)
	require.Equal(t, "m1", msg.ID)
	require.Equal(t, "k1", msg.IdempotencyKey)
	// new_message reaches the sender through the room broadcast.
	require.Empty(t, res.Emits())
}

func TestSendMessage_RequiresIdempotencyKey(t *testing.T) {
	messages := fakeMessages{
		submit: func(ctx context.Context, req realtime.SubmitRequest) (realtime.SubmitResult, error) {
			t.Fatal("submit must not be called")
			return realtime.SubmitResult{}, nil
		},
	}
	res := SendMessage(context.Background(), NewDeps(nil, messages, nil, nil), newAuth(t, "u1"), wire.SendMessagePayload{
		RoomID:  "r1",
		Content: "hi",
	})
	requireError(t, res, wire.CodeValidation, wire.EventSendMessage)
}

func TestSendMessage_FailureCarriesIdempotencyKey(t *testing.T) {
	messages := fakeMessages{
		submit: func(ctx context.Context, req realtime.SubmitRequest) (realtime.SubmitResult, error) {
			return realtime.SubmitResult{}, fmt.Errorf("%w: content must not be empty", realtime.ErrValidation)
		},
	}
	res := SendMessage(context.Background(), NewDeps(nil, messages, nil, nil), newAuth(t, "u1"), wire.SendMessagePayload{
		RoomID:         "r1",
		Content:        "   ",
		IdempotencyKey: "k9",
	})
	payload := requireError(t, res, wire.CodeValidation, wire.EventSendMessage)
	require.Equal(t, "k9", payload.IdempotencyKey)
	require.Contains(t, payload.Message, "content must not be empty")
}

func TestEditMessage_ForwardsCaller(t *testing.T) {
	messages := fakeMessages{
		edit: func(ctx context.Context, subjectID, messageID, content string) (wire.MessageInfo, error) {
			require.Equal(t, "u1", subjectID)
			require.Equal(t, "m1", messageID)
			return wire.MessageInfo{ID: messageID, Content: content, IsEdited: true}, nil
		},
	}
	res := EditMessage(context.Background(), NewDeps(nil, messages, nil, nil), newAuth(t, "u1"), wire.EditMessagePayload{
		MessageID: "m1",
		Content:   "hello",
	})
	require.True(t, res.Ack().OK())
	require.True(t, res.Ack().Data.(wire.MessageInfo).IsEdited)
}

func TestEditMessage_NotSender(t *testing.T) {
	messages := fakeMessages{
		edit: func(ctx context.Context, subjectID, messageID, content string) (wire.MessageInfo, error) {
			return wire.MessageInfo{}, fmt.Errorf("%w: only the sender may edit", realtime.ErrAuthorization)
		},
	}
	res := EditMessage(context.Background(), NewDeps(nil, messages, nil, nil), newAuth(t, "u2"), wire.EditMessagePayload{
		MessageID: "m1",
		Content:   "x",
	})
	requireError(t, res, wire.CodeAuthorization, wire.EventEditMessage)
}

func TestDeleteMessage(t *testing.T) {
	messages := fakeMessages{
		del: func(ctx context.Context, subjectID, messageID string) (wire.MessageDeletedEvent, error) {
			if messageID == "gone" {
				return wire.MessageDeletedEvent{}, fmt.Errorf("%w: message", realtime.ErrNotFound)
			}
			return wire.MessageDeletedEvent{MessageID: messageID, RoomID: "r1"}, nil
		},
	}
	deps := NewDeps(nil, messages, nil, nil)
	auth := newAuth(t, "u1")

	res := DeleteMessage(context.Background(), deps, auth, wire.MessageRefPayload{MessageID: "m1"})
	require.True(t, res.Ack().OK())
	require.Equal(t, wire.MessageDeletedEvent{MessageID: "m1", RoomID: "r1"}, res.Ack().Data)

	res = DeleteMessage(context.Background(), deps, auth, wire.MessageRefPayload{MessageID: "gone"})
	requireError(t, res, wire.CodeNotFound, wire.EventDeleteMessage)

	res = DeleteMessage(context.Background(), deps, auth, wire.MessageRefPayload{})
	requireError(t, res, wire.CodeValidation, wire.EventDeleteMessage)
}

func TestReactions_NoopSucceeds(t *testing.T) {
	var adds, removes int
	messages := fakeMessages{
		react: func(ctx context.Context, subjectID, messageID, emoji string, add bool) (bool, error) {
			require.Equal(t, "👍", emoji)
			if add {
				adds++
			} else {
				removes++
			}
			return false, nil
		},
	}
	deps := NewDeps(nil, messages, nil, nil)
	auth := newAuth(t, "u1")
	req := wire.ReactionPayload{MessageID: "m1", Emoji: "👍"}

	require.True(t, AddReaction(context.Background(), deps, auth, req).Ack().OK())
	require.True(t, RemoveReaction(context.Background(), deps, auth, req).Ack().OK())
	require.Equal(t, 1, adds)
	require.Equal(t, 1, removes)
}

func TestReactions_Errors(t *testing.T) {
	messages := fakeMessages{
		react: func(ctx context.Context, subjectID, messageID, emoji string, add bool) (bool, error) {
			return false, errors.New("database is locked")
		},
	}
	deps := NewDeps(nil, messages, nil, nil)
	auth := newAuth(t, "u1")

	res := AddReaction(context.Background(), deps, auth, wire.ReactionPayload{MessageID: "m1", Emoji: "x"})
	requireError(t, res, wire.CodePersistence, wire.EventAddReaction)

	res = RemoveReaction(context.Background(), deps, auth, wire.ReactionPayload{Emoji: "x"})
	requireError(t, res, wire.CodeValidation, wire.EventRemoveReaction)
}
