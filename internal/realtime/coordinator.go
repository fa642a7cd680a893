package realtime

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
)

const (
	// MaxContentLength is the message size limit in characters.
	MaxContentLength        = 2000
	MaxIdempotencyKeyLength = 128
	MaxAttachments          = 10
	maxEmojiLength          = 32
)

// CoordinatorStore is the persistence the coordinator writes through.
type CoordinatorStore interface {
	RoomStore
	MessageStore
}

// SubmitRequest is a message submission from any transport.
type SubmitRequest struct {
	RoomID         string
	SenderID       string
	Content        string
	Kind           string
	ReplyToID      *string
	Attachments    []wire.Attachment
	IdempotencyKey string
	// Source labels the transport for metrics ("socket", "http").
	Source string
}

// SubmitResult is the canonical message a submission resolved to.
type SubmitResult struct {
	Message wire.MessageInfo
	// Duplicate is set when the idempotency key matched an earlier
	// submission; nothing was written or broadcast.
	Duplicate bool
}

// Coordinator is the single entry point for message writes. Each accepted
// request is written once and then fanned out to the room's subscribers.
type Coordinator struct {
	store  CoordinatorStore
	router *Router
	rooms  *roomRuntimes
	now    func() time.Time
}

// NewCoordinator creates a coordinator writing to store and broadcasting
// through router.
func NewCoordinator(store CoordinatorStore, router *Router) *Coordinator {
	return &Coordinator{
		store:  store,
		router: router,
		rooms:  newRoomRuntimes(),
		now:    time.Now,
	}
}

// Submit persists a new message and broadcasts new_message to every
// subscriber of the room, the sender included. A repeated idempotency key
// returns the original message without writing or broadcasting again.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	msg, err := normalizeSubmit(req)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := c.requireMember(ctx, msg.RoomID, msg.SenderID); err != nil {
		return SubmitResult{}, err
	}
	if msg.ReplyToID != nil {
		parent, err := c.store.FindMessage(ctx, *msg.ReplyToID)
		if err != nil {
			return SubmitResult{}, storeErr("find reply target", err)
		}
		if parent.RoomID != msg.RoomID {
			return SubmitResult{}, validationf("replyToId must reference a message in the same room")
		}
	}

	var res SubmitResult
	err = c.rooms.exec(ctx, msg.RoomID, func(ctx context.Context) error {
		if msg.IdempotencyKey != "" {
			existing, ok, err := c.store.FindByIdempotencyKey(ctx, msg.RoomID, msg.SenderID, msg.IdempotencyKey)
			if err != nil {
				return storeErr("lookup idempotency key", err)
			}
			if ok {
				res = SubmitResult{Message: existing, Duplicate: true}
				return nil
			}
		}

		msg.At = c.now()
		created, err := c.store.CreateMessage(ctx, msg)
		if errors.Is(err, errDuplicateKey) {
			// Written through another process sharing the database.
			existing, ok, ferr := c.store.FindByIdempotencyKey(ctx, msg.RoomID, msg.SenderID, msg.IdempotencyKey)
			if ferr == nil && ok {
				res = SubmitResult{Message: existing, Duplicate: true}
				return nil
			}
		}
		if err != nil {
			return storeErr("create message", err)
		}

		if err := c.store.UpdateLastMessage(ctx, created); err != nil {
			logger.Warnf("Failed to update last message of room %s: %v", created.RoomID, err)
		}

		n := c.router.Broadcast(created.RoomID, wire.EventNewMessage, wire.MessageEvent{Message: created}, "")
		logger.Debugf("Message %s committed to room %s, delivered to %d sessions", created.ID, created.RoomID, n)
		res = SubmitResult{Message: created}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if res.Duplicate {
		metrics.DuplicateSubmissions.Inc()
	} else {
		metrics.MessagesCommitted.WithLabelValues(sourceLabel(req.Source)).Inc()
	}
	return res, nil
}

// Edit replaces the content of a message. Only the original sender may edit.
func (c *Coordinator) Edit(ctx context.Context, subjectID, messageID, content string) (wire.MessageInfo, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return wire.MessageInfo{}, err
	}
	msg, err := c.findLive(ctx, messageID)
	if err != nil {
		return wire.MessageInfo{}, err
	}
	if msg.SenderID != subjectID {
		return wire.MessageInfo{}, authorizationf("only the sender can edit a message")
	}

	var out wire.MessageInfo
	err = c.rooms.exec(ctx, msg.RoomID, func(ctx context.Context) error {
		updated, err := c.store.UpdateContent(ctx, messageID, content, c.now())
		if err != nil {
			return storeErr("update message", err)
		}
		c.router.Broadcast(updated.RoomID, wire.EventMessageEdited, wire.MessageEvent{Message: updated}, "")
		out = updated
		return nil
	})
	return out, err
}

// Delete tombstones a message. The sender or an admin of the room may delete.
// Permission is checked on the room runtime so it holds at write time.
func (c *Coordinator) Delete(ctx context.Context, subjectID, messageID string) (wire.MessageDeletedEvent, error) {
	msg, err := c.findLive(ctx, messageID)
	if err != nil {
		return wire.MessageDeletedEvent{}, err
	}

	event := wire.MessageDeletedEvent{MessageID: msg.ID, RoomID: msg.RoomID}
	err = c.rooms.exec(ctx, msg.RoomID, func(ctx context.Context) error {
		msg, err := c.findLive(ctx, messageID)
		if err != nil {
			return err
		}
		if err := c.canDelete(ctx, msg, subjectID); err != nil {
			return err
		}

		deleted, err := c.store.SoftDelete(ctx, messageID, c.now())
		if err != nil {
			return storeErr("delete message", err)
		}
		if !deleted {
			return notFoundf("message %s", messageID)
		}
		c.router.Broadcast(msg.RoomID, wire.EventMessageDeleted, event, "")
		return nil
	})
	return event, err
}

func (c *Coordinator) canDelete(ctx context.Context, msg wire.MessageInfo, subjectID string) error {
	if msg.SenderID == subjectID {
		return nil
	}
	role, ok, err := c.store.MemberRole(ctx, msg.RoomID, subjectID)
	if err != nil {
		return storeErr("check membership", err)
	}
	if !ok || role != RoleAdmin {
		return authorizationf("only the sender or a room admin can delete a message")
	}
	return nil
}

// React adds or removes the (subject, emoji) pair on a message. It reports
// whether the reaction set changed; only changes are broadcast.
func (c *Coordinator) React(ctx context.Context, subjectID, messageID, emoji string, add bool) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLength || strings.IndexFunc(emoji, unicode.IsSpace) >= 0 {
		return false, validationf("invalid emoji")
	}
	msg, err := c.findLive(ctx, messageID)
	if err != nil {
		return false, err
	}
	if err := c.requireMember(ctx, msg.RoomID, subjectID); err != nil {
		return false, err
	}

	var changed bool
	err = c.rooms.exec(ctx, msg.RoomID, func(ctx context.Context) error {
		// A delete queued ahead of this job wins.
		if _, err := c.findLive(ctx, messageID); err != nil {
			return err
		}

		at := c.now()
		var err error
		if add {
			changed, err = c.store.AddReaction(ctx, messageID, subjectID, emoji, at)
		} else {
			changed, err = c.store.RemoveReaction(ctx, messageID, subjectID, emoji)
		}
		if err != nil {
			return storeErr("update reaction", err)
		}
		if !changed {
			return nil
		}
		if add {
			c.router.Broadcast(msg.RoomID, wire.EventMessageReactionAdded, wire.ReactionAddedEvent{
				MessageID: messageID,
				RoomID:    msg.RoomID,
				Reaction:  wire.Reaction{UserID: subjectID, Emoji: emoji, CreatedAt: at.UnixMilli()},
			}, "")
		} else {
			c.router.Broadcast(msg.RoomID, wire.EventMessageReactionRemoved, wire.ReactionRemovedEvent{
				MessageID: messageID,
				RoomID:    msg.RoomID,
				UserID:    subjectID,
				Emoji:     emoji,
			}, "")
		}
		return nil
	})
	return changed, err
}

func (c *Coordinator) requireMember(ctx context.Context, roomID, subjectID string) error {
	room, err := c.store.FindRoom(ctx, roomID)
	if err != nil {
		return storeErr("find room", err)
	}
	if !room.Active {
		return notFoundf("room %s is inactive", roomID)
	}
	_, ok, err := c.store.MemberRole(ctx, roomID, subjectID)
	if err != nil {
		return storeErr("check membership", err)
	}
	if !ok {
		return authorizationf("not a member of room %s", roomID)
	}
	return nil
}

func (c *Coordinator) findLive(ctx context.Context, messageID string) (wire.MessageInfo, error) {
	if messageID == "" {
		return wire.MessageInfo{}, validationf("messageId is required")
	}
	msg, err := c.store.FindMessage(ctx, messageID)
	if err != nil {
		return wire.MessageInfo{}, storeErr("find message", err)
	}
	if msg.IsDeleted {
		return wire.MessageInfo{}, notFoundf("message %s", messageID)
	}
	return msg, nil
}

func normalizeSubmit(req SubmitRequest) (NewMessage, error) {
	if req.RoomID == "" {
		return NewMessage{}, validationf("roomId is required")
	}
	if req.SenderID == "" {
		return NewMessage{}, ErrAuthentication
	}
	content, err := normalizeContent(req.Content)
	if err != nil {
		return NewMessage{}, err
	}

	kind := req.Kind
	if kind == "" {
		kind = wire.KindText
	}
	switch kind {
	case wire.KindText, wire.KindImage, wire.KindFile, wire.KindSystem:
	default:
		return NewMessage{}, validationf("unknown message kind %q", kind)
	}

	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return NewMessage{}, validationf("idempotencyKey exceeds %d characters", MaxIdempotencyKeyLength)
	}
	if len(req.Attachments) > MaxAttachments {
		return NewMessage{}, validationf("at most %d attachments are allowed", MaxAttachments)
	}
	for _, a := range req.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return NewMessage{}, validationf("attachment url is required")
		}
		if a.Size < 0 {
			return NewMessage{}, validationf("attachment size must not be negative")
		}
	}

	var replyTo *string
	if req.ReplyToID != nil && *req.ReplyToID != "" {
		id := *req.ReplyToID
		replyTo = &id
	}

	return NewMessage{
		RoomID:         req.RoomID,
		SenderID:       req.SenderID,
		Content:        content,
		Kind:           kind,
		ReplyToID:      replyTo,
		Attachments:    req.Attachments,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", validationf("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", validationf("message content exceeds %d characters", MaxContentLength)
	}
	return content, nil
}

func sourceLabel(source string) string {
	if source == "" {
		return "socket"
	}
	return source
}
