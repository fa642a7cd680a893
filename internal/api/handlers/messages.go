package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/bhandras/huddle/internal/api/middleware"
	"github.com/bhandras/huddle/internal/models"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100

	// IdempotencyKeyHeader carries the client's idempotency key on
	// POST /v1/rooms/:id/messages.
	IdempotencyKeyHeader = "Idempotency-Key"
)

type MessageHandler struct {
	queries *models.Queries
	hub     *realtime.Hub
}

func NewMessageHandler(queries *models.Queries, hub *realtime.Hub) *MessageHandler {
	return &MessageHandler{
		queries: queries,
		hub:     hub,
	}
}

// SendMessageRequest is the body of POST /v1/rooms/:id/messages.
type SendMessageRequest struct {
	Content        string            `json:"content"`
	Kind           string            `json:"kind"`
	ReplyToID      *string           `json:"replyToId"`
	Attachments    []wire.Attachment `json:"attachments"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// EditMessageRequest is the body of PUT /v1/messages/:id.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest is the body of POST and DELETE /v1/messages/:id/reactions.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// HistoryCursor points at the oldest message of a page. Passing it back as
// before/beforeId returns the next older page.
type HistoryCursor struct {
	Before   int64  `json:"before"`
	BeforeID string `json:"beforeId"`
}

// ListMessages handles GET /v1/rooms/:id/messages. Tombstoned messages are
// omitted. Results are oldest first; before/beforeId page backwards in time.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)
	roomID := c.Param("id")
	ctx := c.Request.Context()

	limit := int64(defaultHistoryLimit)
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.ParseInt(limitStr, 10, 64); err == nil && l > 0 && l <= maxHistoryLimit {
			limit = l
		}
	}
	before := int64(math.MaxInt64)
	if beforeStr := c.Query("before"); beforeStr != "" {
		b, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil || b <= 0 {
			badRequest(c, "before must be a timestamp in milliseconds")
			return
		}
		before = b
	}
	beforeID := c.Query("beforeId")
	if beforeID != "" && c.Query("before") == "" {
		badRequest(c, "beforeId requires before")
		return
	}

	member, err := h.queries.GetRoomMember(ctx, roomID, subjectID)
	switch {
	case errors.Is(err, sql.ErrNoRows) || (err == nil && member.IsActive == 0):
		writeError(c, fmt.Errorf("%w: not a member of this room", realtime.ErrAuthorization))
		return
	case err != nil:
		writeError(c, fmt.Errorf("%w: check membership: %v", realtime.ErrPersistence, err))
		return
	}

	// One extra row tells whether an older page exists.
	rows, err := h.queries.ListRoomMessages(ctx, models.ListRoomMessagesParams{
		RoomID:   roomID,
		BeforeMs: before,
		BeforeID: beforeID,
		Limit:    limit + 1,
	})
	if err != nil {
		writeError(c, fmt.Errorf("%w: list messages: %v", realtime.ErrPersistence, err))
		return
	}
	hasMore := int64(len(rows)) > limit
	if hasMore {
		rows = rows[:limit]
	}

	messages, err := h.withReactions(ctx, rows)
	if err != nil {
		writeError(c, err)
		return
	}
	// rows are newest first; clients get oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	resp := gin.H{"messages": messages, "hasMore": hasMore}
	if hasMore {
		oldest := rows[len(rows)-1]
		resp["next"] = HistoryCursor{Before: oldest.CreatedAtMs, BeforeID: oldest.ID}
	}
	c.JSON(http.StatusOK, resp)
}

// EditMessage handles PUT /v1/messages/:id. Only the sender may edit; room
// subscribers receive message_edited.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	msg, err := h.hub.Coordinator.Edit(c.Request.Context(), subjectID, c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage handles DELETE /v1/messages/:id. The sender or a room admin
// may delete.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)

	ev, err := h.hub.Coordinator.Delete(c.Request.Context(), subjectID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": ev.MessageID, "roomId": ev.RoomID})
}

// AddReaction handles POST /v1/messages/:id/reactions.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	h.react(c, true)
}

// RemoveReaction handles DELETE /v1/messages/:id/reactions. The emoji may come
// from the body or the emoji query parameter.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	h.react(c, false)
}

func (h *MessageHandler) react(c *gin.Context, add bool) {
	subjectID, _ := middleware.GetSubjectID(c)
	messageID := c.Param("id")
	ctx := c.Request.Context()

	var req ReactionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.Emoji == "" {
		req.Emoji = c.Query("emoji")
	}

	if _, err := h.hub.Coordinator.React(ctx, subjectID, messageID, req.Emoji, add); err != nil {
		writeError(c, err)
		return
	}

	row, err := h.queries.GetMessageByID(ctx, messageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(c, fmt.Errorf("%w: message %s", realtime.ErrNotFound, messageID))
		return
	case err != nil:
		writeError(c, fmt.Errorf("%w: get message: %v", realtime.ErrPersistence, err))
		return
	}
	messages, err := h.withReactions(ctx, []models.Message{row})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": messages[0]})
}

func (h *MessageHandler) withReactions(ctx context.Context, rows []models.Message) ([]wire.MessageInfo, error) {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	reactions, err := h.queries.ListReactionsByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: list reactions: %v", realtime.ErrPersistence, err)
	}
	out := make([]wire.MessageInfo, len(rows))
	for i, row := range rows {
		out[i] = realtime.MessageFromRow(row, reactions[row.ID])
	}
	return out, nil
}

// SendMessage handles POST /v1/rooms/:id/messages. It goes through the same
// coordinator as send_message, so subscribers see an identical new_message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	res, err := h.hub.Coordinator.Submit(c.Request.Context(), realtime.SubmitRequest{
		RoomID:         c.Param("id"),
		SenderID:       subjectID,
		Content:        req.Content,
		Kind:           req.Kind,
		ReplyToID:      req.ReplyToID,
		Attachments:    req.Attachments,
		IdempotencyKey: key,
		Source:         "http",
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"message": res.Message})
}
