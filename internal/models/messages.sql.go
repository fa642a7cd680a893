package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const messageColumns = `id, room_id, sender_id, content, kind, reply_to_id, attachments,
	is_edited, edited_at_ms, is_deleted, deleted_at_ms, idempotency_key, created_at_ms, updated_at_ms`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var i Message
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.SenderID,
		&i.Content,
		&i.Kind,
		&i.ReplyToID,
		&i.Attachments,
		&i.IsEdited,
		&i.EditedAtMs,
		&i.IsDeleted,
		&i.DeletedAtMs,
		&i.IdempotencyKey,
		&i.CreatedAtMs,
		&i.UpdatedAtMs,
	)
	return i, err
}

const createMessage = `
INSERT INTO messages (id, room_id, sender_id, content, kind, reply_to_id, attachments, idempotency_key, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + messageColumns

type CreateMessageParams struct {
	ID             string
	RoomID         string
	SenderID       string
	Content        string
	Kind           string
	ReplyToID      sql.NullString
	Attachments    string
	IdempotencyKey sql.NullString
	AtMs           int64
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	row := q.db.QueryRowContext(ctx, createMessage,
		arg.ID,
		arg.RoomID,
		arg.SenderID,
		arg.Content,
		arg.Kind,
		arg.ReplyToID,
		arg.Attachments,
		arg.IdempotencyKey,
		arg.AtMs,
		arg.AtMs,
	)
	return scanMessage(row)
}

const getMessageByID = `SELECT ` + messageColumns + ` FROM messages WHERE id = ? LIMIT 1`

func (q *Queries) GetMessageByID(ctx context.Context, id string) (Message, error) {
	return scanMessage(q.db.QueryRowContext(ctx, getMessageByID, id))
}

const getMessageByIdempotencyKey = `
SELECT ` + messageColumns + `
FROM messages
WHERE room_id = ? AND sender_id = ? AND idempotency_key = ?
LIMIT 1`

func (q *Queries) GetMessageByIdempotencyKey(ctx context.Context, roomID, senderID, key string) (Message, error) {
	return scanMessage(q.db.QueryRowContext(ctx, getMessageByIdempotencyKey, roomID, senderID, key))
}

const updateMessageContent = `
UPDATE messages
SET content = ?, is_edited = 1, edited_at_ms = ?, updated_at_ms = ?
WHERE id = ? AND is_deleted = 0
RETURNING ` + messageColumns

// UpdateMessageContent edits a live message. Tombstoned messages yield
// sql.ErrNoRows.
func (q *Queries) UpdateMessageContent(ctx context.Context, id, content string, atMs int64) (Message, error) {
	return scanMessage(q.db.QueryRowContext(ctx, updateMessageContent, content, atMs, atMs, id))
}

const softDeleteMessage = `
UPDATE messages
SET is_deleted = 1, deleted_at_ms = ?, updated_at_ms = ?
WHERE id = ? AND is_deleted = 0`

// SoftDeleteMessage sets the tombstone flag; content is retained.
func (q *Queries) SoftDeleteMessage(ctx context.Context, id string, atMs int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, softDeleteMessage, atMs, atMs, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listRoomMessages = `
SELECT ` + messageColumns + `
FROM messages
WHERE room_id = ? AND is_deleted = 0
	AND (created_at_ms < ? OR (created_at_ms = ? AND id < ?))
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`

// ListRoomMessagesParams pages with a (BeforeMs, BeforeID) cursor. An empty
// BeforeID excludes every message created at BeforeMs.
type ListRoomMessagesParams struct {
	RoomID   string
	BeforeMs int64
	BeforeID string
	Limit    int64
}

// ListRoomMessages returns live messages newest first.
func (q *Queries) ListRoomMessages(ctx context.Context, arg ListRoomMessagesParams) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, listRoomMessages,
		arg.RoomID,
		arg.BeforeMs,
		arg.BeforeMs,
		arg.BeforeID,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		i, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const addMessageReaction = `
INSERT INTO message_reactions (message_id, subject_id, emoji, created_at_ms)
SELECT ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM messages WHERE id = ? AND is_deleted = 0)
ON CONFLICT(message_id, subject_id, emoji) DO NOTHING`

type AddMessageReactionParams struct {
	MessageID string
	SubjectID string
	Emoji     string
	AtMs      int64
}

// AddMessageReaction returns 0 when the pair already existed or the message
// is missing or tombstoned.
func (q *Queries) AddMessageReaction(ctx context.Context, arg AddMessageReactionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, addMessageReaction,
		arg.MessageID,
		arg.SubjectID,
		arg.Emoji,
		arg.AtMs,
		arg.MessageID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const removeMessageReaction = `
DELETE FROM message_reactions
WHERE message_id = ? AND subject_id = ? AND emoji = ?`

// RemoveMessageReaction returns 0 when the pair was absent.
func (q *Queries) RemoveMessageReaction(ctx context.Context, messageID, subjectID, emoji string) (int64, error) {
	res, err := q.db.ExecContext(ctx, removeMessageReaction, messageID, subjectID, emoji)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListReactionsByMessageIDs returns messageID -> reactions ordered by time.
func (q *Queries) ListReactionsByMessageIDs(ctx context.Context, messageIDs []string) (map[string][]MessageReaction, error) {
	out := make(map[string][]MessageReaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(messageIDs)), ",")
	args := make([]any, 0, len(messageIDs))
	for _, id := range messageIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
SELECT message_id, subject_id, emoji, created_at_ms
FROM message_reactions
WHERE message_id IN (%s)
ORDER BY created_at_ms, subject_id, emoji`, placeholders)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r MessageReaction
		if err := rows.Scan(&r.MessageID, &r.SubjectID, &r.Emoji, &r.CreatedAtMs); err != nil {
			return nil, err
		}
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
