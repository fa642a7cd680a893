package migrations

import (
	"context"
	"database/sql"

	"github.com/bhandras/huddle/shared/logger"
)

// BackfillRoomLastMessage fills the denormalized last message summary for
// rooms imported without one.
func BackfillRoomLastMessage(db *sql.DB) error {
	ctx := context.Background()

	rows, err := db.QueryContext(ctx, `
SELECT r.id, m.id, m.sender_id, m.content, m.created_at_ms
FROM rooms r
JOIN messages m ON m.id = (
	SELECT id FROM messages
	WHERE room_id = r.id AND is_deleted = 0
	ORDER BY created_at_ms DESC, id DESC
	LIMIT 1
)
WHERE r.last_message_id IS NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type item struct {
		roomID    string
		messageID string
		senderID  string
		content   string
		atMs      int64
	}
	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.roomID, &it.messageID, &it.senderID, &it.content, &it.atMs); err != nil {
			return err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	logger.Infof("[Migration] Backfilling last message for %d rooms", len(items))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
UPDATE rooms
SET last_message_id = ?, last_message_sender_id = ?, last_message_preview = ?, last_message_at_ms = ?
WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.messageID, it.senderID, Preview(it.content), it.atMs, it.roomID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Preview truncates message content for the room summary.
func Preview(content string) string {
	const maxRunes = 100
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes])
}
