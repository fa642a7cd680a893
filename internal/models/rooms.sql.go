package models

import (
	"context"
	"database/sql"
)

const roomColumns = `id, name, description, type, max_members, created_by, is_active,
	last_message_id, last_message_preview, last_message_sender_id, last_message_at_ms,
	created_at_ms, updated_at_ms`

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var i Room
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.Type,
		&i.MaxMembers,
		&i.CreatedBy,
		&i.IsActive,
		&i.LastMessageID,
		&i.LastMessagePreview,
		&i.LastMessageSenderID,
		&i.LastMessageAtMs,
		&i.CreatedAtMs,
		&i.UpdatedAtMs,
	)
	return i, err
}

func collectRooms(rows *sql.Rows) ([]Room, error) {
	defer rows.Close()
	var items []Room
	for rows.Next() {
		i, err := scanRoom(rows)
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

const createRoom = `
INSERT INTO rooms (id, name, description, type, max_members, created_by, is_active, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
RETURNING ` + roomColumns

type CreateRoomParams struct {
	ID          string
	Name        string
	Description string
	Type        string
	MaxMembers  int64
	CreatedBy   string
	AtMs        int64
}

func (q *Queries) CreateRoom(ctx context.Context, arg CreateRoomParams) (Room, error) {
	row := q.db.QueryRowContext(ctx, createRoom,
		arg.ID,
		arg.Name,
		arg.Description,
		arg.Type,
		arg.MaxMembers,
		arg.CreatedBy,
		arg.AtMs,
		arg.AtMs,
	)
	return scanRoom(row)
}

const getRoomByID = `SELECT ` + roomColumns + ` FROM rooms WHERE id = ? LIMIT 1`

func (q *Queries) GetRoomByID(ctx context.Context, id string) (Room, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getRoomByID, id))
}

const listRoomsForSubject = `
SELECT r.id, r.name, r.description, r.type, r.max_members, r.created_by, r.is_active,
	r.last_message_id, r.last_message_preview, r.last_message_sender_id, r.last_message_at_ms,
	r.created_at_ms, r.updated_at_ms
FROM rooms r
JOIN room_members m ON m.room_id = r.id
WHERE m.subject_id = ? AND m.is_active = 1 AND r.is_active = 1
ORDER BY COALESCE(r.last_message_at_ms, r.created_at_ms) DESC`

// ListRoomsForSubject returns active rooms the subject is an active member of.
func (q *Queries) ListRoomsForSubject(ctx context.Context, subjectID string) ([]Room, error) {
	rows, err := q.db.QueryContext(ctx, listRoomsForSubject, subjectID)
	if err != nil {
		return nil, err
	}
	return collectRooms(rows)
}

const listPublicRooms = `
SELECT ` + roomColumns + `
FROM rooms
WHERE type = 'public' AND is_active = 1
ORDER BY created_at_ms DESC
LIMIT ?`

func (q *Queries) ListPublicRooms(ctx context.Context, limit int64) ([]Room, error) {
	rows, err := q.db.QueryContext(ctx, listPublicRooms, limit)
	if err != nil {
		return nil, err
	}
	return collectRooms(rows)
}

const updateRoomLastMessage = `
UPDATE rooms
SET last_message_id = ?, last_message_sender_id = ?, last_message_preview = ?,
	last_message_at_ms = ?, updated_at_ms = ?
WHERE id = ?`

type UpdateRoomLastMessageParams struct {
	RoomID    string
	MessageID string
	SenderID  string
	Preview   string
	AtMs      int64
}

func (q *Queries) UpdateRoomLastMessage(ctx context.Context, arg UpdateRoomLastMessageParams) error {
	_, err := q.db.ExecContext(ctx, updateRoomLastMessage,
		arg.MessageID,
		arg.SenderID,
		arg.Preview,
		arg.AtMs,
		arg.AtMs,
		arg.RoomID,
	)
	return err
}

const addRoomMember = `
INSERT INTO room_members (room_id, subject_id, role, is_active, joined_at_ms)
SELECT ?, ?, ?, 1, ?
WHERE EXISTS (SELECT 1 FROM rooms WHERE id = ? AND is_active = 1)
	AND (SELECT COUNT(*) FROM room_members WHERE room_id = ? AND is_active = 1)
		< (SELECT max_members FROM rooms WHERE id = ?)
ON CONFLICT(room_id, subject_id) DO UPDATE SET
	is_active = 1,
	role = excluded.role,
	joined_at_ms = excluded.joined_at_ms
WHERE room_members.is_active = 0`

type AddRoomMemberParams struct {
	RoomID     string
	SubjectID  string
	Role       string
	JoinedAtMs int64
}

// AddRoomMember inserts or reactivates a membership in one statement, gated on
// the room being active and below capacity. It returns 0 when nothing
// changed (already an active member, room full or inactive).
func (q *Queries) AddRoomMember(ctx context.Context, arg AddRoomMemberParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, addRoomMember,
		arg.RoomID,
		arg.SubjectID,
		arg.Role,
		arg.JoinedAtMs,
		arg.RoomID,
		arg.RoomID,
		arg.RoomID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const removeRoomMember = `
UPDATE room_members SET is_active = 0
WHERE room_id = ? AND subject_id = ? AND is_active = 1`

// RemoveRoomMember deactivates a membership. It returns 0 when the subject
// was not an active member.
func (q *Queries) RemoveRoomMember(ctx context.Context, roomID, subjectID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, removeRoomMember, roomID, subjectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getRoomMember = `
SELECT room_id, subject_id, role, is_active, joined_at_ms
FROM room_members
WHERE room_id = ? AND subject_id = ?
LIMIT 1`

func (q *Queries) GetRoomMember(ctx context.Context, roomID, subjectID string) (RoomMember, error) {
	var i RoomMember
	err := q.db.QueryRowContext(ctx, getRoomMember, roomID, subjectID).Scan(
		&i.RoomID,
		&i.SubjectID,
		&i.Role,
		&i.IsActive,
		&i.JoinedAtMs,
	)
	return i, err
}

const countActiveRoomMembers = `SELECT COUNT(*) FROM room_members WHERE room_id = ? AND is_active = 1`

func (q *Queries) CountActiveRoomMembers(ctx context.Context, roomID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countActiveRoomMembers, roomID).Scan(&n)
	return n, err
}

const listActiveRoomMembers = `
SELECT m.subject_id, m.role, m.joined_at_ms, s.display_name, s.photo_url, s.status, s.last_seen_ms
FROM room_members m
JOIN subjects s ON s.id = m.subject_id
WHERE m.room_id = ? AND m.is_active = 1
ORDER BY m.joined_at_ms, m.subject_id`

type ActiveRoomMemberRow struct {
	SubjectID   string
	Role        string
	JoinedAtMs  int64
	DisplayName string
	PhotoURL    string
	Status      string
	LastSeenMs  int64
}

// ListActiveRoomMembers returns the active members of a room with their
// profile, oldest membership first.
func (q *Queries) ListActiveRoomMembers(ctx context.Context, roomID string) ([]ActiveRoomMemberRow, error) {
	rows, err := q.db.QueryContext(ctx, listActiveRoomMembers, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ActiveRoomMemberRow
	for rows.Next() {
		var i ActiveRoomMemberRow
		if err := rows.Scan(
			&i.SubjectID,
			&i.Role,
			&i.JoinedAtMs,
			&i.DisplayName,
			&i.PhotoURL,
			&i.Status,
			&i.LastSeenMs,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
