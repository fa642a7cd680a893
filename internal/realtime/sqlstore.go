package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/bhandras/huddle/internal/database/migrations"
	"github.com/bhandras/huddle/internal/models"
	pkgtypes "github.com/bhandras/huddle/pkg/types"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on top of the generated queries.
type SQLStore struct {
	Queries *models.Queries
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) ProvisionSubject(ctx context.Context, externalID, displayName, photoURL string) (Subject, error) {
	row, err := s.Queries.UpsertSubject(ctx, models.UpsertSubjectParams{
		ID:          pkgtypes.NewID(),
		ExternalID:  externalID,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		AtMs:        time.Now().UnixMilli(),
	})
	if err != nil {
		return Subject{}, err
	}
	return subjectFromRow(row), nil
}

func (s *SQLStore) FindSubjectByExternalID(ctx context.Context, externalID string) (Subject, error) {
	row, err := s.Queries.GetSubjectByExternalID(ctx, externalID)
	if err != nil {
		return Subject{}, err
	}
	return subjectFromRow(row), nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, subjectID, status string, lastSeen time.Time) error {
	_, err := s.Queries.UpdateSubjectStatus(ctx, models.UpdateSubjectStatusParams{
		ID:         subjectID,
		Status:     status,
		LastSeenMs: lastSeen.UnixMilli(),
	})
	return err
}

func (s *SQLStore) FindRoom(ctx context.Context, roomID string) (Room, error) {
	row, err := s.Queries.GetRoomByID(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	return RoomFromRow(row), nil
}

func (s *SQLStore) AddMember(ctx context.Context, roomID, subjectID, role string) (bool, error) {
	n, err := s.Queries.AddRoomMember(ctx, models.AddRoomMemberParams{
		RoomID:     roomID,
		SubjectID:  subjectID,
		Role:       role,
		JoinedAtMs: time.Now().UnixMilli(),
	})
	return n > 0, err
}

func (s *SQLStore) RemoveMember(ctx context.Context, roomID, subjectID string) (bool, error) {
	n, err := s.Queries.RemoveRoomMember(ctx, roomID, subjectID)
	return n > 0, err
}

func (s *SQLStore) MemberRole(ctx context.Context, roomID, subjectID string) (string, bool, error) {
	m, err := s.Queries.GetRoomMember(ctx, roomID, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if m.IsActive == 0 {
		return "", false, nil
	}
	return m.Role, true, nil
}

func (s *SQLStore) ListMemberRooms(ctx context.Context, subjectID string) ([]Room, error) {
	rows, err := s.Queries.ListRoomsForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]Room, 0, len(rows))
	for _, row := range rows {
		out = append(out, RoomFromRow(row))
	}
	return out, nil
}

func (s *SQLStore) UpdateLastMessage(ctx context.Context, msg wire.MessageInfo) error {
	return s.Queries.UpdateRoomLastMessage(ctx, models.UpdateRoomLastMessageParams{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Preview:   migrations.Preview(msg.Content),
		AtMs:      msg.CreatedAt,
	})
}

func (s *SQLStore) CreateMessage(ctx context.Context, msg NewMessage) (wire.MessageInfo, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []wire.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return wire.MessageInfo{}, err
	}

	var replyTo sql.NullString
	if msg.ReplyToID != nil && *msg.ReplyToID != "" {
		replyTo = sql.NullString{String: *msg.ReplyToID, Valid: true}
	}
	var key sql.NullString
	if msg.IdempotencyKey != "" {
		key = sql.NullString{String: msg.IdempotencyKey, Valid: true}
	}

	row, err := s.Queries.CreateMessage(ctx, models.CreateMessageParams{
		ID:             pkgtypes.NewID(),
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Kind:           msg.Kind,
		ReplyToID:      replyTo,
		Attachments:    string(encoded),
		IdempotencyKey: key,
		AtMs:           msg.At.UnixMilli(),
	})
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return wire.MessageInfo{}, errDuplicateKey
		}
		return wire.MessageInfo{}, err
	}
	return MessageFromRow(row, nil), nil
}

func (s *SQLStore) FindMessage(ctx context.Context, messageID string) (wire.MessageInfo, error) {
	row, err := s.Queries.GetMessageByID(ctx, messageID)
	if err != nil {
		return wire.MessageInfo{}, err
	}
	return s.withReactions(ctx, row)
}

func (s *SQLStore) FindByIdempotencyKey(ctx context.Context, roomID, senderID, key string) (wire.MessageInfo, bool, error) {
	row, err := s.Queries.GetMessageByIdempotencyKey(ctx, roomID, senderID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.MessageInfo{}, false, nil
	}
	if err != nil {
		return wire.MessageInfo{}, false, err
	}
	msg, err := s.withReactions(ctx, row)
	return msg, err == nil, err
}

func (s *SQLStore) UpdateContent(ctx context.Context, messageID, content string, at time.Time) (wire.MessageInfo, error) {
	row, err := s.Queries.UpdateMessageContent(ctx, messageID, content, at.UnixMilli())
	if err != nil {
		return wire.MessageInfo{}, err
	}
	return s.withReactions(ctx, row)
}

func (s *SQLStore) SoftDelete(ctx context.Context, messageID string, at time.Time) (bool, error) {
	n, err := s.Queries.SoftDeleteMessage(ctx, messageID, at.UnixMilli())
	return n > 0, err
}

func (s *SQLStore) AddReaction(ctx context.Context, messageID, subjectID, emoji string, at time.Time) (bool, error) {
	n, err := s.Queries.AddMessageReaction(ctx, models.AddMessageReactionParams{
		MessageID: messageID,
		SubjectID: subjectID,
		Emoji:     emoji,
		AtMs:      at.UnixMilli(),
	})
	return n > 0, err
}

func (s *SQLStore) RemoveReaction(ctx context.Context, messageID, subjectID, emoji string) (bool, error) {
	n, err := s.Queries.RemoveMessageReaction(ctx, messageID, subjectID, emoji)
	return n > 0, err
}

func (s *SQLStore) withReactions(ctx context.Context, row models.Message) (wire.MessageInfo, error) {
	byMsg, err := s.Queries.ListReactionsByMessageIDs(ctx, []string{row.ID})
	if err != nil {
		return wire.MessageInfo{}, err
	}
	return MessageFromRow(row, byMsg[row.ID]), nil
}

// RoomFromRow converts a stored room.
func RoomFromRow(row models.Room) Room {
	room := Room{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Type:        row.Type,
		MaxMembers:  int(row.MaxMembers),
		CreatedBy:   row.CreatedBy,
		Active:      row.IsActive != 0,
		CreatedAt:   time.UnixMilli(row.CreatedAtMs),
	}
	if row.LastMessageAtMs.Valid {
		room.LastMessageAt = time.UnixMilli(row.LastMessageAtMs.Int64)
	}
	return room
}

// MessageFromRow converts a stored message and its reactions to the wire
// shape. Tombstoned messages have their content blanked.
func MessageFromRow(row models.Message, reactions []models.MessageReaction) wire.MessageInfo {
	msg := wire.MessageInfo{
		ID:          row.ID,
		RoomID:      row.RoomID,
		SenderID:    row.SenderID,
		Content:     row.Content,
		Kind:        row.Kind,
		Attachments: []wire.Attachment{},
		IsEdited:    row.IsEdited != 0,
		IsDeleted:   row.IsDeleted != 0,
		Reactions:   make([]wire.Reaction, 0, len(reactions)),
		CreatedAt:   row.CreatedAtMs,
		UpdatedAt:   row.UpdatedAtMs,
	}
	if row.ReplyToID.Valid {
		id := row.ReplyToID.String
		msg.ReplyToID = &id
	}
	if row.EditedAtMs.Valid {
		msg.EditedAt = row.EditedAtMs.Int64
	}
	if row.IdempotencyKey.Valid {
		msg.IdempotencyKey = row.IdempotencyKey.String
	}
	if row.Attachments != "" {
		_ = json.Unmarshal([]byte(row.Attachments), &msg.Attachments)
	}
	if msg.IsDeleted {
		msg.Content = ""
		msg.Attachments = []wire.Attachment{}
	}
	for _, r := range reactions {
		msg.Reactions = append(msg.Reactions, wire.Reaction{
			UserID:    r.SubjectID,
			Emoji:     r.Emoji,
			CreatedAt: r.CreatedAtMs,
		})
	}
	return msg
}

func subjectFromRow(row models.Subject) Subject {
	return Subject{
		ID:          row.ID,
		ExternalID:  row.ExternalID,
		DisplayName: row.DisplayName,
		PhotoURL:    row.PhotoURL,
		Status:      row.Status,
		LastSeen:    time.UnixMilli(row.LastSeenMs),
	}
}
