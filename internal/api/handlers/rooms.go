package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/huddle/internal/api/middleware"
	"github.com/bhandras/huddle/internal/models"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/pkg/types"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/gin-gonic/gin"
)

const (
	defaultMaxMembers = 100
	maxRoomNameLength = 100
	maxDescription    = 500
	publicRoomsLimit  = 50
)

type RoomHandler struct {
	db      *sql.DB
	queries *models.Queries
	hub     *realtime.Hub
}

func NewRoomHandler(db *sql.DB, hub *realtime.Hub) *RoomHandler {
	return &RoomHandler{
		db:      db,
		queries: models.New(db),
		hub:     hub,
	}
}

// RoomResponse represents a room in API responses
type RoomResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	MaxMembers  int64            `json:"maxMembers"`
	MemberCount *int64           `json:"memberCount,omitempty"`
	CreatedBy   string           `json:"createdBy"`
	LastMessage *LastMessageInfo `json:"lastMessage,omitempty"`
	CreatedAt   int64            `json:"createdAt"`
	UpdatedAt   int64            `json:"updatedAt"`
}

// LastMessageInfo is the room list summary of the newest message.
type LastMessageInfo struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
	Preview  string `json:"preview"`
	At       int64  `json:"at"`
}

// CreateRoomRequest represents the request to create a room
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type"`
	MaxMembers  int64  `json:"maxMembers"`
}

// ListRooms handles GET /v1/rooms
func (h *RoomHandler) ListRooms(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)

	rooms, err := h.queries.ListRoomsForSubject(c.Request.Context(), subjectID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: list rooms: %v", realtime.ErrPersistence, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": toRoomResponses(rooms)})
}

// ListPublicRooms handles GET /v1/rooms/public. Each entry carries its
// current member count so clients can tell full rooms apart.
func (h *RoomHandler) ListPublicRooms(c *gin.Context) {
	ctx := c.Request.Context()
	rooms, err := h.queries.ListPublicRooms(ctx, publicRoomsLimit)
	if err != nil {
		writeError(c, fmt.Errorf("%w: list public rooms: %v", realtime.ErrPersistence, err))
		return
	}

	resp := toRoomResponses(rooms)
	for i := range resp {
		n, err := h.queries.CountActiveRoomMembers(ctx, resp[i].ID)
		if err != nil {
			writeError(c, fmt.Errorf("%w: count members: %v", realtime.ErrPersistence, err))
			return
		}
		resp[i].MemberCount = &n
	}
	c.JSON(http.StatusOK, gin.H{"rooms": resp})
}

// RoomMemberResponse is one active member in GET /v1/rooms/:id.
type RoomMemberResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	LastSeen    int64  `json:"lastSeen"`
	JoinedAt    int64  `json:"joinedAt"`
}

// GetRoom handles GET /v1/rooms/:id. Only active members may read a room and
// its member list.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)
	roomID := c.Param("id")
	ctx := c.Request.Context()

	room, err := h.queries.GetRoomByID(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && room.IsActive == 0) {
		writeError(c, fmt.Errorf("%w: room not found", realtime.ErrNotFound))
		return
	}
	if err != nil {
		writeError(c, fmt.Errorf("%w: get room: %v", realtime.ErrPersistence, err))
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

	rows, err := h.queries.ListActiveRoomMembers(ctx, roomID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: list members: %v", realtime.ErrPersistence, err))
		return
	}
	members := make([]RoomMemberResponse, len(rows))
	for i, row := range rows {
		members[i] = RoomMemberResponse{
			ID:          row.SubjectID,
			DisplayName: row.DisplayName,
			PhotoURL:    row.PhotoURL,
			Role:        row.Role,
			Status:      row.Status,
			LastSeen:    row.LastSeenMs,
			JoinedAt:    row.JoinedAtMs,
		}
		// Live presence wins over the persisted status.
		if p, ok := h.hub.Presence.Get(row.SubjectID); ok {
			members[i].Status = p.Status
		}
	}

	resp := toRoomResponse(room)
	count := int64(len(members))
	resp.MemberCount = &count
	c.JSON(http.StatusOK, gin.H{"room": resp, "members": members})
}

// CreateRoom handles POST /v1/rooms. The creator becomes the room's admin.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len([]rune(req.Name)) > maxRoomNameLength {
		badRequest(c, "name must be 1-100 characters")
		return
	}
	if len([]rune(req.Description)) > maxDescription {
		badRequest(c, "description must be at most 500 characters")
		return
	}
	switch req.Type {
	case "":
		req.Type = realtime.RoomPublic
	case realtime.RoomPublic, realtime.RoomPrivate, realtime.RoomDirect:
	default:
		badRequest(c, "type must be public, private or direct")
		return
	}
	if req.MaxMembers == 0 {
		req.MaxMembers = defaultMaxMembers
	}
	if req.MaxMembers < 2 {
		badRequest(c, "maxMembers must be at least 2")
		return
	}

	room, err := h.createRoom(c.Request.Context(), subjectID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	// A connected creator is subscribed right away.
	h.subscribeLive(c.Request.Context(), subjectID, room.ID)

	c.JSON(http.StatusCreated, gin.H{"room": toRoomResponse(room)})
}

func (h *RoomHandler) createRoom(ctx context.Context, subjectID string, req CreateRoomRequest) (models.Room, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Room{}, fmt.Errorf("%w: begin: %v", realtime.ErrPersistence, err)
	}
	defer tx.Rollback()

	q := h.queries.WithTx(tx)
	now := time.Now().UnixMilli()
	room, err := q.CreateRoom(ctx, models.CreateRoomParams{
		ID:          types.NewID(),
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		MaxMembers:  req.MaxMembers,
		CreatedBy:   subjectID,
		AtMs:        now,
	})
	if err != nil {
		return models.Room{}, fmt.Errorf("%w: create room: %v", realtime.ErrPersistence, err)
	}
	if _, err := q.AddRoomMember(ctx, models.AddRoomMemberParams{
		RoomID:     room.ID,
		SubjectID:  subjectID,
		Role:       realtime.RoleAdmin,
		JoinedAtMs: now,
	}); err != nil {
		return models.Room{}, fmt.Errorf("%w: add creator: %v", realtime.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Room{}, fmt.Errorf("%w: commit: %v", realtime.ErrPersistence, err)
	}
	return room, nil
}

// JoinRoom handles POST /v1/rooms/:id/join. Only public rooms can be joined
// without an invitation.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)
	roomID := c.Param("id")
	ctx := c.Request.Context()

	room, err := h.queries.GetRoomByID(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && room.IsActive == 0) {
		writeError(c, fmt.Errorf("%w: room not found", realtime.ErrNotFound))
		return
	}
	if err != nil {
		writeError(c, fmt.Errorf("%w: get room: %v", realtime.ErrPersistence, err))
		return
	}
	if room.Type != realtime.RoomPublic {
		writeError(c, fmt.Errorf("%w: cannot join a %s room", realtime.ErrAuthorization, room.Type))
		return
	}

	if err := h.hub.Router.AddMember(ctx, roomID, subjectID, realtime.RoleMember); err != nil {
		writeError(c, err)
		return
	}
	h.subscribeLive(ctx, subjectID, roomID)

	c.JSON(http.StatusOK, types.SuccessResponse{Success: true})
}

// LeaveRoom handles POST /v1/rooms/:id/leave. A live subscription is evicted
// together with the durable membership.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	subjectID, _ := middleware.GetSubjectID(c)

	if err := h.hub.Router.RemoveMember(c.Request.Context(), c.Param("id"), subjectID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse{Success: true})
}

// subscribeLive joins the subject's connected session, if any, to roomID.
func (h *RoomHandler) subscribeLive(ctx context.Context, subjectID, roomID string) {
	s, ok := h.hub.Registry.Get(subjectID)
	if !ok {
		return
	}
	if _, err := h.hub.Router.Join(ctx, s, roomID); err != nil {
		logger.Debugf("Live subscribe of %s to %s failed: %v", subjectID, roomID, err)
		return
	}
	s.Emit(wire.EventJoinedRoom, wire.RoomAck{RoomID: roomID})
}

func toRoomResponses(rooms []models.Room) []RoomResponse {
	out := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		out[i] = toRoomResponse(room)
	}
	return out
}

func toRoomResponse(room models.Room) RoomResponse {
	resp := RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		Type:        room.Type,
		MaxMembers:  room.MaxMembers,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   room.CreatedAtMs,
		UpdatedAt:   room.UpdatedAtMs,
	}
	if room.LastMessageID.Valid {
		resp.LastMessage = &LastMessageInfo{
			ID:       room.LastMessageID.String,
			SenderID: room.LastMessageSenderID.String,
			Preview:  room.LastMessagePreview,
			At:       room.LastMessageAtMs.Int64,
		}
	}
	return resp
}
