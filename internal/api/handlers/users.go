package handlers

import (
	"fmt"
	"net/http"

	"github.com/bhandras/huddle/internal/models"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	queries *models.Queries
	hub     *realtime.Hub
}

func NewUserHandler(queries *models.Queries, hub *realtime.Hub) *UserHandler {
	return &UserHandler{
		queries: queries,
		hub:     hub,
	}
}

// OnlineUser is a connected subject with its presence.
type OnlineUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Status      string `json:"status"`
	LastSeen    int64  `json:"lastSeen"`
}

// ListOnline handles GET /v1/users/online
func (h *UserHandler) ListOnline(c *gin.Context) {
	states := h.hub.Presence.Snapshot()

	ids := make([]string, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.SubjectID)
	}
	subjects, err := h.queries.ListSubjectsByIDs(c.Request.Context(), ids)
	if err != nil {
		writeError(c, fmt.Errorf("%w: list subjects: %v", realtime.ErrPersistence, err))
		return
	}
	byID := make(map[string]models.Subject, len(subjects))
	for _, s := range subjects {
		byID[s.ID] = s
	}

	users := make([]OnlineUser, 0, len(states))
	for _, st := range states {
		// Presence can briefly outlive a session being torn down.
		if !h.hub.Registry.IsConnected(st.SubjectID) {
			continue
		}
		sub := byID[st.SubjectID]
		users = append(users, OnlineUser{
			ID:          st.SubjectID,
			DisplayName: sub.DisplayName,
			PhotoURL:    sub.PhotoURL,
			Status:      st.Status,
			LastSeen:    st.LastSeen.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
